// Package command implements the administrative operations behind the setman
// CLI: printing the declared settings tree and storing schema defaults.
package command

import (
	"context"
	"fmt"
	"io"
	"strings"

	"setman/internal/schema"
)

// DefaultStorer writes every schema default into the settings record.
type DefaultStorer interface {
	StoreDefaults(ctx context.Context) (created bool, err error)
}

const indent = "    "

// Check prints the declared settings and the files they were declared in.
// Verbosity 0 prints nothing.
func Check(w io.Writer, s *schema.Schema, verbosity int) error {
	if verbosity == 0 {
		return nil
	}
	p := &printer{w: w}
	p.linef("Project settings:")
	p.linef("Configuration definition file placed at %q", s.Path)
	p.linef("")

	for _, entry := range s.Entries() {
		if entry.Container == nil {
			p.linef("%s%s", indent, entry.Setting)
			continue
		}
		c := entry.Container
		p.linef("%s%q settings:", indent, c.AppName)
		p.linef("%sConfiguration definition file placed at %q", indent, c.Path)
		for _, d := range c.Settings() {
			p.linef("%s%s", strings.Repeat(indent, 2), d)
		}
		p.linef("")
	}
	p.linef("")
	return p.err
}

// StoreDefaultValues stores every schema default, creating the record if
// there is none, and reports what happened unless verbosity is 0.
func StoreDefaultValues(ctx context.Context, w io.Writer, svc DefaultStorer, verbosity int) error {
	created, err := svc.StoreDefaults(ctx)
	if err != nil {
		return err
	}
	if verbosity == 0 {
		return nil
	}
	p := &printer{w: w}
	if created {
		p.linef("Created new settings record.")
	} else {
		p.linef("Settings record already existed.")
	}
	p.linef("Default values stored.")
	return p.err
}

// printer keeps the first write error so callers check once.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) linef(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}
