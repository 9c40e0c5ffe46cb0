package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

type fileDefinition struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Default  any      `yaml:"default"`
	Label    string   `yaml:"label"`
	HelpText string   `yaml:"help_text"`
	Required bool     `yaml:"required"`
	Choices  []string `yaml:"choices"`
	MinValue *float64 `yaml:"min_value"`
	MaxValue *float64 `yaml:"max_value"`
	Regex    string   `yaml:"regex"`
}

type fileApp struct {
	Name     string           `yaml:"name"`
	File     string           `yaml:"file"`
	Settings []fileDefinition `yaml:"settings"`
}

type fileSchema struct {
	Settings []fileDefinition `yaml:"settings"`
	Apps     []fileApp        `yaml:"apps"`
}

// Load reads and validates the schema file at path. App containers may point
// at their own file relative to the schema's directory.
func Load(path string) (*Schema, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings schema %s: %w", path, err)
	}
	return Parse(path, contents, func(name string) ([]byte, error) {
		return os.ReadFile(filepath.Join(filepath.Dir(path), name))
	})
}

// ReadFunc resolves an app's `file` reference.
type ReadFunc func(name string) ([]byte, error)

// Parse builds a Schema from YAML contents. path is kept for diagnostics only.
// Every problem found is reported in a single multierror.
func Parse(path string, contents []byte, read ReadFunc) (*Schema, error) {
	var raw fileSchema
	if err := decode(contents, &raw); err != nil {
		return nil, fmt.Errorf("parse settings schema %s: %w", path, err)
	}

	s := newSchema(path)
	var errs *multierror.Error

	for _, fd := range raw.Settings {
		d, err := buildDefinition(fd)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if s.Has(d.Name) {
			errs = multierror.Append(errs, fmt.Errorf("%s: duplicate setting %q", path, d.Name))
			continue
		}
		s.defs[d.Name] = d
		s.entries = append(s.entries, Entry{Setting: d})
	}

	for _, app := range raw.Apps {
		c, err := buildContainer(path, app, read)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if s.Has(c.AppName) {
			errs = multierror.Append(errs, fmt.Errorf("%s: app %q collides with an existing setting or app", path, c.AppName))
			continue
		}
		s.containers[c.AppName] = c
		s.entries = append(s.entries, Entry{Container: c})
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return s, nil
}

func buildContainer(path string, app fileApp, read ReadFunc) (*Container, error) {
	if app.Name == "" {
		return nil, fmt.Errorf("%s: app without a name", path)
	}

	c := newContainer(app.Name, path)
	defs := app.Settings
	if app.File != "" {
		if read == nil {
			return nil, fmt.Errorf("%s: app %q references %s but no reader was given", path, app.Name, app.File)
		}
		contents, err := read(app.File)
		if err != nil {
			return nil, fmt.Errorf("%s: read app %q settings: %w", path, app.Name, err)
		}
		var included struct {
			Settings []fileDefinition `yaml:"settings"`
		}
		if err := decode(contents, &included); err != nil {
			return nil, fmt.Errorf("%s: parse app %q settings: %w", app.File, app.Name, err)
		}
		c.Path = filepath.Join(filepath.Dir(path), app.File)
		defs = append(defs, included.Settings...)
	}

	var errs *multierror.Error
	for _, fd := range defs {
		d, err := buildDefinition(fd)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: app %q: %w", c.Path, app.Name, err))
			continue
		}
		if _, dup := c.index[d.Name]; dup {
			errs = multierror.Append(errs, fmt.Errorf("%s: app %q: duplicate setting %q", c.Path, app.Name, d.Name))
			continue
		}
		c.add(d)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return c, nil
}

func buildDefinition(fd fileDefinition) (*Definition, error) {
	if fd.Name == "" {
		return nil, fmt.Errorf("setting without a name")
	}
	kind := Kind(fd.Type)
	if kind == "" {
		kind = KindString
	}
	if !kind.valid() {
		return nil, fmt.Errorf("setting %q: unknown type %q", fd.Name, fd.Type)
	}
	if kind == KindChoice && len(fd.Choices) == 0 {
		return nil, fmt.Errorf("setting %q: choice type needs choices", fd.Name)
	}

	d := &Definition{
		Name:     fd.Name,
		Kind:     kind,
		Label:    fd.Label,
		HelpText: fd.HelpText,
		Required: fd.Required,
		Choices:  fd.Choices,
		MinValue: fd.MinValue,
		MaxValue: fd.MaxValue,
		Regex:    fd.Regex,
	}
	if fd.Regex != "" {
		re, err := regexp.Compile(fd.Regex)
		if err != nil {
			return nil, fmt.Errorf("setting %q: invalid regex: %w", fd.Name, err)
		}
		d.re = re
	}

	def, err := d.Clean(fd.Default)
	if err != nil {
		return nil, fmt.Errorf("setting %q: invalid default %v: %w", fd.Name, fd.Default, err)
	}
	d.Default = def
	return d, nil
}

func decode(contents []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(contents))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		// An empty document is a valid, empty schema.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}
