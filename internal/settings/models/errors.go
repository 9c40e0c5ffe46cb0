package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownSetting matches every UnknownSettingError via errors.Is.
	ErrUnknownSetting = errors.New("unknown setting")

	// ErrMultipleRecords is returned when persisting would leave more than one
	// settings record in the store, or when the store already holds several.
	ErrMultipleRecords = errors.New("only one settings record could be created")
)

// UnknownSettingError names a setting that is absent from host configuration,
// the persisted record and the schema.
type UnknownSettingError struct {
	Scope string
	Name  string
}

func (e *UnknownSettingError) Error() string {
	if e.Scope == "" {
		return fmt.Sprintf("Settings object has no setting %q", e.Name)
	}
	return fmt.Sprintf("Settings(%s) object has no setting %q", e.Scope, e.Name)
}

func (e *UnknownSettingError) Is(target error) bool {
	return target == ErrUnknownSetting
}

// ValidationError maps field names to messages. App settings are keyed as
// "app.NAME".
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid settings: " + strings.Join(parts, "; ")
}

// FieldErrors exposes the per-field messages to response writers.
func (e *ValidationError) FieldErrors() map[string]string {
	return e.Fields
}

func (e *ValidationError) add(field string, err error) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = err.Error()
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
