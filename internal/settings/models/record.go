package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"setman/internal/schema"
)

// Record is the single persisted row of overrides.
//
// Invariants:
//   - Data nests at most two levels: a top-level key holds either a project
//     override or a map of overrides for the app container of the same name
//   - at most one Record exists in the store (checked by the service on save)
//
// ID is zero until the record has been created in a store.
type Record struct {
	ID        int64          `json:"id"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"create_date"`
	UpdatedAt time.Time      `json:"update_date"`
}

// NewRecord returns an unsaved record with empty data.
func NewRecord() *Record {
	return &Record{Data: map[string]any{}}
}

// Get returns the override stored under name, or nil when there is none.
func (r *Record) Get(name string) any {
	if r.Data == nil {
		return nil
	}
	return r.Data[name]
}

// Set stores an override. It is not persisted until saved.
func (r *Record) Set(name string, value any) {
	if r.Data == nil {
		r.Data = map[string]any{}
	}
	r.Data[name] = value
}

// Delete removes an override if present.
func (r *Record) Delete(name string) {
	delete(r.Data, name)
}

// Has reports whether name holds a project-level override (not an app map).
func (r *Record) Has(name string) bool {
	v, ok := r.Data[name]
	if !ok {
		return false
	}
	_, isApp := v.(map[string]any)
	return !isApp
}

// App returns the overrides of one app container. With create set, a missing
// map is added to Data; otherwise nil is returned for it.
func (r *Record) App(name string, create bool) map[string]any {
	if app, ok := r.Data[name].(map[string]any); ok {
		return app
	}
	if !create {
		return nil
	}
	app := map[string]any{}
	r.Set(name, app)
	return app
}

// Revert replaces every stored override with its schema default. With app set,
// only that container's overrides are reverted. Stored keys the schema no
// longer declares are left as they are.
func (r *Record) Revert(s *schema.Schema, app string) {
	if app != "" {
		c, ok := s.Container(app)
		if !ok {
			return
		}
		revertScope(r.App(app, false), c)
		return
	}
	revertScope(r.Data, s)
}

func revertScope(data map[string]any, scope schema.Scope) {
	for name, value := range data {
		if c, ok := scope.Container(name); ok {
			if app, isApp := value.(map[string]any); isApp {
				revertScope(app, c)
			}
			continue
		}
		if d, ok := scope.Definition(name); ok {
			data[name] = d.Default
		}
	}
}

// Clean validates and coerces every override the schema declares, in place.
// Failures are collected into a ValidationError keyed by field name.
func (r *Record) Clean(s *schema.Schema) error {
	verr := &ValidationError{}
	cleanScope(r.Data, s, "", verr)
	return verr.orNil()
}

func cleanScope(data map[string]any, scope schema.Scope, prefix string, verr *ValidationError) {
	for name, value := range data {
		if c, ok := scope.Container(name); ok {
			app, isApp := value.(map[string]any)
			if !isApp {
				verr.add(name, fmt.Errorf("app settings must be a mapping"))
				continue
			}
			cleanScope(app, c, name+".", verr)
			continue
		}
		d, ok := scope.Definition(name)
		if !ok {
			continue
		}
		cleaned, err := d.Clean(value)
		if err != nil {
			verr.add(prefix+name, err)
			continue
		}
		data[name] = cleaned
	}
}

// GetRaw serializes Data for storage. Empty data is stored as "{}".
func (r *Record) GetRaw() ([]byte, error) {
	if r.Data == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(r.Data)
	if err != nil {
		return nil, fmt.Errorf("encode settings data: %w", err)
	}
	return raw, nil
}

// SetFromJSON replaces Data with the decoded raw text, coercing every value
// the schema declares to its Go type. Values that no longer coerce are kept
// as stored so the next Clean reports them.
func (r *Record) SetFromJSON(raw []byte, s *schema.Schema) error {
	data := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("decode settings data: %w", err)
		}
	}
	coerceScope(data, s)
	r.Data = data
	return nil
}

func coerceScope(data map[string]any, scope schema.Scope) {
	for name, value := range data {
		if c, ok := scope.Container(name); ok {
			if app, isApp := value.(map[string]any); isApp {
				coerceScope(app, c)
			}
			continue
		}
		d, ok := scope.Definition(name)
		if !ok {
			continue
		}
		if v, err := d.Coerce(value); err == nil {
			data[name] = v
		}
	}
}

// Clone returns a deep copy down to the app level.
func (r *Record) Clone() *Record {
	out := *r
	out.Data = make(map[string]any, len(r.Data))
	for k, v := range r.Data {
		if app, ok := v.(map[string]any); ok {
			v = maps.Clone(app)
		}
		out.Data[k] = v
	}
	return &out
}
