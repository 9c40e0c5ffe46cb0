// Package schema describes the settings that may be overridden at runtime:
// project-level definitions and named containers of per-app definitions.
// A Schema is immutable once loaded.
package schema

// Scope is a level of the settings tree: the project (Schema) or one app (Container).
type Scope interface {
	Definition(name string) (*Definition, bool)
	Container(name string) (*Container, bool)
}

// Container groups the definitions of one application. Containers do not nest.
type Container struct {
	AppName string
	Path    string

	defs  []*Definition
	index map[string]*Definition
}

func newContainer(appName, path string) *Container {
	return &Container{AppName: appName, Path: path, index: make(map[string]*Definition)}
}

func (c *Container) add(d *Definition) {
	c.defs = append(c.defs, d)
	c.index[d.Name] = d
}

// Settings returns the container's definitions in declaration order.
func (c *Container) Settings() []*Definition {
	return append([]*Definition(nil), c.defs...)
}

func (c *Container) Definition(name string) (*Definition, bool) {
	d, ok := c.index[name]
	return d, ok
}

// Container always reports false: containers hold definitions only.
func (c *Container) Container(string) (*Container, bool) {
	return nil, false
}

// Entry is one top-level item of a Schema: exactly one of Setting or Container is set.
type Entry struct {
	Setting   *Definition
	Container *Container
}

// Name returns the setting name or the container's app name.
func (e Entry) Name() string {
	if e.Container != nil {
		return e.Container.AppName
	}
	return e.Setting.Name
}

// Schema is the root of the settings tree.
type Schema struct {
	Path string

	entries    []Entry
	defs       map[string]*Definition
	containers map[string]*Container
}

func newSchema(path string) *Schema {
	return &Schema{
		Path:       path,
		defs:       make(map[string]*Definition),
		containers: make(map[string]*Container),
	}
}

// Entries returns project settings and containers in declaration order.
func (s *Schema) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

// Settings returns the project-level definitions in declaration order.
func (s *Schema) Settings() []*Definition {
	var out []*Definition
	for _, e := range s.entries {
		if e.Setting != nil {
			out = append(out, e.Setting)
		}
	}
	return out
}

// Containers returns the app containers in declaration order.
func (s *Schema) Containers() []*Container {
	var out []*Container
	for _, e := range s.entries {
		if e.Container != nil {
			out = append(out, e.Container)
		}
	}
	return out
}

func (s *Schema) Definition(name string) (*Definition, bool) {
	d, ok := s.defs[name]
	return d, ok
}

func (s *Schema) Container(name string) (*Container, bool) {
	c, ok := s.containers[name]
	return c, ok
}

// Has reports whether name is a project setting or a container.
func (s *Schema) Has(name string) bool {
	_, isDef := s.defs[name]
	_, isApp := s.containers[name]
	return isDef || isApp
}
