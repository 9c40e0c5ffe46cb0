// Package host adapts the host application's own configuration into the first
// read/write layer consulted by the settings proxy.
package host

import (
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Config is the host configuration object. Names are setting names such as
// SITE_TITLE.
type Config interface {
	Has(name string) bool
	Get(name string) (any, bool)
	Set(name string, value any)
	Delete(name string)
}

// Map is an in-process Config, used by tests and embedders that assemble
// host configuration themselves.
type Map struct {
	mu     sync.RWMutex
	values map[string]any
}

func NewMap(values map[string]any) *Map {
	m := &Map{values: make(map[string]any, len(values))}
	maps.Copy(m.values, values)
	return m
}

func (m *Map) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.values[name]
	return ok
}

func (m *Map) Get(name string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[name]
	return v, ok
}

func (m *Map) Set(name string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
}

func (m *Map) Delete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, name)
}

// Viper exposes a viper instance as host configuration. Viper keys are case
// insensitive and cannot be unset, so deletions are tracked on the side.
type Viper struct {
	mu      sync.RWMutex
	v       *viper.Viper
	deleted map[string]struct{}
}

// EnvPrefix scopes environment variables read as host configuration, e.g.
// SETMAN_HOST_SITE_TITLE.
const EnvPrefix = "SETMAN_HOST"

// NewViper loads host configuration from an optional file (any format viper
// understands) overlaid by SETMAN_HOST_* environment variables.
func NewViper(path string) (*Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read host config %s: %w", path, err)
		}
	}
	return FromViper(v), nil
}

// FromViper wraps an existing viper instance.
func FromViper(v *viper.Viper) *Viper {
	return &Viper{v: v, deleted: make(map[string]struct{})}
}

func (c *Viper) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, gone := c.deleted[key(name)]; gone {
		return false
	}
	return c.v.IsSet(name)
}

func (c *Viper) Get(name string) (any, bool) {
	if !c.Has(name) {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.Get(name), true
}

func (c *Viper) Set(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.deleted, key(name))
	c.v.Set(name, value)
}

func (c *Viper) Delete(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted[key(name)] = struct{}{}
}

func key(name string) string {
	return strings.ToLower(name)
}
