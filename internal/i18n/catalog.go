// Package i18n formats user-facing messages from a YAML catalog.
package i18n

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed messages.en.yaml
var defaultMessages []byte

type Formatter interface {
	Format(id string, values map[string]string) string
}

type Catalog struct {
	mu       sync.RWMutex
	messages map[string]string
}

// Default returns the built-in English catalog.
func Default() *Catalog {
	c, err := Parse(defaultMessages)
	if err != nil {
		panic(fmt.Sprintf("i18n: embedded catalog: %v", err))
	}
	return c
}

func Parse(data []byte) (*Catalog, error) {
	m := make(map[string]string)
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return &Catalog{messages: m}, nil
}

// Load starts from the default catalog and overlays the entries in path.
func Load(path string) (*Catalog, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	override, err := Parse(data)
	if err != nil {
		return nil, err
	}
	c.Merge(override)
	return c, nil
}

func (c *Catalog) Merge(other *Catalog) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range other.messages {
		c.messages[k] = v
	}
}

// Format returns the message for id with {name} placeholders replaced.
// Unknown ids come back verbatim.
func (c *Catalog) Format(id string, values map[string]string) string {
	c.mu.RLock()
	msg, ok := c.messages[id]
	c.mu.RUnlock()
	if !ok {
		return id
	}
	if len(values) == 0 {
		return msg
	}
	pairs := make([]string, 0, 2*len(values))
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(msg)
}
