package experiment

import "sync"

type Evaluator interface {
	Bool(key string, def bool) bool
}

// Flags is a static flag table. The zero value has no flags set.
type Flags struct {
	mu     sync.RWMutex
	values map[string]bool
}

func NewFlags(values map[string]bool) *Flags {
	f := &Flags{values: make(map[string]bool, len(values))}
	for k, v := range values {
		f.values[k] = v
	}
	return f
}

func (f *Flags) Bool(key string, def bool) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if v, ok := f.values[key]; ok {
		return v
	}
	return def
}

func (f *Flags) Set(key string, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values == nil {
		f.values = make(map[string]bool)
	}
	f.values[key] = v
}
