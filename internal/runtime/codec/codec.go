// Package codec provides the encode/decode capabilities the bridge applies to
// application values. The engine only ever sees the resulting bytes.
package codec

import (
	"fmt"
	"sort"
	"sync"

	errspkg "github.com/drblury/rtpsbridge/internal/runtime/errors"
)

// Codec marshals application values to payload bytes and back.
// Unmarshal receives a pointer to the destination value.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps codec names to implementations.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewRegistry returns a registry preloaded with the JSON and protobuf codecs.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]Codec)}
	r.Register(JSON())
	r.Register(Proto())
	return r
}

// Register adds or replaces a codec.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c.Name()] = c
}

// Lookup returns the codec registered under name.
func (r *Registry) Lookup(name string) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownCodec, name)
	}
	return c, nil
}

// Names returns the registered codec names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.codecs))
	for name := range r.codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry holds the built-in codecs.
var DefaultRegistry = NewRegistry()

// Lookup resolves name against DefaultRegistry. An empty name selects JSON.
func Lookup(name string) (Codec, error) {
	if name == "" {
		name = JSONName
	}
	return DefaultRegistry.Lookup(name)
}
