package workitem

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrRegistrySealed is returned by Register after Seal.
	ErrRegistrySealed = errors.New("workitem: registry sealed")
	// ErrDuplicateType is returned when a type tag is registered twice.
	ErrDuplicateType = errors.New("workitem: type already registered")
)

type registration struct {
	newItem func() WorkItem
	factory ProcessorFactory
}

// Registry maps type tags to item constructors and processor factories.
// Registration happens during startup; Seal freezes it before the consumer
// starts. One factory may be registered under several types.
type Registry struct {
	mu     sync.RWMutex
	regs   map[string]registration
	sealed bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{regs: make(map[string]registration)}
}

// Register binds typ to a constructor for its payload and a processor
// factory.
func (r *Registry) Register(typ string, newItem func() WorkItem, factory ProcessorFactory) error {
	if typ == "" || newItem == nil || factory == nil {
		return errors.New("workitem: Register requires type, constructor and factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	if _, ok := r.regs[typ]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateType, typ)
	}
	if got := newItem().Type(); got != typ {
		return fmt.Errorf("workitem: constructor for %q builds %q", typ, got)
	}
	r.regs[typ] = registration{newItem: newItem, factory: factory}
	return nil
}

// RegisterType registers *T under the tag returned by its Type method.
func RegisterType[T any, PT interface {
	*T
	WorkItem
}](r *Registry, factory ProcessorFactory) error {
	typ := PT(new(T)).Type()
	return r.Register(typ, func() WorkItem { return PT(new(T)) }, factory)
}

// Seal prevents further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Types returns the registered type tags in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.regs))
	for k := range r.regs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Has reports whether typ is registered.
func (r *Registry) Has(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.regs[typ]
	return ok
}

func (r *Registry) lookup(typ string) (registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regs[typ]
	if !ok {
		return registration{}, fmt.Errorf("%w: %q", ErrUnknownWorkItemType, typ)
	}
	return reg, nil
}

// PeekType reads the type tag without decoding the payload.
func PeekType(body []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedWorkItem, err)
	}
	if head.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrMalformedWorkItem)
	}
	return head.Type, nil
}

// Decode parses a queue message body. The type tag is resolved first so an
// unknown type is reported as ErrUnknownWorkItemType regardless of payload.
func (r *Registry) Decode(body []byte) (WorkItem, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWorkItem, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedWorkItem)
	}
	reg, err := r.lookup(env.Type)
	if err != nil {
		return nil, err
	}
	item := reg.newItem()
	if p := bytes.TrimSpace(env.Payload); len(p) > 0 && !bytes.Equal(p, []byte("null")) {
		if err := json.Unmarshal(p, item); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedWorkItem, env.Type, err)
		}
	}
	b := item.base()
	b.id = env.ID
	b.enqueuedAt = env.EnqueuedAt
	return item, nil
}

// Encode renders item as a queue message body. The item's type must be
// registered.
func (r *Registry) Encode(item WorkItem) ([]byte, error) {
	if _, err := r.lookup(item.Type()); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("workitem: encode %s: %w", item.Type(), err)
	}
	return json.Marshal(envelope{ID: item.ID(), Type: item.Type(), EnqueuedAt: item.EnqueuedAt(), Payload: payload})
}

func (r *Registry) factory(typ string) (ProcessorFactory, error) {
	reg, err := r.lookup(typ)
	if err != nil {
		return nil, err
	}
	return reg.factory, nil
}
