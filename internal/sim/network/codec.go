package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

var (
	ErrUnknownType   = errors.New("network: unknown action type")
	ErrDuplicateType = errors.New("network: action type already registered")
)

// Envelope is the wire form of one action.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Codec maps type tags to action factories. Only registered types decode.
type Codec struct {
	mu      sync.RWMutex
	factory map[string]func() Action
	names   map[reflect.Type]string
}

func NewCodec() *Codec {
	c := &Codec{
		factory: map[string]func() Action{},
		names:   map[reflect.Type]string{},
	}
	Register[SyncGameState](c, "SyncGameState")
	return c
}

// Register adds action type *T under name.
func Register[T any, PT interface {
	*T
	Action
}](c *Codec, name string) {
	if err := c.Add(name, func() Action { return PT(new(T)) }); err != nil {
		panic(err)
	}
}

// Add registers a factory. Factories must return pointers.
func (c *Codec) Add(name string, factory func() Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.factory[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateType, name)
	}
	c.factory[name] = factory
	c.names[reflect.TypeOf(factory())] = name
	return nil
}

// Name returns the tag a is registered under.
func (c *Codec) Name(a Action) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.names[reflect.TypeOf(a)]
	return n, ok
}

// Types lists the registered tags in sorted order.
func (c *Codec) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.factory))
	for n := range c.factory {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (c *Codec) Envelope(a Action) (Envelope, error) {
	name, ok := c.Name(a)
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %T", ErrUnknownType, a)
	}
	a.NetHeader().Thread = LaneOf(a).ID
	data, err := json.Marshal(a)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return Envelope{Type: name, Data: data}, nil
}

func (c *Codec) Encode(a Action) ([]byte, error) {
	env, err := c.Envelope(a)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func (c *Codec) Decode(b []byte) (Action, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return c.FromEnvelope(env)
}

func (c *Codec) FromEnvelope(env Envelope) (Action, error) {
	c.mu.RLock()
	f, ok := c.factory[env.Type]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	a := f()
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
	}
	return a, nil
}

func (c *Codec) EncodeBatch(actions []Action) ([]byte, error) {
	envs := make([]Envelope, 0, len(actions))
	for _, a := range actions {
		env, err := c.Envelope(a)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return json.Marshal(envs)
}

// DecodeBatch decodes a JSON array of envelopes. A malformed array fails as a
// whole; a bad element is reported in errs at its index and left nil in out.
func (c *Codec) DecodeBatch(b []byte) (out []Action, errs []error, err error) {
	var envs []Envelope
	if err := json.Unmarshal(b, &envs); err != nil {
		return nil, nil, fmt.Errorf("decode batch: %w", err)
	}
	out = make([]Action, len(envs))
	errs = make([]error, len(envs))
	for i, env := range envs {
		out[i], errs[i] = c.FromEnvelope(env)
	}
	return out, errs, nil
}

// Clone round-trips a through its wire form and returns the copy with the
// encoded bytes.
func (c *Codec) Clone(a Action) (Action, []byte, error) {
	b, err := c.Encode(a)
	if err != nil {
		return nil, nil, err
	}
	cp, err := c.Decode(b)
	if err != nil {
		return nil, nil, err
	}
	return cp, b, nil
}
