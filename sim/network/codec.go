package network

import (
	"reflect"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// Codec turns objects into message payloads and back.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Decoder is implemented by codecs that can rebuild an object without knowing its type
// in advance, typically from a type name carried in the payload.
type Decoder interface {
	Decode(data []byte) (any, error)
}

// JSONCodec encodes objects as JSON.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrapf(err, "encoding %T", v)
	}
	return data, nil
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return eris.Wrapf(ErrDecode, "decoding %T: %v", v, err)
	}
	return nil
}

// TypeRegistry names the payload types a process knows how to decode.
// Types are registered at runtime, so a worker only decodes what its catalog installs.
type TypeRegistry struct {
	mu     sync.RWMutex
	byName map[string]func() any
	byType map[reflect.Type]string
}

// NewTypeRegistry creates an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		byName: make(map[string]func() any),
		byType: make(map[reflect.Type]string),
	}
}

// RegisterType adds T under name. Registering the same name twice for different types fails.
func RegisterType[T any](r *TypeRegistry, name string) error {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byType[typ]; ok && existing != name {
		return eris.Errorf("type %v already registered as %q", typ, existing)
	}
	if _, ok := r.byName[name]; ok && r.byType[typ] != name {
		return eris.Errorf("type name %q already registered", name)
	}
	r.byName[name] = func() any { return new(T) }
	r.byType[typ] = name
	return nil
}

// NameOf returns the registered name of v's type (pointers are dereferenced).
func (r *TypeRegistry) NameOf(v any) (string, bool) {
	typ := reflect.TypeOf(v)
	for typ != nil && typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byType[typ]
	return name, ok
}

// New returns a pointer to a fresh value of the type registered under name.
func (r *TypeRegistry) New(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// Names lists the registered names in sorted order.
func (r *TypeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// envelope tags a JSON payload with its registered type name.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EnvelopeCodec wraps each object in an envelope naming its registered type, so the
// receiver can decode it with Decode without knowing the type up front.
type EnvelopeCodec struct {
	Types *TypeRegistry
}

// NewEnvelopeCodec creates a codec over types.
func NewEnvelopeCodec(types *TypeRegistry) *EnvelopeCodec {
	return &EnvelopeCodec{Types: types}
}

func (c *EnvelopeCodec) Marshal(v any) ([]byte, error) {
	name, ok := c.Types.NameOf(v)
	if !ok {
		return nil, eris.Errorf("type %T is not registered", v)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrapf(err, "encoding %s", name)
	}
	data, err := json.Marshal(envelope{Type: name, Payload: payload})
	if err != nil {
		return nil, eris.Wrapf(err, "encoding %s envelope", name)
	}
	return data, nil
}

// Unmarshal decodes data into v, checking that the envelope names v's type.
func (c *EnvelopeCodec) Unmarshal(data []byte, v any) error {
	env, err := c.open(data)
	if err != nil {
		return err
	}
	want, ok := c.Types.NameOf(v)
	if !ok {
		return eris.Wrapf(ErrDecode, "target type %T is not registered", v)
	}
	if env.Type != want {
		return eris.Wrapf(ErrDecode, "payload is %q, want %q", env.Type, want)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return eris.Wrapf(ErrDecode, "decoding %s: %v", env.Type, err)
	}
	return nil
}

// Decode rebuilds the object named by the envelope and returns a pointer to it.
func (c *EnvelopeCodec) Decode(data []byte) (any, error) {
	env, err := c.open(data)
	if err != nil {
		return nil, err
	}
	v, ok := c.Types.New(env.Type)
	if !ok {
		return nil, eris.Wrapf(ErrDecode, "unknown payload type %q", env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return nil, eris.Wrapf(ErrDecode, "decoding %s: %v", env.Type, err)
	}
	return v, nil
}

func (c *EnvelopeCodec) open(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, eris.Wrapf(ErrDecode, "malformed envelope: %v", err)
	}
	if env.Type == "" {
		return env, eris.Wrap(ErrDecode, "envelope without type")
	}
	return env, nil
}

// ObjectConn sends and receives objects over a Transport with a Codec.
type ObjectConn struct {
	Transport Transport
	Codec     Codec
}

// NewObjectConn pairs a transport with a codec (JSONCodec when nil).
func NewObjectConn(t Transport, codec Codec) *ObjectConn {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &ObjectConn{Transport: t, Codec: codec}
}

// WriteObject encodes v and sends it as one message.
func (c *ObjectConn) WriteObject(v any) error {
	data, err := c.Codec.Marshal(v)
	if err != nil {
		return err
	}
	return c.Transport.WriteMessage(data)
}

// ReadObject receives one message and decodes it into v.
func (c *ObjectConn) ReadObject(v any) error {
	data, err := c.Transport.ReadMessage()
	if err != nil {
		return err
	}
	return c.Codec.Unmarshal(data, v)
}

// ReadAny receives one message and decodes it with the codec's Decoder.
func (c *ObjectConn) ReadAny() (any, error) {
	dec, ok := c.Codec.(Decoder)
	if !ok {
		return nil, eris.Errorf("codec %T cannot decode untyped payloads", c.Codec)
	}
	data, err := c.Transport.ReadMessage()
	if err != nil {
		return nil, err
	}
	return dec.Decode(data)
}

// Close closes the transport.
func (c *ObjectConn) Close() error {
	return c.Transport.Close()
}
