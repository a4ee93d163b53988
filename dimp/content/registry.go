package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrMalformed = errors.New("content: malformed content")
	ErrNil       = errors.New("content: nil content")
)

// Codec turns contents into bytes and back.
type Codec interface {
	Serialize(c Content) ([]byte, error)
	Parse(data []byte) (Content, error)
}

// Factory returns an empty content ready to be unmarshaled into.
type Factory func() Content

// Registry is the reference Codec: contents are JSON objects dispatched on
// their "type" field, commands additionally on their "command" field.
// Register everything at startup; lookups are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	contents map[Type]Factory
	commands map[string]Factory
}

// NewRegistry returns a registry with the built-in contents and commands.
func NewRegistry() *Registry {
	r := &Registry{
		contents: map[Type]Factory{},
		commands: map[string]Factory{},
	}
	r.Register(TextType, func() Content { return &Text{} })
	r.Register(FileType, func() Content { return &File{} })
	r.Register(ImageType, func() Content { return &Image{} })
	r.Register(CommandType, func() Content { return &Command{} })
	r.RegisterCommand(MetaCommandName, func() Content { return &MetaCommand{} })
	r.RegisterCommand(ReceiptCommandName, func() Content { return &ReceiptCommand{} })
	return r
}

func (r *Registry) Register(t Type, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contents[t] = f
}

func (r *Registry) RegisterCommand(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[name] = f
}

func (r *Registry) Serialize(c Content) ([]byte, error) {
	if c == nil {
		return nil, ErrNil
	}
	return json.Marshal(c)
}

// Parse decodes data. Unknown type codes decode into *Raw so they can still be
// stored or forwarded.
func (r *Registry) Parse(data []byte) (Content, error) {
	var head struct {
		Type    *Type  `json:"type"`
		Command string `json:"command"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if head.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	f := r.factory(*head.Type, head.Command)
	if f == nil {
		raw := &Raw{}
		if err := json.Unmarshal(data, raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return raw, nil
	}
	c := f()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return c, nil
}

func (r *Registry) factory(t Type, command string) Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t == CommandType {
		if f, ok := r.commands[command]; ok {
			return f
		}
	}
	return r.contents[t]
}

// Raw is a content of a type this registry does not know. All of its fields
// are kept and serialized back unchanged.
type Raw struct {
	Header
	Fields map[string]json.RawMessage
}

func (c *Raw) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Fields)
}

func (c *Raw) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &c.Header); err != nil {
		return err
	}
	return json.Unmarshal(data, &c.Fields)
}
