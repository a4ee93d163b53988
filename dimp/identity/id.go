package identity

import (
	"errors"
	"strings"
)

var ErrInvalidID = errors.New("identity: invalid ID")

// ID names an entity: "name@address/terminal". Name and terminal are optional.
//
// Two IDs refer to the same entity iff Equal reports true; the terminal (a
// device or session label) does not take part in identity, so do not compare
// IDs with ==.
type ID struct {
	Name     string
	Address  Address
	Terminal string
}

var (
	Anyone   = ID{Name: "anyone", Address: AnyAddress}
	Everyone = ID{Name: "everyone", Address: EveryAddress}
)

func NewID(name string, address Address, terminal string) ID {
	return ID{Name: name, Address: address, Terminal: terminal}
}

// ParseID parses the string form produced by String.
func ParseID(s string) (ID, error) {
	var id ID
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		id.Terminal = s[i+1:]
		s = s[:i]
		if id.Terminal == "" {
			return ID{}, ErrInvalidID
		}
	}
	if i := strings.IndexByte(s, '@'); i >= 0 {
		id.Name = s[:i]
		s = s[i+1:]
		if id.Name == "" {
			return ID{}, ErrInvalidID
		}
	}
	addr, err := ParseAddress(s)
	if err != nil {
		return ID{}, err
	}
	id.Address = addr
	return id, nil
}

func (id ID) String() string {
	var b strings.Builder
	if id.Name != "" {
		b.WriteString(id.Name)
		b.WriteByte('@')
	}
	b.WriteString(id.Address.String())
	if id.Terminal != "" {
		b.WriteByte('/')
		b.WriteString(id.Terminal)
	}
	return b.String()
}

// Equal compares name and address; the terminal is ignored.
func (id ID) Equal(other ID) bool {
	return id.Name == other.Name && id.Address == other.Address
}

// Bare returns id without its terminal. Bare IDs can be compared with == and
// used as map keys.
func (id ID) Bare() ID {
	id.Terminal = ""
	return id
}

func (id ID) Type() EntityType { return id.Address.Network() }
func (id ID) IsUser() bool     { return id.Type().IsUser() }
func (id ID) IsGroup() bool    { return id.Type().IsGroup() }
func (id ID) IsZero() bool     { return id.Address.IsZero() }

func (id ID) IsBroadcast() bool { return id.Address.IsBroadcast() }

func (id ID) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return nil, ErrInvalidID
	}
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
