package identity

import "fmt"

// EntityType is the network byte embedded in every address.
// Even values are users, odd values are groups; the high bit marks broadcast.
type EntityType uint8

const (
	User       EntityType = 0x00
	Group      EntityType = 0x01
	Station    EntityType = 0x02
	ISP        EntityType = 0x03
	Bot        EntityType = 0x04
	ICP        EntityType = 0x05
	Supervisor EntityType = 0x06
	Company    EntityType = 0x07
	Any        EntityType = 0x80
	Every      EntityType = 0x81
)

func (t EntityType) IsUser() bool      { return t&0x01 == 0 }
func (t EntityType) IsGroup() bool     { return t&0x01 == 1 }
func (t EntityType) IsBroadcast() bool { return t&0x80 != 0 }

func (t EntityType) String() string {
	switch t {
	case User:
		return "user"
	case Group:
		return "group"
	case Station:
		return "station"
	case ISP:
		return "isp"
	case Bot:
		return "bot"
	case ICP:
		return "icp"
	case Supervisor:
		return "supervisor"
	case Company:
		return "company"
	case Any:
		return "any"
	case Every:
		return "every"
	default:
		return fmt.Sprintf("network(0x%02x)", uint8(t))
	}
}

// ParseEntityType accepts the names returned by String.
func ParseEntityType(s string) (EntityType, error) {
	for _, t := range []EntityType{User, Group, Station, ISP, Bot, ICP, Supervisor, Company, Any, Every} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("identity: unknown network %q", s)
}
