package protocol

type MessageType uint8

const (
	MessageTypeHello   MessageType = 1
	MessageTypeMessage MessageType = 2
	MessageTypeReceipt MessageType = 3
	MessageTypeClose   MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeHello:
		return "HELLO"
	case MessageTypeMessage:
		return "MESSAGE"
	case MessageTypeReceipt:
		return "RECEIPT"
	case MessageTypeClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// Flags qualify a frame payload.
type Flags uint8

const (
	// FlagCompressed marks an LZ4-compressed payload.
	FlagCompressed Flags = 1 << 0
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }
