package content

import "github.com/TheusHen/dimp/dimp/identity"

// Command names.
const (
	MetaCommandName    = "meta"
	ReceiptCommandName = "receipt"
)

// Commander is implemented by every command content.
type Commander interface {
	Content
	CommandName() string
}

type Command struct {
	Header
	Name string `json:"command"`
}

func NewCommand(name string) *Command {
	return &Command{Header: NewHeader(CommandType), Name: name}
}

func (c *Command) CommandName() string { return c.Name }

// MetaCommand queries (Meta == nil) or responds with the meta of ID.
type MetaCommand struct {
	Command
	ID   identity.ID    `json:"ID"`
	Meta *identity.Meta `json:"meta,omitempty"`
}

func NewMetaQuery(id identity.ID) *MetaCommand {
	return &MetaCommand{Command: *NewCommand(MetaCommandName), ID: id.Bare()}
}

func NewMetaResponse(id identity.ID, meta identity.Meta) *MetaCommand {
	cmd := NewMetaQuery(id)
	cmd.Meta = &meta
	return cmd
}

// Origin points at the message a receipt acknowledges.
type Origin struct {
	Sender    identity.ID `json:"sender"`
	SN        uint64      `json:"sn,omitempty"`
	Signature []byte      `json:"signature,omitempty"`
}

type ReceiptCommand struct {
	Command
	Text   string  `json:"text,omitempty"`
	Origin *Origin `json:"origin,omitempty"`
}

func NewReceipt(text string, origin *Origin) *ReceiptCommand {
	return &ReceiptCommand{Command: *NewCommand(ReceiptCommandName), Text: text, Origin: origin}
}
