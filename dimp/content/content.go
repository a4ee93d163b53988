// Package content defines message bodies and the registry that turns them
// into bytes and back.
package content

import (
	"math/rand/v2"
	"time"

	"github.com/TheusHen/dimp/dimp/crypto"
	"github.com/TheusHen/dimp/dimp/identity"
)

// Type is the "type" code of a content.
type Type uint8

const (
	TextType    Type = 0x01
	FileType    Type = 0x10
	ImageType   Type = 0x12
	CommandType Type = 0x88
)

// Content is the body of an instant message.
type Content interface {
	Type() Type
	SerialNumber() uint64
	Time() time.Time
	// Group returns the group the content was sent in; zero for personal messages.
	Group() identity.ID
}

// Header carries the fields every content has. Embed it.
type Header struct {
	Kind      Type         `json:"type"`
	SN        uint64       `json:"sn"`
	Timestamp int64        `json:"time,omitempty"`
	GroupID   *identity.ID `json:"group,omitempty"`
}

func NewHeader(t Type) Header {
	return Header{Kind: t, SN: rand.Uint64(), Timestamp: time.Now().Unix()}
}

func (h *Header) Type() Type           { return h.Kind }
func (h *Header) SerialNumber() uint64 { return h.SN }

func (h *Header) Time() time.Time {
	if h.Timestamp == 0 {
		return time.Time{}
	}
	return time.Unix(h.Timestamp, 0)
}

func (h *Header) Group() identity.ID {
	if h.GroupID == nil {
		return identity.ID{}
	}
	return *h.GroupID
}

// SetGroup marks the content as sent in group.
func (h *Header) SetGroup(group identity.ID) {
	g := group.Bare()
	h.GroupID = &g
}

type Text struct {
	Header
	Text string `json:"text"`
}

func NewText(text string) *Text {
	return &Text{Header: NewHeader(TextType), Text: text}
}

// File references a file either inline (Data) or uploaded (URL). An uploaded
// file is encrypted with Password.
type File struct {
	Header
	Filename string          `json:"filename"`
	URL      string          `json:"URL,omitempty"`
	Data     []byte          `json:"data,omitempty"`
	Password *crypto.KeyInfo `json:"password,omitempty"`
}

func NewFile(filename string, data []byte) *File {
	return &File{Header: NewHeader(FileType), Filename: filename, Data: data}
}

type Image struct {
	File
	Thumbnail []byte `json:"thumbnail,omitempty"`
}

func NewImage(filename string, data, thumbnail []byte) *Image {
	img := &Image{File: File{Header: NewHeader(ImageType), Filename: filename, Data: data}}
	img.Thumbnail = thumbnail
	return img
}
