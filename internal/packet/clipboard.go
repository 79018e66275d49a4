package packet

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Kind identifies the clipboard content type.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// ClipboardPayload is the data carried by a clipboard_data packet.
// Content holds raw UTF-8 bytes for text and the raw binary blob for images;
// the base64 wrapping only exists on the wire.
type ClipboardPayload struct {
	Kind       Kind
	Content    []byte
	Timestamp  float64
	DeviceName string
}

type clipboardWire struct {
	Type       *Kind    `json:"type"`
	Timestamp  *float64 `json:"timestamp"`
	DeviceName *string  `json:"device_name"`
	Content    *string  `json:"content"`
}

// MarshalJSON implements the wire form: text content passes through after
// UTF-8 validation, image content is base64-encoded.
func (c ClipboardPayload) MarshalJSON() ([]byte, error) {
	var content string
	switch c.Kind {
	case KindText:
		if err := ValidateUTF8(c.Content); err != nil {
			return nil, fmt.Errorf("clipboard payload: %w", err)
		}
		content = string(c.Content)
	case KindImage:
		content = base64.StdEncoding.EncodeToString(c.Content)
	default:
		return nil, fmt.Errorf("clipboard payload: unknown kind %q", c.Kind)
	}
	kind := c.Kind
	return json.Marshal(clipboardWire{
		Type:       &kind,
		Timestamp:  &c.Timestamp,
		DeviceName: &c.DeviceName,
		Content:    &content,
	})
}

// UnmarshalJSON validates all four required fields and rejects unknown kinds
// and invalid base64.
func (c *ClipboardPayload) UnmarshalJSON(b []byte) error {
	var w clipboardWire
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("clipboard payload decode: %w", err)
	}
	switch {
	case w.Type == nil:
		return fmt.Errorf("clipboard payload: missing type")
	case w.Timestamp == nil:
		return fmt.Errorf("clipboard payload: missing timestamp")
	case w.DeviceName == nil || *w.DeviceName == "":
		return fmt.Errorf("clipboard payload: missing device_name")
	case w.Content == nil:
		return fmt.Errorf("clipboard payload: missing content")
	}

	var content []byte
	switch *w.Type {
	case KindText:
		content = []byte(*w.Content)
	case KindImage:
		raw, err := base64.StdEncoding.DecodeString(*w.Content)
		if err != nil {
			return fmt.Errorf("clipboard payload: invalid base64: %w", err)
		}
		content = raw
	default:
		return fmt.Errorf("clipboard payload: unknown kind %q", *w.Type)
	}

	c.Kind = *w.Type
	c.Content = content
	c.Timestamp = *w.Timestamp
	c.DeviceName = *w.DeviceName
	return nil
}

// Clipboard returns the decoded ClipboardPayload of a clipboard_data packet.
func (p *Packet) Clipboard() (*ClipboardPayload, error) {
	if p.Type != TypeClipboard {
		return nil, fmt.Errorf("packet: %s carries no clipboard payload", p.Type)
	}
	if len(p.Data) == 0 {
		return nil, fmt.Errorf("clipboard payload: missing data")
	}
	var c ClipboardPayload
	if err := json.Unmarshal(p.Data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// NewClipboard builds a clipboard_data packet for the given payload.
func NewClipboard(senderName, senderIP string, payload ClipboardPayload) (*Packet, error) {
	return New(TypeClipboard, senderName, senderIP, payload)
}
