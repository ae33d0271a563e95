package protocol

import (
	"encoding/base64"
	"encoding/json"
)

// ContentType tags the shape of a ContentItem's payload.
type ContentType string

const (
	ContentText   ContentType = "text"
	ContentBinary ContentType = "binary"
	ContentJSON   ContentType = "json"
)

// ContentItem is a single element of a resource-read or tool-call result.
// Binary payloads travel as raw bytes internally; MarshalJSON below
// base64-encodes them at the JSON boundary.
type ContentItem struct {
	Type     ContentType `json:"type"`
	MimeType string      `json:"mimeType,omitempty"`
	Payload  []byte      `json:"-"`
	Text     string      `json:"text,omitempty"`
}

// PayloadLen returns the length of the item's payload in bytes, counting
// the UTF-8 length of Text for text/json items.
func (c ContentItem) PayloadLen() int {
	if c.Type == ContentBinary {
		return len(c.Payload)
	}
	return len(c.Text)
}

// TextItem builds a ContentItem of type text.
func TextItem(mimeType, text string) ContentItem {
	if mimeType == "" {
		mimeType = "text/plain"
	}
	return ContentItem{Type: ContentText, MimeType: mimeType, Text: text}
}

// JSONItem builds a ContentItem of type json, pre-serialized by the caller.
func JSONItem(text string) ContentItem {
	return ContentItem{Type: ContentJSON, MimeType: "application/json", Text: text}
}

// BinaryItem builds a ContentItem of type binary.
func BinaryItem(mimeType string, payload []byte) ContentItem {
	return ContentItem{Type: ContentBinary, MimeType: mimeType, Payload: append([]byte(nil), payload...)}
}

// wireContentItem is the on-the-wire shape of a ContentItem: binary
// payloads travel base64-encoded under "data", per spec.md §8's
// `{"type":"text","mimeType":"text/plain","text":"hello"}` example.
type wireContentItem struct {
	Type     ContentType `json:"type"`
	MimeType string      `json:"mimeType,omitempty"`
	Text     string      `json:"text,omitempty"`
	Data     string      `json:"data,omitempty"`
}

// MarshalJSON encodes a ContentItem using the wire shape: Text for
// text/json items, base64 Data for binary items.
func (c ContentItem) MarshalJSON() ([]byte, error) {
	w := wireContentItem{Type: c.Type, MimeType: c.MimeType}
	if c.Type == ContentBinary {
		w.Data = base64.StdEncoding.EncodeToString(c.Payload)
	} else {
		w.Text = c.Text
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire shape back into a ContentItem.
func (c *ContentItem) UnmarshalJSON(data []byte) error {
	var w wireContentItem
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.Type = w.Type
	c.MimeType = w.MimeType
	c.Text = w.Text
	c.Payload = nil
	if w.Data != "" {
		payload, err := base64.StdEncoding.DecodeString(w.Data)
		if err != nil {
			return err
		}
		c.Payload = payload
	}
	return nil
}

// CloneContent returns a deep copy of an ordered content sequence. Used
// by the resource cache and by callers that must hold references past
// their next cache interaction (spec.md §5, "Memory and buffer ownership").
func CloneContent(items []ContentItem) []ContentItem {
	if items == nil {
		return nil
	}
	out := make([]ContentItem, len(items))
	for i, it := range items {
		out[i] = it
		if it.Payload != nil {
			out[i].Payload = append([]byte(nil), it.Payload...)
		}
	}
	return out
}
