// Package messaging sends replies through the LINE Messaging API.
package messaging

import (
	"encoding/json"

	"github.com/amp-labs/denguebot/event"
)

// MaxReplyMessages is the most messages one reply may carry.
const MaxReplyMessages = 5

// Message is an outbound message. Implementations marshal to the LINE wire
// shape, including the "type" field.
type Message interface {
	Type() string
}

// Content renders a message for the reply log: the text of text messages
// and a placeholder naming the type otherwise.
func Content(m Message) string {
	if text, ok := m.(Text); ok {
		return text.Text
	}

	return event.Placeholder(m.Type())
}

// Text is a plain text message.
type Text struct {
	Text string `json:"text"`
}

func (Text) Type() string { return "text" }

// MarshalJSON implements json.Marshaler.
func (m Text) MarshalJSON() ([]byte, error) {
	type alias Text

	return marshalTyped(m.Type(), alias(m))
}

// Image is an image message.
type Image struct {
	OriginalContentURL string `json:"originalContentUrl"`
	PreviewImageURL    string `json:"previewImageUrl"`
}

func (Image) Type() string { return "image" }

// MarshalJSON implements json.Marshaler.
func (m Image) MarshalJSON() ([]byte, error) {
	type alias Image

	return marshalTyped(m.Type(), alias(m))
}

// Location is a location message.
type Location struct {
	Title     string  `json:"title"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (Location) Type() string { return "location" }

// MarshalJSON implements json.Marshaler.
func (m Location) MarshalJSON() ([]byte, error) {
	type alias Location

	return marshalTyped(m.Type(), alias(m))
}

// Template is a template message: buttons or a carousel.
type Template struct {
	AltText  string         `json:"altText"`
	Template TemplateLayout `json:"template"`
}

func (Template) Type() string { return "template" }

// MarshalJSON implements json.Marshaler.
func (m Template) MarshalJSON() ([]byte, error) {
	type alias Template

	return marshalTyped(m.Type(), alias(m))
}

// TemplateLayout is the body of a template message.
type TemplateLayout interface {
	LayoutType() string
}

// Buttons is a text with up to four actions.
type Buttons struct {
	Title   string   `json:"title,omitempty"`
	Text    string   `json:"text"`
	Actions []Action `json:"actions"`
}

func (Buttons) LayoutType() string { return "buttons" }

// MarshalJSON implements json.Marshaler.
func (b Buttons) MarshalJSON() ([]byte, error) {
	type alias Buttons

	return marshalTyped(b.LayoutType(), alias(b))
}

// Carousel is a horizontally scrolled list of columns.
type Carousel struct {
	Columns []Column `json:"columns"`
}

func (Carousel) LayoutType() string { return "carousel" }

// MarshalJSON implements json.Marshaler.
func (c Carousel) MarshalJSON() ([]byte, error) {
	type alias Carousel

	return marshalTyped(c.LayoutType(), alias(c))
}

// Column is one carousel entry. Every column of a carousel must carry the
// same number of actions.
type Column struct {
	Title   string   `json:"title,omitempty"`
	Text    string   `json:"text"`
	Actions []Action `json:"actions"`
}

// Action is a template or imagemap action.
type Action interface {
	ActionType() string
}

// PostbackAction sends data back to the bot as a postback event.
type PostbackAction struct {
	Label string `json:"label"`
	Data  string `json:"data"`
	Text  string `json:"text,omitempty"`
}

func (PostbackAction) ActionType() string { return "postback" }

// MarshalJSON implements json.Marshaler.
func (a PostbackAction) MarshalJSON() ([]byte, error) {
	type alias PostbackAction

	return marshalTyped(a.ActionType(), alias(a))
}

// MessageAction makes the user send Text.
type MessageAction struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

func (MessageAction) ActionType() string { return "message" }

// MarshalJSON implements json.Marshaler.
func (a MessageAction) MarshalJSON() ([]byte, error) {
	type alias MessageAction

	return marshalTyped(a.ActionType(), alias(a))
}

// URIAction opens a link.
type URIAction struct {
	Label string `json:"label"`
	URI   string `json:"uri"`
}

func (URIAction) ActionType() string { return "uri" }

// MarshalJSON implements json.Marshaler.
func (a URIAction) MarshalJSON() ([]byte, error) {
	type alias URIAction

	return marshalTyped(a.ActionType(), alias(a))
}

// Imagemap is an image with tappable areas.
type Imagemap struct {
	BaseURL  string           `json:"baseUrl"`
	AltText  string           `json:"altText"`
	BaseSize Size             `json:"baseSize"`
	Actions  []ImagemapAction `json:"actions"`
}

func (Imagemap) Type() string { return "imagemap" }

// MarshalJSON implements json.Marshaler.
func (m Imagemap) MarshalJSON() ([]byte, error) {
	type alias Imagemap

	return marshalTyped(m.Type(), alias(m))
}

// Size is an imagemap base size.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area is a rectangle of an imagemap.
type Area struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ImagemapAction is a tappable imagemap area. Exactly one of LinkURI and Text
// is set.
type ImagemapAction struct {
	LinkURI string `json:"linkUri,omitempty"`
	Text    string `json:"text,omitempty"`
	Area    Area   `json:"area"`
}

// MarshalJSON implements json.Marshaler.
func (a ImagemapAction) MarshalJSON() ([]byte, error) {
	type alias ImagemapAction

	kind := "message"
	if a.LinkURI != "" {
		kind = "uri"
	}

	return marshalTyped(kind, alias(a))
}

// marshalTyped marshals v with a leading "type" field.
func marshalTyped(kind string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	head, err := json.Marshal(kind)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(body)+len(head)+9)
	out = append(out, `{"type":`...)
	out = append(out, head...)

	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}

	return out, nil
}
