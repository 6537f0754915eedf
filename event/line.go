package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedPayload is returned when a webhook body cannot be decoded.
	ErrMalformedPayload = errors.New("malformed webhook payload")
	// ErrMissingUserID is returned for events whose source carries no user id.
	ErrMissingUserID = errors.New("event source has no user id")
)

type lineBody struct {
	Destination string      `json:"destination"`
	Events      []lineEvent `json:"events"`
}

type lineEvent struct {
	Type       string        `json:"type"`
	Timestamp  int64         `json:"timestamp"`
	ReplyToken string        `json:"replyToken"`
	Source     lineSource    `json:"source"`
	Message    *lineMessage  `json:"message,omitempty"`
	Postback   *linePostback `json:"postback,omitempty"`
}

type lineSource struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

type lineMessage struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Text      string  `json:"text,omitempty"`
	Title     string  `json:"title,omitempty"`
	Address   string  `json:"address,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	PackageID string  `json:"packageId,omitempty"`
	StickerID string  `json:"stickerId,omitempty"`
}

type linePostback struct {
	Data string `json:"data"`
}

// DecodeLINE decodes a LINE webhook body into events, preserving their order.
// Events from sources without a user id (group or room events the bot cannot
// attribute) are skipped and reported in the returned count.
func DecodeLINE(body []byte) ([]Event, int, error) {
	var payload lineBody

	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	if payload.Events == nil {
		return nil, 0, fmt.Errorf("%w: missing events", ErrMalformedPayload)
	}

	events := make([]Event, 0, len(payload.Events))
	skipped := 0

	for idx, raw := range payload.Events {
		evt, err := raw.toEvent()
		if errors.Is(err, ErrMissingUserID) {
			skipped++

			continue
		}

		if err != nil {
			return nil, 0, fmt.Errorf("event %d: %w", idx, err)
		}

		events = append(events, evt)
	}

	return events, skipped, nil
}

func (le lineEvent) toEvent() (Event, error) {
	if le.Source.UserID == "" {
		return Event{}, ErrMissingUserID
	}

	evt := Event{
		UserID:     le.Source.UserID,
		ReplyToken: le.ReplyToken,
		Timestamp:  time.UnixMilli(le.Timestamp),
	}

	switch le.Type {
	case "message":
		if le.Message == nil {
			return Event{}, fmt.Errorf("%w: message event without message", ErrMalformedPayload)
		}

		evt.MessageID = le.Message.ID
		evt.Kind = messageKind(le.Message.Type)

		switch evt.Kind { //nolint:exhaustive
		case KindText:
			evt.Text = le.Message.Text
		case KindLocation:
			evt.Location = &Location{
				Title:     le.Message.Title,
				Address:   le.Message.Address,
				Latitude:  le.Message.Latitude,
				Longitude: le.Message.Longitude,
			}
		case KindSticker:
			evt.PackageID = le.Message.PackageID
			evt.StickerID = le.Message.StickerID
		}
	case "postback":
		if le.Postback == nil {
			return Event{}, fmt.Errorf("%w: postback event without postback", ErrMalformedPayload)
		}

		evt.Kind = KindPostback
		evt.PostbackData = le.Postback.Data
	case "follow":
		evt.Kind = KindFollow
	case "unfollow":
		evt.Kind = KindUnfollow
	case "join":
		evt.Kind = KindJoin
	case "leave":
		evt.Kind = KindLeave
	case "beacon":
		evt.Kind = KindBeacon
	default:
		evt.Kind = KindUnknown
	}

	return evt, nil
}

func messageKind(messageType string) Kind {
	switch Kind(messageType) { //nolint:exhaustive
	case KindText, KindSticker, KindImage, KindVideo, KindAudio, KindFile, KindLocation:
		return Kind(messageType)
	default:
		return KindUnknown
	}
}
