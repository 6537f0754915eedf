// Package records persists what the bot learns from its users: profiles,
// message and reply logs, unrecognized messages, suggestions and reports.
package records

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned when a user has never been recorded.
var ErrUserNotFound = errors.New("records: user not found")

// ErrReportNotFound is returned when a user has no government report to update.
var ErrReportNotFound = errors.New("records: report not found")

// User is a LINE user known to the bot.
type User struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	PictureURL    string    `json:"picture_url"`
	StatusMessage string    `json:"status_message"`
	Language      string    `json:"language"`
	Lat           *float64  `json:"lat,omitempty"`
	Lng           *float64  `json:"lng,omitempty"`
	ZapperID      string    `json:"zapper_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MessageLog is an inbound message.
type MessageLog struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	SpeakTime   time.Time `json:"speak_time"`
	MessageType string    `json:"message_type"`
	Content     string    `json:"content"`
}

// ReplyLog is an outbound message.
type ReplyLog struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	SpeakTime   time.Time `json:"speak_time"`
	MessageType string    `json:"message_type"`
	Content     string    `json:"content"`
}

// Suggestion is free-text feedback.
type Suggestion struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// GovReport is a field report from government staff. The location is
// attached by a follow-up message.
type GovReport struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	Action     string    `json:"action"`
	Note       string    `json:"note"`
	ReportTime time.Time `json:"report_time"`
	Lat        *float64  `json:"lat,omitempty"`
	Lng        *float64  `json:"lng,omitempty"`
}

// ZapperReport is a request for help with a mosquito zapper.
type ZapperReport struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	Content    string    `json:"content"`
	ReportTime time.Time `json:"report_time"`
}

// UnrecognizedMessage is a message the bot could not route, with the
// prepared response for its content when one is set.
type UnrecognizedMessage struct {
	MessageLog

	Response string `json:"response,omitempty"`
}

// Store is the persistence the conversation actions need.
type Store interface {
	// UpsertProfile creates the user or refreshes their profile fields.
	UpsertProfile(ctx context.Context, user User) error
	User(ctx context.Context, userID string) (User, error)
	SetLanguage(ctx context.Context, userID, language string) error
	SetLocation(ctx context.Context, userID string, lat, lng float64) error
	SetZapperID(ctx context.Context, userID, zapperID string) error

	// LogMessage stores an inbound message and returns its id.
	LogMessage(ctx context.Context, msg MessageLog) (int64, error)
	LogReply(ctx context.Context, reply ReplyLog) error
	Messages(ctx context.Context, userID string, limit int) ([]MessageLog, error)
	Replies(ctx context.Context, userID string, limit int) ([]ReplyLog, error)

	// MarkUnrecognized flags a logged message the bot could not handle.
	MarkUnrecognized(ctx context.Context, messageLogID int64) error
	// CannedResponse returns the prepared answer to an unrecognized message.
	CannedResponse(ctx context.Context, content string) (string, bool, error)
	SetCannedResponse(ctx context.Context, content, response string) error

	SaveSuggestion(ctx context.Context, suggestion Suggestion) error
	SaveGovReport(ctx context.Context, report GovReport) (int64, error)
	// LocateLatestGovReport sets the location of the user's newest report.
	LocateLatestGovReport(ctx context.Context, userID string, lat, lng float64) error
	SaveZapperReport(ctx context.Context, report ZapperReport) error
}
