package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amp-labs/denguebot/logger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultEndpoint is the LINE Messaging API base URL.
const DefaultEndpoint = "https://api.line.me"

var (
	// ErrNoMessages is returned for a reply without messages.
	ErrNoMessages = errors.New("messaging: no messages to send")
	// ErrTooManyMessages is returned for a reply over MaxReplyMessages.
	ErrTooManyMessages = fmt.Errorf("messaging: at most %d messages per reply", MaxReplyMessages)
	// ErrNoReplyToken is returned when replying without a token.
	ErrNoReplyToken = errors.New("messaging: reply token is required")
)

// Profile is a LINE user profile.
type Profile struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	PictureURL    string `json:"pictureUrl,omitempty"`
	StatusMessage string `json:"statusMessage,omitempty"`
	Language      string `json:"language,omitempty"`
}

// Client is the subset of the Messaging API the bot uses.
type Client interface {
	Reply(ctx context.Context, replyToken string, messages ...Message) error
	Profile(ctx context.Context, userID string) (Profile, error)
}

// APIError is a non-2xx Messaging API response.
type APIError struct {
	StatusCode int           `json:"-"`
	Message    string        `json:"message"`
	Details    []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail names the request property an error refers to.
type ErrorDetail struct {
	Message  string `json:"message"`
	Property string `json:"property"`
}

func (e *APIError) Error() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "line api: status %d: %s", e.StatusCode, e.Message)

	for _, d := range e.Details {
		fmt.Fprintf(&sb, "; %s: %s", d.Property, d.Message)
	}

	return sb.String()
}

// Option configures a LINEClient.
type Option func(*LINEClient)

// WithEndpoint overrides the API base URL.
func WithEndpoint(endpoint string) Option {
	return func(c *LINEClient) {
		c.endpoint = strings.TrimRight(endpoint, "/")
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *LINEClient) {
		c.http = client
	}
}

// LINEClient calls the LINE Messaging API with a channel access token.
type LINEClient struct {
	token    string
	endpoint string
	http     *http.Client
}

// NewLINEClient creates a client authenticating with token.
func NewLINEClient(token string, opts ...Option) *LINEClient {
	client := &LINEClient{
		token:    token,
		endpoint: DefaultEndpoint,
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

type replyRequest struct {
	ReplyToken string    `json:"replyToken"`
	Messages   []Message `json:"messages"`
}

// Reply sends messages in response to the event that carried replyToken.
func (c *LINEClient) Reply(ctx context.Context, replyToken string, messages ...Message) error {
	switch {
	case replyToken == "":
		return ErrNoReplyToken
	case len(messages) == 0:
		return ErrNoMessages
	case len(messages) > MaxReplyMessages:
		return ErrTooManyMessages
	}

	body, err := json.Marshal(replyRequest{ReplyToken: replyToken, Messages: messages})
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/v2/bot/message/reply", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	logger.Get(ctx).DebugContext(ctx, "Reply sent", "messages", len(messages))

	return nil
}

// Profile fetches the profile of userID.
func (c *LINEClient) Profile(ctx context.Context, userID string) (Profile, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v2/bot/profile/"+url.PathEscape(userID), nil)
	if err != nil {
		return Profile{}, err
	}
	defer resp.Body.Close()

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}

	return profile, nil
}

func (c *LINEClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("line api request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("line api %s %s: %w", method, path, err)
	}

	if resp.StatusCode/100 == 2 {
		return resp, nil
	}

	defer resp.Body.Close()

	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}

	return nil, apiErr
}
