// Package messagingtest provides an in-memory messaging.Client for tests.
package messagingtest

import (
	"context"
	"slices"
	"sync"

	"github.com/amp-labs/denguebot/messaging"
)

// Reply is one recorded Reply call.
type Reply struct {
	Token    string
	Messages []messaging.Message
}

// Client records replies and serves canned profiles.
type Client struct {
	mu       sync.Mutex
	replies  []Reply
	profiles map[string]messaging.Profile

	// ReplyErr, when set, is returned by every Reply call.
	ReplyErr error
	// ProfileErr, when set, is returned by every Profile call.
	ProfileErr error
	// ReplyHangs makes Reply wait for its context to end, like an API that
	// never answers.
	ReplyHangs bool
}

// NewClient creates an empty fake.
func NewClient() *Client {
	return &Client{profiles: make(map[string]messaging.Profile)}
}

// SetProfile registers the profile returned for its user id.
func (c *Client) SetProfile(profile messaging.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.profiles[profile.UserID] = profile
}

// Reply implements messaging.Client.
func (c *Client) Reply(ctx context.Context, token string, messages ...messaging.Message) error {
	if c.ReplyHangs {
		<-ctx.Done()

		return ctx.Err()
	}

	if c.ReplyErr != nil {
		return c.ReplyErr
	}

	if token == "" {
		return messaging.ErrNoReplyToken
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.replies = append(c.replies, Reply{Token: token, Messages: slices.Clone(messages)})

	return nil
}

// Profile implements messaging.Client. Unknown users get a profile carrying
// only their id.
func (c *Client) Profile(_ context.Context, userID string) (messaging.Profile, error) {
	if c.ProfileErr != nil {
		return messaging.Profile{}, c.ProfileErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if profile, ok := c.profiles[userID]; ok {
		return profile, nil
	}

	return messaging.Profile{UserID: userID}, nil
}

// Replies returns the recorded replies.
func (c *Client) Replies() []Reply {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.replies)
}

// Last returns the most recent reply, if any.
func (c *Client) Last() (Reply, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.replies) == 0 {
		return Reply{}, false
	}

	return c.replies[len(c.replies)-1], true
}

// Texts returns the text of every text message sent, in order.
func (c *Client) Texts() []string {
	var texts []string

	for _, reply := range c.Replies() {
		for _, m := range reply.Messages {
			if text, ok := m.(messaging.Text); ok {
				texts = append(texts, text.Text)
			}
		}
	}

	return texts
}

// Reset forgets the recorded replies.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.replies = nil
}
