package messaging

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageJSON(t *testing.T) {
	t.Parallel()

	msg := Template{
		AltText: "prevention",
		Template: Buttons{
			Text: "請選擇",
			Actions: []Action{
				PostbackAction{Label: "自身", Data: "自身"},
				URIAction{Label: "Link", URI: "http://www.denguefever.tw/realTime"},
			},
		},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "template",
		"altText": "prevention",
		"template": {
			"type": "buttons",
			"text": "請選擇",
			"actions": [
				{"type": "postback", "label": "自身", "data": "自身"},
				{"type": "uri", "label": "Link", "uri": "http://www.denguefever.tw/realTime"}
			]
		}
	}`, string(data))

	data, err = json.Marshal(Imagemap{
		BaseURL:  "https://i.imgur.com/9piGQjS.jpg",
		AltText:  "zapper",
		BaseSize: Size{Width: 1040, Height: 1040},
		Actions: []ImagemapAction{
			{LinkURI: "https://example.com/Z1", Area: Area{Width: 520, Height: 520}},
			{Text: "我要綁定補蚊燈！", Area: Area{X: 520, Y: 520, Width: 520, Height: 520}},
		},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "imagemap",
		"baseUrl": "https://i.imgur.com/9piGQjS.jpg",
		"altText": "zapper",
		"baseSize": {"width": 1040, "height": 1040},
		"actions": [
			{"type": "uri", "linkUri": "https://example.com/Z1", "area": {"x": 0, "y": 0, "width": 520, "height": 520}},
			{"type": "message", "text": "我要綁定補蚊燈！", "area": {"x": 520, "y": 520, "width": 520, "height": 520}}
		]
	}`, string(data))
}

func TestContent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "hello", Content(Text{Text: "hello"}))
	assert.Equal(t, "===This is image type message.===", Content(Image{}))
	assert.Equal(t, "===This is template type message.===", Content(Template{}))
}

func TestLINEClientReply(t *testing.T) {
	t.Parallel()

	var got map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/message/reply", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	client := NewLINEClient("secret-token", WithEndpoint(server.URL+"/"), WithHTTPClient(server.Client()))

	require.NoError(t, client.Reply(t.Context(), "token-1", Text{Text: "hi"}, Location{Title: "成大醫院"}))
	assert.Equal(t, "token-1", got["replyToken"])
	assert.Len(t, got["messages"], 2)

	require.ErrorIs(t, client.Reply(t.Context(), "", Text{Text: "hi"}), ErrNoReplyToken)
	require.ErrorIs(t, client.Reply(t.Context(), "token-1"), ErrNoMessages)

	six := make([]Message, MaxReplyMessages+1)
	for i := range six {
		six[i] = Text{Text: "x"}
	}

	require.ErrorIs(t, client.Reply(t.Context(), "token-1", six...), ErrTooManyMessages)
}

func TestLINEClientAPIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"The request body has 1 error(s)",` +
			`"details":[{"message":"Invalid reply token","property":"replyToken"}]}`))
	}))
	t.Cleanup(server.Close)

	client := NewLINEClient("t", WithEndpoint(server.URL), WithHTTPClient(server.Client()))

	err := client.Reply(t.Context(), "expired", Text{Text: "hi"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "The request body has 1 error(s)", apiErr.Message)
	require.Len(t, apiErr.Details, 1)
	assert.Equal(t, "replyToken", apiErr.Details[0].Property)
	assert.Contains(t, apiErr.Error(), "replyToken: Invalid reply token")
}

func TestLINEClientProfile(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/bot/profile/U123" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not found"}`))

			return
		}

		_, _ = w.Write([]byte(`{"userId":"U123","displayName":"小明","pictureUrl":"https://p","statusMessage":"hi"}`))
	}))
	t.Cleanup(server.Close)

	client := NewLINEClient("t", WithEndpoint(server.URL), WithHTTPClient(server.Client()))

	profile, err := client.Profile(t.Context(), "U123")
	require.NoError(t, err)
	assert.Equal(t, Profile{UserID: "U123", DisplayName: "小明", PictureURL: "https://p", StatusMessage: "hi"}, profile)

	_, err = client.Profile(t.Context(), "U404")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}
