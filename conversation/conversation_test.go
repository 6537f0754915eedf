package conversation_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/quick"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/amp-labs/denguebot/conversation"
	"github.com/amp-labs/denguebot/conversation/conversationtest"
	"github.com/amp-labs/denguebot/denguebot"
	"github.com/amp-labs/denguebot/event"
	"github.com/amp-labs/denguebot/session"
	"github.com/amp-labs/denguebot/statemachine"
	"github.com/amp-labs/denguebot/statemachine/fsmtest"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleInfoQuestion(t *testing.T) {
	t.Parallel()

	env := conversationtest.New(t, nil)

	out, err := env.Service.Handle(t.Context(), fsmtest.TextEvent("U1", "登革熱"))
	require.NoError(t, err)

	assert.NotEmpty(t, out.RequestID)
	assert.Equal(t, denguebot.StateUser, out.Session.State)
	assert.Equal(t, []string{denguebot.StateAskDengueFever, denguebot.StateUser}, out.Fire.Path)
	assert.Equal(t, denguebot.StateUser, env.State(t, "U1"))
	assert.Len(t, env.Client.Replies(), 1)

	logged, err := env.Store.Messages(t.Context(), "U1", 0)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, "登革熱", logged[0].Content)
}

func TestHandleNoNearbyFacility(t *testing.T) {
	t.Parallel()

	env := conversationtest.New(t, nil)
	require.NoError(t, env.Sessions.Set(t.Context(), "U1", denguebot.StateAskHospital))

	// Taipei, far from every seeded facility.
	out, err := env.Service.Handle(t.Context(), fsmtest.LocationEvent("U1", 25.0478, 121.5170))
	require.NoError(t, err)

	assert.Equal(t, denguebot.StateUser, out.Session.State)
	assert.Contains(t, out.Fire.Path, denguebot.StateReceiveUserLocation)

	texts := env.Client.Texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "沒有")
}

func TestHandleUnrecognized(t *testing.T) {
	t.Parallel()

	env := conversationtest.New(t, nil)

	out, err := env.Service.Handle(t.Context(), fsmtest.TextEvent("U1", "今天天氣如何"))
	require.NoError(t, err)

	assert.Equal(t, denguebot.StateUser, out.Session.State)
	assert.Equal(t, []string{statemachine.DefaultFallbackState, denguebot.StateUser}, out.Fire.Path)
	assert.Equal(t, 1, out.Fire.Hops)

	count, err := env.Store.UnrecognizedCount(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHandleKeepsStateAcrossEvents(t *testing.T) {
	t.Parallel()

	env := conversationtest.New(t, nil)

	_, err := env.Service.Handle(t.Context(), fsmtest.TextEvent("U1", "3"))
	require.NoError(t, err)
	assert.Equal(t, denguebot.StateAskPrevention, env.State(t, "U1"))

	_, err = env.Service.Handle(t.Context(), fsmtest.TextEvent("U1", denguebot.PreventionSelf))
	require.NoError(t, err)
	assert.Equal(t, denguebot.StateUser, env.State(t, "U1"))
}

func TestHandleResetsSessionOnFailure(t *testing.T) {
	t.Parallel()

	env := conversationtest.New(t, nil)
	require.NoError(t, env.Sessions.Set(t.Context(), "U1", denguebot.StateAskPrevention))

	env.Client.ReplyErr = errors.New("line is down")

	_, err := env.Service.Handle(t.Context(), fsmtest.TextEvent("U1", denguebot.PreventionSelf))
	require.Error(t, err)
	assert.True(t, statemachine.IsActionError(err))

	assert.Equal(t, denguebot.StateUser, env.State(t, "U1"))
}

func TestHandleRejectsEventsWithoutUser(t *testing.T) {
	t.Parallel()

	env := conversationtest.New(t, nil)

	_, err := env.Service.Handle(t.Context(), &event.Event{Kind: event.KindText, Text: "hi"})
	require.ErrorIs(t, err, conversation.ErrNoUser)

	_, err = env.Service.Handle(t.Context(), nil)
	require.ErrorIs(t, err, statemachine.ErrContractViolation)
}

func TestHandleWithoutMachine(t *testing.T) {
	t.Parallel()

	sessions := session.NewManager(session.NewMemoryBackend(0), denguebot.StateUser)
	svc := conversation.NewService(statemachine.NewHolder(nil), sessions, nil)

	_, err := svc.Handle(t.Context(), fsmtest.TextEvent("U1", "hi"))
	require.ErrorIs(t, err, statemachine.ErrNoMachine)
}

func TestHandleAllContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	env := conversationtest.New(t, nil)

	events := []event.Event{
		*fsmtest.TextEvent("U1", "3"),
		{Kind: event.KindText, Text: "no user"},
		*fsmtest.TextEvent("U2", "3"),
	}

	err := env.Service.HandleAll(t.Context(), events)
	require.ErrorIs(t, err, conversation.ErrNoUser)
	assert.Contains(t, err.Error(), "event 1")

	assert.Equal(t, denguebot.StateAskPrevention, env.State(t, "U1"))
	assert.Equal(t, denguebot.StateAskPrevention, env.State(t, "U2"))
}

// An event whose reply never completes is cut off by the event deadline and
// the user starts over, whichever store keeps the sessions.
func TestHandleEventTimeoutResetsSession(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() { _ = client.Close() })

	backends := map[string]session.Backend{
		"memory": session.NewMemoryBackend(0),
		"redis":  session.NewRedisBackend(client, session.WithPollInterval(time.Millisecond)),
	}

	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			env := conversationtest.NewWithBackend(t, backend, nil,
				conversation.WithEventTimeout(100*time.Millisecond))

			_, err := env.Service.Handle(t.Context(), fsmtest.TextEvent("U1", "4"))
			require.NoError(t, err)
			require.Equal(t, denguebot.StateAskHospital, env.State(t, "U1"))

			env.Client.ReplyHangs = true

			out, err := env.Service.Handle(t.Context(), fsmtest.TextEvent("U1", "1"))
			require.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Equal(t, denguebot.StateUser, out.Session.State)
			assert.Equal(t, denguebot.StateUser, env.State(t, "U1"))
		})
	}
}

// Two users chatting at the same time keep independent conversations.
func TestConcurrentUsersKeepIndependentState(t *testing.T) {
	t.Parallel()

	env := conversationtest.New(t, nil)

	const users = 16

	var wg sync.WaitGroup

	errs := make(chan error, users*2)

	for i := range users {
		wg.Add(1)

		go func() {
			defer wg.Done()

			userID := fmt.Sprintf("U%02d", i)

			// Odd users stop in ask_prevention, even users go back to user.
			texts := []string{"3", denguebot.PreventionSelf}
			if i%2 == 1 {
				texts = []string{"1", "3"}
			}

			for _, text := range texts {
				if _, err := env.Service.Handle(context.Background(), fsmtest.TextEvent(userID, text)); err != nil {
					errs <- err
				}

				if _, err := env.Sessions.Get(context.Background(), userID); err != nil {
					errs <- err
				}
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	for i := range users {
		want := denguebot.StateUser
		if i%2 == 1 {
			want = denguebot.StateAskPrevention
		}

		assert.Equal(t, want, env.State(t, fmt.Sprintf("U%02d", i)), "user %d", i)
	}
}

// The same event sequence always produces the same sequence of states.
func TestHandleIsDeterministic(t *testing.T) {
	t.Parallel()

	env := conversationtest.New(t, nil)

	vocabulary := []func(userID string) *event.Event{
		func(u string) *event.Event { return fsmtest.TextEvent(u, "1") },
		func(u string) *event.Event { return fsmtest.TextEvent(u, "3") },
		func(u string) *event.Event { return fsmtest.TextEvent(u, "4") },
		func(u string) *event.Event { return fsmtest.TextEvent(u, denguebot.PreventionEnv) },
		func(u string) *event.Event { return fsmtest.TextEvent(u, conversationtest.TainanAddress) },
		func(u string) *event.Event { return fsmtest.TextEvent(u, "謝謝") },
		func(u string) *event.Event { return fsmtest.TextEvent(u, "隨便說說") },
		func(u string) *event.Event {
			return fsmtest.LocationEvent(u, conversationtest.Tainan.Lat, conversationtest.Tainan.Lng)
		},
		func(u string) *event.Event { return fsmtest.FollowEvent(u) },
	}

	run := 0

	states := func(userID string, picks []uint8) ([]string, error) {
		var out []string

		for _, pick := range picks {
			evt := vocabulary[int(pick)%len(vocabulary)](userID)

			result, err := env.Service.Handle(t.Context(), evt)
			if err != nil {
				return nil, err
			}

			out = append(out, result.Session.State)
		}

		return out, nil
	}

	property := func(picks []uint8) bool {
		run++

		first, err := states(fmt.Sprintf("A%d", run), picks)
		if err != nil {
			t.Log(err)

			return false
		}

		second, err := states(fmt.Sprintf("B%d", run), picks)
		if err != nil {
			t.Log(err)

			return false
		}

		return assert.Equal(t, first, second)
	}

	require.NoError(t, quick.Check(property, &quick.Config{MaxCount: 25}))
}

func TestReloadKeepsPreviousMachineOnFailure(t *testing.T) {
	t.Parallel()

	fsmPath := filepath.Join(t.TempDir(), "fsm.json")

	bundled, err := denguebot.Assets.ReadFile(denguebot.AssetFSM)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(fsmPath, bundled, 0o600))

	env := conversationtest.New(t, &conversation.Sources{FSM: fsmPath})
	holder := env.Service.Holder()
	before := holder.Load()
	version := holder.Version()

	require.NoError(t, os.WriteFile(fsmPath, []byte(`{"states": [`), 0o600))

	require.Error(t, env.Service.Reload(t.Context()))
	assert.Same(t, before, holder.Load())
	assert.Equal(t, version, holder.Version())

	_, err = env.Service.Handle(t.Context(), fsmtest.TextEvent("U1", "3"))
	require.NoError(t, err)
	assert.Equal(t, denguebot.StateAskPrevention, env.State(t, "U1"))

	require.NoError(t, os.WriteFile(fsmPath, bundled, 0o600))
	require.NoError(t, env.Service.Reload(t.Context()))
	assert.NotSame(t, before, holder.Load())
	assert.Equal(t, version+1, holder.Version())
}

func TestReloadWithoutLoader(t *testing.T) {
	t.Parallel()

	sessions := session.NewManager(session.NewMemoryBackend(0), denguebot.StateUser)
	svc := conversation.NewService(statemachine.NewHolder(nil), sessions, nil)

	require.ErrorIs(t, svc.Reload(t.Context()), conversation.ErrNoLoader)
}

func TestSourcesPaths(t *testing.T) {
	t.Parallel()

	assert.Empty(t, conversation.Sources{}.Paths())
	assert.Equal(t, []string{"a.json", "c.yaml"}, conversation.Sources{FSM: "a.json", Replies: "c.yaml"}.Paths())

	_, err := conversation.Sources{Conditions: "/does/not/exist.yaml"}.Load()
	require.Error(t, err)
}
