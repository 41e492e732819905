package server

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tyrowin/hexatalk/internal/model"
)

func newTestClient(h *Hub, username string) *Client {
	u := &model.User{ID: model.NewID(), Username: username}
	return NewClient(nil, h, u, "test:"+username, *NewConfig(), zap.NewNop())
}

func registered(t *testing.T, h *Hub, username string) *Client {
	t.Helper()
	c := newTestClient(h, username)
	require.NoError(t, h.Register(c))
	return c
}

// queued drains whatever c has been sent so far.
func queued(t *testing.T, c *Client) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return out
			}
			var env map[string]any
			require.NoError(t, json.Unmarshal(payload, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func types(envs []map[string]any) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e["type"].(string))
	}
	return out
}

func TestHubRegisterAndDeliver(t *testing.T) {
	h := NewHub(zap.NewNop())
	alice := registered(t, h, "alice")

	assert.Equal(t, 1, h.Count())
	assert.Same(t, alice, h.Lookup(alice.UserID()))

	assert.True(t, h.Deliver(alice.UserID(), newWelcome(alice.user)))
	assert.False(t, h.Deliver(model.NewID(), newWelcome(alice.user)), "offline users are skipped")

	envs := queued(t, alice)
	require.Len(t, envs, 1)
	assert.Equal(t, "Welcome alice", envs[0]["message"])
}

func TestHubRegisterReplacesAndClosesPreviousSession(t *testing.T) {
	h := NewHub(zap.NewNop())
	first := registered(t, h, "alice")

	second := NewClient(nil, h, first.user, "test:again", *NewConfig(), zap.NewNop())
	require.NoError(t, h.Register(second))

	assert.Equal(t, 1, h.Count())
	assert.Same(t, second, h.Lookup(first.UserID()))

	_, open := <-first.send
	assert.False(t, open, "previous queue is closed")
	assert.True(t, first.closed)
	assert.Equal(t, "session replaced", first.closeText)

	// the superseded session's teardown leaves the new one alone
	assert.False(t, h.Detach(first))
	assert.Same(t, second, h.Lookup(first.UserID()))
}

func TestHubDeliverDropsWhenQueueFull(t *testing.T) {
	h := NewHub(zap.NewNop())
	cfg := *NewConfig()
	cfg.SendBuffer = 1
	c := NewClient(nil, h, &model.User{ID: model.NewID(), Username: "slow"}, "test", cfg, zap.NewNop())
	require.NoError(t, h.Register(c))

	assert.True(t, h.Deliver(c.UserID(), newRandomChatWaiting()))
	assert.False(t, h.Deliver(c.UserID(), newRandomChatWaiting()))
	assert.Len(t, queued(t, c), 1)
}

func TestHubJoinRandom(t *testing.T) {
	h := NewHub(zap.NewNop())
	alice := registered(t, h, "alice")
	bob := registered(t, h, "bob")

	paired, err := h.JoinRandom(alice)
	require.NoError(t, err)
	assert.False(t, paired)
	assert.True(t, h.IsWaiting(alice.UserID()))
	assert.Equal(t, []string{TypeRandomChatWaiting}, types(queued(t, alice)))

	// asking again while waiting just waits again
	paired, err = h.JoinRandom(alice)
	require.NoError(t, err)
	assert.False(t, paired)
	assert.Equal(t, 1, h.WaitingCount())
	queued(t, alice)

	paired, err = h.JoinRandom(bob)
	require.NoError(t, err)
	assert.True(t, paired)
	assert.Equal(t, 0, h.WaitingCount())

	p, ok := h.PartnerOf(alice.UserID())
	require.True(t, ok)
	assert.Equal(t, bob.UserID(), p)
	p, ok = h.PartnerOf(bob.UserID())
	require.True(t, ok)
	assert.Equal(t, alice.UserID(), p)

	a := queued(t, alice)
	require.Len(t, a, 1)
	assert.Equal(t, TypeRandomChatConnected, a[0]["type"])
	assert.Equal(t, "bob", a[0]["partnerUsername"])
	b := queued(t, bob)
	require.Len(t, b, 1)
	assert.Equal(t, "alice", b[0]["partnerUsername"])

	_, err = h.JoinRandom(alice)
	assert.ErrorIs(t, err, errAlreadyPair)
}

func TestHubConcurrentJoinRandomPairsExactlyOnce(t *testing.T) {
	for round := 0; round < 50; round++ {
		h := NewHub(zap.NewNop())
		alice := registered(t, h, "alice")
		bob := registered(t, h, "bob")

		var wg sync.WaitGroup
		results := make([]bool, 2)
		for i, c := range []*Client{alice, bob} {
			wg.Add(1)
			go func(i int, c *Client) {
				defer wg.Done()
				paired, err := h.JoinRandom(c)
				assert.NoError(t, err)
				results[i] = paired
			}(i, c)
		}
		wg.Wait()

		assert.NotEqual(t, results[0], results[1], "exactly one INIT forms the pairing")
		assert.Equal(t, 0, h.WaitingCount())
		p, ok := h.PartnerOf(alice.UserID())
		require.True(t, ok)
		assert.Equal(t, bob.UserID(), p)
	}
}

func TestHubConcurrentJoinRandomManyUsers(t *testing.T) {
	h := NewHub(zap.NewNop())
	const n = 20
	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = registered(t, h, "user")
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			_, err := h.JoinRandom(c)
			assert.NoError(t, err)
		}(c)
	}
	wg.Wait()

	assert.Equal(t, 0, h.WaitingCount())
	for _, c := range clients {
		p, ok := h.PartnerOf(c.UserID())
		require.True(t, ok)
		back, ok := h.PartnerOf(p)
		require.True(t, ok)
		assert.Equal(t, c.UserID(), back, "pairings are symmetric")
		assert.NotEqual(t, c.UserID(), p)
	}
}

func TestHubRelayRandom(t *testing.T) {
	h := NewHub(zap.NewNop())
	alice := registered(t, h, "alice")
	bob := registered(t, h, "bob")

	assert.ErrorIs(t, h.RelayRandom(alice, "hello?"), errNotPaired)

	_, _ = h.JoinRandom(alice)
	_, _ = h.JoinRandom(bob)
	queued(t, alice)
	queued(t, bob)

	require.NoError(t, h.RelayRandom(alice, "hi"))
	b := queued(t, bob)
	require.Len(t, b, 1)
	assert.Equal(t, TypeRandomChatMessage, b[0]["type"])
	assert.Equal(t, "alice", b[0]["from"])
	assert.Equal(t, "hi", b[0]["message"])
}

func TestHubDetachWaitingUser(t *testing.T) {
	h := NewHub(zap.NewNop())
	alice := registered(t, h, "alice")
	_, _ = h.JoinRandom(alice)

	assert.True(t, h.Detach(alice))
	assert.Nil(t, h.Lookup(alice.UserID()))
	assert.False(t, h.IsWaiting(alice.UserID()))
	_, paired := h.PartnerOf(alice.UserID())
	assert.False(t, paired)
}

func TestHubDetachPairedUserNotifiesPartner(t *testing.T) {
	h := NewHub(zap.NewNop())
	alice := registered(t, h, "alice")
	bob := registered(t, h, "bob")
	_, _ = h.JoinRandom(alice)
	_, _ = h.JoinRandom(bob)
	queued(t, bob)

	assert.True(t, h.Detach(alice))
	assert.False(t, h.IsWaiting(alice.UserID()))
	_, ok := h.PartnerOf(alice.UserID())
	assert.False(t, ok)
	_, ok = h.PartnerOf(bob.UserID())
	assert.False(t, ok)

	assert.Equal(t, []string{TypeRandomChatDisconnected}, types(queued(t, bob)))
}

func TestHubInheritsPairingOnReconnect(t *testing.T) {
	h := NewHub(zap.NewNop())
	alice := registered(t, h, "alice")
	bob := registered(t, h, "bob")
	_, _ = h.JoinRandom(alice)
	_, _ = h.JoinRandom(bob)
	queued(t, bob)

	again := NewClient(nil, h, alice.user, "test:again", *NewConfig(), zap.NewNop())
	require.NoError(t, h.Register(again))
	assert.False(t, h.Detach(alice))

	p, ok := h.PartnerOf(bob.UserID())
	require.True(t, ok)
	assert.Equal(t, alice.UserID(), p)
	assert.Empty(t, queued(t, bob), "partner is not told about the replaced socket")

	require.NoError(t, h.RelayRandom(bob, "still there?"))
	assert.Len(t, queued(t, again), 1)
}

func TestHubShutdown(t *testing.T) {
	h := NewHub(zap.NewNop())
	alice := registered(t, h, "alice")

	require.NoError(t, h.Shutdown(time.Second))
	assert.Equal(t, 0, h.Count())
	assert.True(t, alice.closed)
	assert.Equal(t, websocket.CloseGoingAway, alice.closeCode)

	assert.ErrorIs(t, h.Register(newTestClient(h, "late")), ErrHubClosed)
}
