package server_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/hexatalk/internal/model"
	"github.com/Tyrowin/hexatalk/internal/server"
	"github.com/Tyrowin/hexatalk/internal/testutil"
)

func expectRejected(t *testing.T, conn *websocket.Conn, reason string) {
	t.Helper()
	env := testutil.ReadEnvelope(t, conn)
	assert.Equal(t, server.TypeError, env.Type())
	assert.Equal(t, reason, env.String("message"))

	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, reason, closeErr.Text)
}

func TestHandshakeRejections(t *testing.T) {
	h := newHarness(t)
	alice := h.user("alice")
	ctx := context.Background()

	revoked := h.token(alice)
	require.NoError(t, h.authn.Revoke(ctx, revoked))

	ghost, err := h.authn.Issue(&model.User{ID: model.NewID(), Username: "ghost"}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		reason string
	}{
		{"missing", "", "No authorization header"},
		{"garbage", "abc.def.ghi", "Invalid token"},
		{"revoked", revoked, "Token has been revoked"},
		{"unknown user", ghost, "User not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := testutil.DialRaw(h.ts.URL, tt.token)
			if resp != nil {
				_ = resp.Body.Close()
			}
			require.NoError(t, err)
			defer conn.Close()
			expectRejected(t, conn, tt.reason)
		})
	}
	assert.Equal(t, 0, h.srv.Hub().Count())
}

func TestHandshakeTokenFromQuery(t *testing.T) {
	h := newHarness(t)
	alice := h.user("alice")

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", testutil.TestOrigin)
	conn, resp, err := dialer.Dial(testutil.WebSocketURL(h.ts.URL)+"?token="+h.token(alice), headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, server.TypeWelcome, testutil.ReadEnvelope(t, conn).Type())
}

func TestHandshakeBlocksDisallowedOrigin(t *testing.T) {
	h := newHarness(t)
	alice := h.user("alice")

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", "http://evil.example")
	headers.Set("Authorization", "Bearer "+h.token(alice))
	_, resp, err := dialer.Dial(testutil.WebSocketURL(h.ts.URL), headers)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWelcomeSequence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob, carol := h.user("alice"), h.user("bob"), h.user("carol")
	testutil.MakeFriends(t, h.st, alice, bob)

	req, err := h.st.CreateFriendRequest(ctx, carol.ID, bob.ID)
	require.NoError(t, err)

	chat, err := h.st.FindOrCreateDirectChat(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	for _, body := range []string{"one", "two"} {
		require.NoError(t, h.st.CreateMessage(ctx, &model.Message{ChatID: chat.ID, FromID: alice.ID, ToID: &bob.ID, Body: body}))
	}

	conn := h.connect(bob)

	pending := testutil.ReadEnvelope(t, conn)
	require.Equal(t, server.TypePendingRequests, pending.Type())
	require.Len(t, pending.Items(), 1)
	assert.Equal(t, req.ID, pending.Items()[0].(map[string]any)["id"])

	unread := testutil.ReadEnvelope(t, conn)
	require.Equal(t, server.TypeUnreadCount, unread.Type())
	require.Len(t, unread.Items(), 1)
	entry := unread.Items()[0].(map[string]any)
	assert.Equal(t, alice.ID, entry["friendId"])
	assert.Equal(t, "alice", entry["username"])
	assert.EqualValues(t, 2, entry["unreadCount"])
	assert.Equal(t, "two", entry["lastMessage"].(map[string]any)["text"])
}

func TestWelcomeOmitsEmptyParts(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(h.user("alice"))
	testutil.ExpectNoMessage(t, conn, 200*time.Millisecond)
}

func TestDirectMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob := h.user("alice"), h.user("bob")
	testutil.MakeFriends(t, h.st, alice, bob)

	a := h.connect(alice)
	b := h.connect(bob)

	testutil.Send(t, a, map[string]any{"type": "SEND_MESSAGE", "to": bob.ID, "message": "hi"})

	got := testutil.ReadEnvelope(t, b)
	assert.Equal(t, server.TypeDirectMessage, got.Type())
	assert.Equal(t, "alice", got.String("from"))
	assert.Equal(t, alice.ID, got.String("fromId"))
	assert.Equal(t, "hi", got.String("message"))

	history, err := h.st.DirectHistory(ctx, alice.ID, bob.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, alice.ID, history[0].FromID)
	require.NotNil(t, history[0].ToID)
	assert.Equal(t, bob.ID, *history[0].ToID)
	assert.Equal(t, []string{alice.ID}, history[0].ReaderIDs())
	assert.Equal(t, got.String("chatId"), history[0].ChatID)
}

func TestDirectMessageToOfflineFriendIsStored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob := h.user("alice"), h.user("bob")
	testutil.MakeFriends(t, h.st, alice, bob)

	a := h.connect(alice)
	testutil.Send(t, a, map[string]any{"type": "SEND_MESSAGE", "to": bob.ID, "message": "are you there"})

	require.Eventually(t, func() bool {
		n, err := h.st.CountUnread(ctx, alice.ID, bob.ID)
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	// the sender gets no acknowledgement and no error
	testutil.ExpectNoMessage(t, a, 200*time.Millisecond)
}

func TestDirectMessageRejections(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user("alice"), h.user("bob")
	a := h.connect(alice)

	tests := []struct {
		frame map[string]any
		want  string
	}{
		{map[string]any{"type": "SEND_MESSAGE", "to": "not-an-id", "message": "hi"}, "Invalid Recipient Id"},
		{map[string]any{"type": "SEND_MESSAGE", "to": model.NewID(), "message": "hi"}, "Recipient not found"},
		{map[string]any{"type": "SEND_MESSAGE", "to": bob.ID, "message": "hi"}, "You are not friends with bob."},
		{map[string]any{"type": "SEND_MESSAGE", "to": bob.ID, "message": "  "}, "Message is required"},
		{map[string]any{"type": "SEND_MESSAGE", "message": "hi"}, "Recipient Id is required"},
		{map[string]any{"type": "READ_MESSAGES", "to": bob.ID}, "You are not friends with bob."},
		{map[string]any{"type": "WHATEVER"}, "Unknown message type"},
	}
	for _, tt := range tests {
		testutil.Send(t, a, tt.frame)
		env := testutil.ReadEnvelope(t, a)
		assert.Equal(t, server.TypeError, env.Type())
		assert.Equal(t, tt.want, env.String("message"))
	}

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("{not json")))
	env := testutil.ReadEnvelope(t, a)
	assert.Equal(t, "Invalid message format", env.String("message"))

	// still open after every error
	testutil.Send(t, a, map[string]any{"type": "RANDOM_CHAT_INIT"})
	assert.Equal(t, server.TypeRandomChatWaiting, testutil.ReadEnvelope(t, a).Type())
}

func TestReadMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob := h.user("alice"), h.user("bob")
	testutil.MakeFriends(t, h.st, alice, bob)

	a := h.connect(alice)
	b := h.connect(bob)

	for _, body := range []string{"one", "two"} {
		testutil.Send(t, a, map[string]any{"type": "SEND_MESSAGE", "to": bob.ID, "message": body})
		testutil.ReadUntilType(t, b, server.TypeDirectMessage)
	}

	readers := func() [][]string {
		msgs, err := h.st.DirectHistory(ctx, alice.ID, bob.ID, "", 10)
		require.NoError(t, err)
		out := make([][]string, 0, len(msgs))
		for _, m := range msgs {
			ids, err := h.st.ReaderIDs(ctx, m.ID)
			require.NoError(t, err)
			out = append(out, ids)
		}
		return out
	}

	testutil.Send(t, b, map[string]any{"type": "READ_MESSAGES", "to": alice.ID})

	digest := testutil.ReadEnvelope(t, b)
	assert.Equal(t, server.TypeUnreadCount, digest.Type())
	assert.Empty(t, digest.Items())

	notice := testutil.ReadEnvelope(t, a)
	assert.Equal(t, server.TypeMessagesRead, notice.Type())
	assert.Equal(t, bob.ID, notice.Data()["by"])
	assert.Equal(t, alice.ID, notice.Data()["chatWith"])

	first := readers()
	for _, ids := range first {
		assert.ElementsMatch(t, []string{alice.ID, bob.ID}, ids)
	}

	testutil.Send(t, b, map[string]any{"type": "READ_MESSAGES", "to": alice.ID})
	assert.Equal(t, server.TypeUnreadCount, testutil.ReadEnvelope(t, b).Type())
	assert.Equal(t, first, readers())
}

func TestRandomChat(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user("alice"), h.user("bob")
	a := h.connect(alice)
	b := h.connect(bob)

	testutil.Send(t, a, map[string]any{"type": "RANDOM_CHAT"})
	assert.Equal(t, "Message is required", testutil.ReadEnvelope(t, a).String("message"))

	testutil.Send(t, a, map[string]any{"type": "RANDOM_CHAT", "message": "anyone?"})
	assert.Equal(t, "You are not connected to anyone", testutil.ReadEnvelope(t, a).String("message"))

	testutil.Send(t, a, map[string]any{"type": "RANDOM_CHAT_INIT"})
	assert.Equal(t, server.TypeRandomChatWaiting, testutil.ReadEnvelope(t, a).Type())

	testutil.Send(t, b, map[string]any{"type": "RANDOM_CHAT_INIT"})
	connA := testutil.ReadEnvelope(t, a)
	connB := testutil.ReadEnvelope(t, b)
	assert.Equal(t, server.TypeRandomChatConnected, connA.Type())
	assert.Equal(t, "bob", connA.String("partnerUsername"))
	assert.Equal(t, server.TypeRandomChatConnected, connB.Type())
	assert.Equal(t, "alice", connB.String("partnerUsername"))
	assert.Equal(t, 0, h.srv.Hub().WaitingCount())

	testutil.Send(t, a, map[string]any{"type": "RANDOM_CHAT", "message": "hello stranger"})
	msg := testutil.ReadEnvelope(t, b)
	assert.Equal(t, server.TypeRandomChatMessage, msg.Type())
	assert.Equal(t, "alice", msg.String("from"))
	assert.Equal(t, "hello stranger", msg.String("message"))

	testutil.Send(t, b, map[string]any{"type": "RANDOM_CHAT_INIT"})
	assert.Equal(t, "You are already connected to a random user", testutil.ReadEnvelope(t, b).String("message"))

	require.NoError(t, a.Close())
	assert.Equal(t, server.TypeRandomChatDisconnected, testutil.ReadEnvelope(t, b).Type())

	_, paired := h.srv.Hub().PartnerOf(bob.ID)
	assert.False(t, paired)
	testutil.Send(t, b, map[string]any{"type": "RANDOM_CHAT", "message": "bye"})
	assert.Equal(t, "You are not connected to anyone", testutil.ReadEnvelope(t, b).String("message"))
}

func TestConcurrentRandomChatInit(t *testing.T) {
	h := newHarness(t)
	a := h.connect(h.user("alice"))
	b := h.connect(h.user("bob"))

	testutil.Send(t, a, map[string]any{"type": "RANDOM_CHAT_INIT"})
	testutil.Send(t, b, map[string]any{"type": "RANDOM_CHAT_INIT"})

	// whoever was first waits, then both are connected
	gotA := testutil.ReadUntilType(t, a, server.TypeRandomChatConnected)
	gotB := testutil.ReadUntilType(t, b, server.TypeRandomChatConnected)
	assert.Equal(t, "bob", gotA.String("partnerUsername"))
	assert.Equal(t, "alice", gotB.String("partnerUsername"))
	assert.Equal(t, 0, h.srv.Hub().WaitingCount())
}

func TestWaitingUserDisconnectLeavesPool(t *testing.T) {
	h := newHarness(t)
	alice := h.user("alice")
	a := h.connect(alice)

	testutil.Send(t, a, map[string]any{"type": "RANDOM_CHAT_INIT"})
	testutil.ReadEnvelope(t, a)
	require.True(t, h.srv.Hub().IsWaiting(alice.ID))

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool {
		return !h.srv.Hub().Online(alice.ID) && !h.srv.Hub().IsWaiting(alice.ID)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconnectReplacesSession(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user("alice"), h.user("bob")
	testutil.MakeFriends(t, h.st, alice, bob)

	first := h.connect(alice)
	second := h.connect(alice)

	_, _, err := first.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
	assert.Equal(t, "session replaced", closeErr.Text)

	assert.Equal(t, 1, h.srv.Hub().Count())

	b := h.connect(bob)
	testutil.Send(t, b, map[string]any{"type": "SEND_MESSAGE", "to": alice.ID, "message": "which one?"})
	got := testutil.ReadEnvelope(t, second)
	assert.Equal(t, "which one?", got.String("message"))
}

func TestGroupChat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob, carol, dave := h.user("alice"), h.user("bob"), h.user("carol"), h.user("dave")
	testutil.MakeFriends(t, h.st, alice, bob)
	testutil.MakeFriends(t, h.st, alice, carol)

	a := h.connect(alice)
	b := h.connect(bob)
	c := h.connect(carol)
	d := h.connect(dave)

	testutil.Send(t, a, map[string]any{"type": "CREATE_GROUP_CHAT", "name": "Trip", "members": []string{bob.ID, carol.ID}})

	created := testutil.ReadEnvelope(t, a)
	require.Equal(t, server.TypeNewGroupCreated, created.Type())
	chatID, _ := created.Data()["id"].(string)
	require.NotEmpty(t, chatID)
	assert.Equal(t, alice.ID, created.Data()["admin"])

	for _, conn := range []*websocket.Conn{b, c} {
		n := testutil.ReadEnvelope(t, conn)
		assert.Equal(t, server.TypeNotification, n.Type())
		assert.Equal(t, `You are added to a new group "Trip" by alice`, n.String("message"))
		assert.Equal(t, chatID, n.String("chatId"))
	}

	chat, err := h.st.MemberChat(ctx, chatID, alice.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{alice.ID, bob.ID, carol.ID}, chat.MemberIDs())

	testutil.Send(t, b, map[string]any{"type": "GROUP_MESSAGE", "chatId": chatID, "message": "packing now"})

	sent := testutil.ReadEnvelope(t, b)
	require.Equal(t, server.TypeGroupMessageSent, sent.Type())
	assert.Equal(t, "packing now", sent.Data()["message"])
	assert.Equal(t, []any{bob.ID}, sent.Data()["readBy"])
	_, hasTo := sent.Data()["to"]
	assert.False(t, hasTo)

	for _, conn := range []*websocket.Conn{a, c} {
		push := testutil.ReadEnvelope(t, conn)
		assert.Equal(t, server.TypeGroupMessage, push.Type())
		assert.Equal(t, chatID, push.Data()["chatId"])
		assert.Equal(t, bob.ID, push.Data()["from"])
		assert.Equal(t, "packing now", push.Data()["message"])
	}

	testutil.Send(t, d, map[string]any{"type": "GROUP_MESSAGE", "chatId": chatID, "message": "let me in"})
	denied := testutil.ReadEnvelope(t, d)
	assert.Equal(t, server.TypeError, denied.Type())
	assert.Equal(t, "Group not found or you are not a member of this group", denied.String("message"))

	msgs, err := h.st.MessagesInChat(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "the outsider's message is not stored")

	testutil.Send(t, a, map[string]any{"type": "CREATE_GROUP_CHAT", "name": "Trip", "members": []string{bob.ID, carol.ID}})
	assert.Equal(t, "You have already created a group with this name", testutil.ReadEnvelope(t, a).String("message"))

	testutil.Send(t, a, map[string]any{"type": "CREATE_GROUP_CHAT", "name": "Party", "members": []string{bob.ID, dave.ID}})
	assert.Equal(t, "You can create a group only with your friends", testutil.ReadEnvelope(t, a).String("message"))
}

func TestCreateGroupBelowMinimum(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob := h.user("alice"), h.user("bob")
	testutil.MakeFriends(t, h.st, alice, bob)
	a := h.connect(alice)

	testutil.Send(t, a, map[string]any{"type": "CREATE_GROUP_CHAT", "name": "Duo", "members": []string{bob.ID, alice.ID}})
	env := testutil.ReadEnvelope(t, a)
	assert.Equal(t, server.TypeError, env.Type())
	assert.Equal(t, "At least 3 members should be there in a group", env.String("message"))

	exists, err := h.st.GroupExists(ctx, alice.ID, "Duo")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDisconnectRefreshesLastMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob := h.user("alice"), h.user("bob")
	testutil.MakeFriends(t, h.st, alice, bob)

	a := h.connect(alice)
	b := h.connect(bob)
	testutil.Send(t, a, map[string]any{"type": "SEND_MESSAGE", "to": bob.ID, "message": "last words"})
	testutil.ReadUntilType(t, b, server.TypeDirectMessage)

	require.NoError(t, a.Close())

	chat, err := h.st.FindOrCreateDirectChat(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	msgs, err := h.st.MessagesInChat(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.Eventually(t, func() bool {
		got, err := h.st.ChatByID(ctx, chat.ID)
		return err == nil && got.LastMessageID != nil && *got.LastMessageID == msgs[0].ID
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, h.srv.Hub().Online(alice.ID))
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, func(cfg *server.Config) {
		cfg.RateLimit = server.RateLimitConfig{Burst: 1, RefillInterval: time.Minute}
	})
	a := h.connect(h.user("alice"))

	testutil.Send(t, a, map[string]any{"type": "RANDOM_CHAT_INIT"})
	assert.Equal(t, server.TypeRandomChatWaiting, testutil.ReadEnvelope(t, a).Type())

	testutil.Send(t, a, map[string]any{"type": "RANDOM_CHAT_INIT"})
	env := testutil.ReadEnvelope(t, a)
	assert.Equal(t, server.TypeError, env.Type())
	assert.Equal(t, "Rate limit exceeded, message discarded", env.String("message"))
}

func TestOversizedFrameClosesSession(t *testing.T) {
	h := newHarness(t, func(cfg *server.Config) { cfg.MaxMessageSize = 64 })
	alice := h.user("alice")
	a := h.connect(alice)

	big := make([]byte, 256)
	for i := range big {
		big[i] = 'x'
	}
	require.NoError(t, a.WriteMessage(websocket.TextMessage, big))

	require.Eventually(t, func() bool { return !h.srv.Hub().Online(alice.ID) }, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownClosesSessions(t *testing.T) {
	h := newHarness(t)
	a := h.connect(h.user("alice"))

	require.NoError(t, h.srv.Shutdown())

	_, _, err := a.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
}
