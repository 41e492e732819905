// Package testutil provides fixtures shared by the HexaTalk test suites: an
// in-memory database, seeded users, signed tokens and websocket helpers.
package testutil

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Tyrowin/hexatalk/internal/auth"
	"github.com/Tyrowin/hexatalk/internal/model"
	"github.com/Tyrowin/hexatalk/internal/store"
)

// TestOrigin is the Origin header sent by Dial; servers under test must
// allow it.
const TestOrigin = "http://localhost:8080"

// TestSecret signs tokens in tests.
const TestSecret = "test-secret"

var dbSeq atomic.Int64

// NewStore opens a private, migrated in-memory SQLite database that lives
// until the test ends.
func NewStore(t *testing.T) *store.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:hexatalk_test_%d?mode=memory&cache=shared&_busy_timeout=5000", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Discard,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection keeps the in-memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)

	st := store.New(db)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// SeedUser creates a user with the given username.
func SeedUser(t *testing.T, st *store.Store, username string) *model.User {
	t.Helper()
	u := &model.User{
		Username: username,
		Fullname: strings.ToUpper(username[:1]) + username[1:],
		Email:    username + "@example.com",
	}
	require.NoError(t, st.CreateUser(context.Background(), u))
	return u
}

// MakeFriends links every pair among users.
func MakeFriends(t *testing.T, st *store.Store, users ...*model.User) {
	t.Helper()
	for i := range users {
		for j := i + 1; j < len(users); j++ {
			require.NoError(t, st.AddFriendship(context.Background(), users[i].ID, users[j].ID))
		}
	}
}

// NewAuthenticator returns an authenticator over st signing with TestSecret.
func NewAuthenticator(st *store.Store) *auth.Authenticator {
	return auth.NewAuthenticator(TestSecret, st, auth.NewDBRevocations(st.DB()))
}

// Token issues a one-hour token for u.
func Token(t *testing.T, a *auth.Authenticator, u *model.User) string {
	t.Helper()
	tok, err := a.Issue(u, time.Hour)
	require.NoError(t, err)
	return tok
}

// WebSocketURL turns an httptest base URL into the chat endpoint URL.
func WebSocketURL(baseURL string) string {
	return "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
}

// Dial opens an authenticated websocket session. The connection is closed
// when the test ends.
func Dial(t *testing.T, baseURL, token string) *websocket.Conn {
	t.Helper()
	conn, resp, err := DialRaw(baseURL, token)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DialRaw dials without failing the test. An empty token sends no
// credential.
func DialRaw(baseURL, token string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", TestOrigin)
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}
	return dialer.Dial(WebSocketURL(baseURL), headers)
}

// Envelope is a decoded outbound frame.
type Envelope map[string]any

// Type returns the discriminant.
func (e Envelope) Type() string {
	s, _ := e["type"].(string)
	return s
}

// Data returns the data payload as an object.
func (e Envelope) Data() map[string]any {
	m, _ := e["data"].(map[string]any)
	return m
}

// Items returns the data payload as an array.
func (e Envelope) Items() []any {
	a, _ := e["data"].([]any)
	return a
}

// String returns a top-level string field.
func (e Envelope) String(key string) string {
	s, _ := e[key].(string)
	return s
}

// ReadEnvelope reads the next frame within five seconds.
func ReadEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

// ReadUntilType skips frames until one of type typ arrives.
func ReadUntilType(t *testing.T, conn *websocket.Conn, typ string) Envelope {
	t.Helper()
	for i := 0; i < 20; i++ {
		env := ReadEnvelope(t, conn)
		if env.Type() == typ {
			return env
		}
	}
	t.Fatalf("no %s envelope within 20 frames", typ)
	return nil
}

// ExpectNoMessage asserts nothing arrives within d. A timed-out read leaves
// the connection unusable, so this must be the last read on conn.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	var env Envelope
	err := conn.ReadJSON(&env)
	require.Error(t, err, "unexpected frame %v", env)
}

// Send writes v as a JSON frame.
func Send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetWriteDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.WriteJSON(v))
}
