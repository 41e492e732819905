package server_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tyrowin/hexatalk/internal/auth"
	"github.com/Tyrowin/hexatalk/internal/model"
	"github.com/Tyrowin/hexatalk/internal/server"
	"github.com/Tyrowin/hexatalk/internal/store"
	"github.com/Tyrowin/hexatalk/internal/testutil"
)

// harness runs a full chat server over an in-memory database.
type harness struct {
	t     *testing.T
	st    *store.Store
	authn *auth.Authenticator
	srv   *server.Server
	ts    *httptest.Server
}

func newHarness(t *testing.T, configure ...func(*server.Config)) *harness {
	t.Helper()

	st := testutil.NewStore(t)
	authn := testutil.NewAuthenticator(st)

	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{testutil.TestOrigin}
	cfg.ShutdownTimeout = 2 * time.Second
	for _, f := range configure {
		f(cfg)
	}

	srv := server.New(*cfg, st, authn, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Shutdown()
		ts.Close()
	})

	return &harness{t: t, st: st, authn: authn, srv: srv, ts: ts}
}

func (h *harness) user(name string) *model.User {
	return testutil.SeedUser(h.t, h.st, name)
}

func (h *harness) token(u *model.User) string {
	return testutil.Token(h.t, h.authn, u)
}

// connect opens a session for u and consumes its WELCOME.
func (h *harness) connect(u *model.User) *websocket.Conn {
	h.t.Helper()
	conn := testutil.Dial(h.t, h.ts.URL, h.token(u))
	env := testutil.ReadEnvelope(h.t, conn)
	require.Equal(h.t, server.TypeWelcome, env.Type())
	require.Equal(h.t, "Welcome "+u.Username, env.String("message"))
	return conn
}
