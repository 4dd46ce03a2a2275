package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/deskchat/deskchat-server/internal/auth"
	"github.com/deskchat/deskchat-server/internal/config"
	"github.com/deskchat/deskchat-server/internal/relay"
	"github.com/deskchat/deskchat-server/internal/store/sqlite"
)

type testEnv struct {
	ts       *httptest.Server
	store    *sqlite.SQLiteStore
	registry *relay.Registry
	auth     *auth.Service
}

func startTestServer(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := zerolog.Nop()
	jwtConfig := &auth.JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}
	authService := auth.NewService(st, jwtConfig)

	registry := relay.NewRegistry()
	router := relay.NewRouter(st, registry, &logger)
	resolver := relay.NewStoreResolver(st)

	server := NewServer(config.Config{
		Addr:              ":0",
		ReadHeaderTimeout: time.Second,
		ShutdownTimeout:   time.Second,
	}, registry, router, resolver, authService, st, &logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: st, registry: registry, auth: authService}
}

// seedUser creates an account directly in the store; admin accounts are
// provisioned the same way operators do it, outside the HTTP API.
func (env *testEnv) seedUser(t *testing.T, username string, isAdmin bool) int64 {
	t.Helper()
	ctx := context.Background()

	user, err := env.store.CreateUser(ctx, username, username+"@example.com", "hash")
	if err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	if isAdmin {
		if err := env.store.SetUserAdmin(ctx, user.ID, true); err != nil {
			t.Fatalf("promote %s: %v", username, err)
		}
	}
	return user.ID
}

func (env *testEnv) dial(t *testing.T, ctx context.Context) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(env.ts.URL, "http", "ws", 1) + "/ws/chats"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// connect dials and completes the identity handshake for userPK.
func (env *testEnv) connect(t *testing.T, ctx context.Context, userPK int64) *websocket.Conn {
	t.Helper()

	conn := env.dial(t, ctx)
	if err := wsjson.Write(ctx, conn, relay.Inbound{UserPK: userPK, Message: relay.ControlConnect}); err != nil {
		t.Fatalf("send connect: %v", err)
	}
	env.waitRegistered(t, userPK)
	return conn
}

func (env *testEnv) waitRegistered(t *testing.T, userPK int64) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, id := range append(env.registry.AdminIDs(), env.registry.CustomerIDs()...) {
			if id == userPK {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("participant %d never registered", userPK)
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) map[string]any {
	t.Helper()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal frame %q: %v", data, err)
	}
	return frame
}
