package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	apirest "github.com/proclinks/server/api/rest"
	"github.com/proclinks/server/api/sse"
	apows "github.com/proclinks/server/api/ws"
	"github.com/proclinks/server/billing"
	"github.com/proclinks/server/cache"
	"github.com/proclinks/server/config"
	"github.com/proclinks/server/friendship"
	"github.com/proclinks/server/message"
	mw "github.com/proclinks/server/middleware"
	"github.com/proclinks/server/realtime"
	"github.com/proclinks/server/scheduler"
	"github.com/proclinks/server/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// TestServer wraps a real HTTP server with every subsystem wired together.
type TestServer struct {
	DB       *gorm.DB
	Cache    cache.Cache
	PubSub   cache.PubSub
	Presence *realtime.Presence
	Notifier *realtime.Notifier
	Friends  *friendship.Service
	Messages *message.Service
	Billing  *billing.Service
	Server   *httptest.Server
	URL      string // http://127.0.0.1:<port>
	WSURL    string // ws://127.0.0.1:<port>/ws
	Sec      config.SecurityConfig
}

// NewTestServer creates a fully wired server for integration testing.
// It mirrors the dependency wiring in main.go.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		JWTTTLH:        72 * time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
		AllowedOrigins: []string{}, // allow all origins
	}

	// ---- Realtime ----
	presence := realtime.NewPresence(logger)
	notifier := realtime.NewNotifier(presence, pubsub, logger)

	// ---- Services ----
	friendSvc := friendship.NewService(db, notifier, logger)
	msgSvc := message.NewService(db, friendSvc, notifier, 50, logger)
	billSvc := billing.NewService(db, config.BillingConfig{
		WebhookSecret: "whsec_integration",
		Currency:      "usd",
	}, "http://localhost:3000", notifier, logger)

	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	// ---- WS Router ----
	wsRouter := apows.NewRouter(logger)
	chatH := apows.NewChatHandlers(msgSvc, logger)
	chatH.RegisterHandlers(wsRouter)

	// ---- Gin HTTP Server ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes (mirrors main.go) ----
	authH := apirest.NewAuthHandler(db, c, sec)
	userH := apirest.NewUserHandler(db, presence, config.StorageConfig{
		UploadDir:   t.TempDir(),
		MaxAvatarKB: 512,
	}, logger)
	linkH := apirest.NewLinkHandler(db)
	relH := apirest.NewRelationshipHandler(db, friendSvc, nil, 20)
	msgH := apirest.NewMessageHandler(msgSvc)
	billH := apirest.NewBillingHandler(db, billSvc, logger)
	rankH := apirest.NewRankingHandler(db, c, 100, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/register", authH.Register)
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(sec, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(sec, c), authH.Refresh)

		api.GET("/users/:username", userH.PublicProfile)
		api.GET("/users/:username/links", linkH.PublicLinks)
		api.POST("/links/:id/like", linkH.Like)
		api.GET("/ranking/creators", rankH.TopCreators)
		api.GET("/billing/plans", billH.Plans)
		api.POST("/billing/webhook", billH.Webhook)

		authed := api.Group("", mw.Auth(sec, c))
		{
			authed.GET("/users", userH.ListUsers)
			authed.GET("/me", userH.Me)
			authed.PUT("/me", userH.UpdateProfile)
			authed.PUT("/me/appearance", userH.UpdateAppearance)
			authed.GET("/me/header", userH.HeaderInfo)
			authed.POST("/users/:username/follow", userH.Follow)
			authed.DELETE("/users/:username/follow", userH.Unfollow)
			authed.GET("/users/:username/followers", userH.Followers)
			authed.GET("/users/:username/following", userH.Following)

			authed.GET("/links", linkH.List)
			authed.POST("/links", linkH.Create)
			authed.PUT("/links/reorder", linkH.Reorder)
			authed.PUT("/links/:id", linkH.Update)
			authed.DELETE("/links/:id", linkH.Delete)

			authed.POST("/relationships", relH.SendRequest)
			authed.POST("/relationships/:id/accept", relH.Accept)
			authed.POST("/relationships/:id/reject", relH.Reject)
			authed.POST("/relationships/:id/unfriend", relH.Unfriend)
			authed.GET("/relationships/status/:userId", relH.Status)
			authed.GET("/relationships/friends", relH.ListFriends)
			authed.GET("/relationships/pending", relH.ListPending)

			authed.GET("/messages", msgH.Conversations)
			authed.GET("/messages/unread", msgH.UnreadCount)
			authed.POST("/messages", msgH.Send)
			authed.GET("/messages/:userId", msgH.History)
			authed.POST("/messages/:userId/read", msgH.MarkRead)

			authed.POST("/billing/checkout", billH.Checkout)
			authed.POST("/billing/cancel", billH.Cancel)
			authed.GET("/billing/subscription", billH.Subscription)
		}
	}

	// ---- WebSocket / SSE ----
	wsH := apows.NewHandler(db, c, sec, presence, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)
	sseH := sse.NewHandler(pubsub, c, sec, logger)
	r.GET("/sse", sseH.ServeSSE)

	// ---- Start server ----
	server := httptest.NewServer(r)
	url := server.URL
	wsURL := "ws" + url[len("http"):] + "/ws"

	return &TestServer{
		DB:       db,
		Cache:    c,
		PubSub:   pubsub,
		Presence: presence,
		Notifier: notifier,
		Friends:  friendSvc,
		Messages: msgSvc,
		Billing:  billSvc,
		Server:   server,
		URL:      url,
		WSURL:    wsURL,
		Sec:      sec,
	}
}

// Close shuts down the test server and every open session.
func (ts *TestServer) Close() {
	ts.Presence.CloseAll()
	ts.Server.Close()
}

// --- HTTP helpers ---

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest("POST", ts.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("GET", ts.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Delete sends a DELETE request with optional Bearer token.
func (ts *TestServer) Delete(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("DELETE", ts.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Put sends a PUT request with JSON body and optional Bearer token.
func (ts *TestServer) Put(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest("PUT", ts.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// ReadJSON decodes a response body into target and closes the body.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// Data unwraps the {success, data} envelope from a response.
func Data(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	ReadJSON(t, resp, &body)
	require.Equal(t, true, body["success"], "body: %+v", body)
	data, _ := body["data"].(map[string]interface{})
	return data
}

// --- Auth helpers ---

// Register creates an account and returns the token and user ID.
func (ts *TestServer) Register(t *testing.T, username string) (token string, userID int64) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/register", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": username + "pass",
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data := Data(t, resp)
	token = data["token"].(string)
	userID = int64(data["user"].(map[string]interface{})["id"].(float64))
	return
}

// Login logs an existing account in.
func (ts *TestServer) Login(t *testing.T, username string) string {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": username + "pass",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return Data(t, resp)["token"].(string)
}

// Befriend sends a request from tokA to userB and accepts it as tokB.
// Returns the relationship ID.
func (ts *TestServer) Befriend(t *testing.T, tokA, tokB string, userB int64) int64 {
	t.Helper()
	resp := ts.PostJSON(t, "/api/relationships", map[string]int64{"recipient_id": userB}, tokA)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	relID := int64(Data(t, resp)["id"].(float64))
	resp2 := ts.PostJSON(t, fmt.Sprintf("/api/relationships/%d/accept", relID), nil, tokB)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	resp2.Body.Close()
	return relID
}

// --- WebSocket client ---

// WSClient wraps a gorilla/websocket connection for integration testing.
// Uses a background readLoop so a receive timeout never corrupts the
// connection state.
type WSClient struct {
	Conn   *websocket.Conn
	t      *testing.T
	seq    uint64
	readCh chan readResult
}

type readResult struct {
	data []byte
	err  error
}

// ConnectWS dials the test server's WS endpoint with the given JWT token.
func (ts *TestServer) ConnectWS(t *testing.T, token string) *WSClient {
	t.Helper()
	url := ts.WSURL + "?token=" + token
	dialer := websocket.Dialer{}
	conn, resp, err := dialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err, "WS dial failed")
	wc := &WSClient{Conn: conn, t: t, readCh: make(chan readResult, 256)}
	go wc.readLoop()
	// Give the server a moment to register the session in Presence.
	time.Sleep(50 * time.Millisecond)
	return wc
}

func (wc *WSClient) readLoop() {
	for {
		_, data, err := wc.Conn.ReadMessage()
		wc.readCh <- readResult{data, err}
		if err != nil {
			return
		}
	}
}

// Send writes a JSON packet to the WebSocket.
func (wc *WSClient) Send(msgType string, payload interface{}) {
	wc.t.Helper()
	seq := atomic.AddUint64(&wc.seq, 1)
	payloadJSON, err := json.Marshal(payload)
	require.NoError(wc.t, err)
	pkt := map[string]interface{}{
		"seq":     seq,
		"type":    msgType,
		"payload": json.RawMessage(payloadJSON),
	}
	data, err := json.Marshal(pkt)
	require.NoError(wc.t, err)
	require.NoError(wc.t, wc.Conn.WriteMessage(websocket.TextMessage, data))
}

// RecvAny reads one packet with a timeout, returning an error instead of
// failing the test.
func (wc *WSClient) RecvAny(timeout time.Duration) (map[string]interface{}, error) {
	select {
	case res := <-wc.readCh:
		if res.err != nil {
			return nil, res.err
		}
		var pkt map[string]interface{}
		if err := json.Unmarshal(res.data, &pkt); err != nil {
			return nil, err
		}
		return pkt, nil
	case <-time.After(timeout):
		return nil, &timeoutError{}
	}
}

type timeoutError struct{}

func (e *timeoutError) Error() string   { return "read timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

// RecvType reads packets until one with the given type arrives.
func (wc *WSClient) RecvType(msgType string, timeout time.Duration) map[string]interface{} {
	wc.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		pkt, err := wc.RecvAny(time.Until(deadline))
		if err != nil {
			wc.t.Fatalf("WS recv failed while waiting for %q: %v", msgType, err)
		}
		if pkt["type"] == msgType {
			return pkt
		}
	}
	wc.t.Fatalf("timed out waiting for packet type %q", msgType)
	return nil
}

// Close closes the WebSocket connection.
func (wc *WSClient) Close() {
	_ = wc.Conn.Close()
}

// PayloadMap extracts the payload from a received packet as a map.
func PayloadMap(t *testing.T, pkt map[string]interface{}) map[string]interface{} {
	t.Helper()
	p := pkt["payload"]
	if p == nil {
		return map[string]interface{}{}
	}
	switch v := p.(type) {
	case map[string]interface{}:
		return v
	default:
		data, err := json.Marshal(v)
		require.NoError(t, err)
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	}
}

// UniqueID returns a short unique string suitable for usernames.
var testCounter uint64

func UniqueID(prefix string) string {
	n := atomic.AddUint64(&testCounter, 1)
	return fmt.Sprintf("%s%d%d", prefix, time.Now().UnixNano()%100000, n)
}
