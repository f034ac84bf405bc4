package rest_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/proclinks/server/api/rest"
	"github.com/proclinks/server/friendship"
	"github.com/proclinks/server/message"
	mw "github.com/proclinks/server/middleware"
	"github.com/proclinks/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type msgSetup struct {
	r  *gin.Engine
	db *gorm.DB
}

func newMsgSetup(t *testing.T) *msgSetup {
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	sec := testSecurity()

	auth := rest.NewAuthHandler(db, c, sec)
	friends := friendship.NewService(db, nil, nil)
	svc := message.NewService(db, friends, nil, 50, nil)
	relh := rest.NewRelationshipHandler(db, friends, nil, 20)
	h := rest.NewMessageHandler(svc)

	r := gin.New()
	r.POST("/api/auth/register", auth.Register)
	authed := r.Group("/api", mw.Auth(sec, c))
	authed.POST("/relationships", relh.SendRequest)
	authed.POST("/relationships/:id/accept", relh.Accept)
	authed.GET("/messages", h.Conversations)
	authed.GET("/messages/unread", h.UnreadCount)
	authed.POST("/messages", h.Send)
	authed.GET("/messages/:userId", h.History)
	authed.POST("/messages/:userId/read", h.MarkRead)
	return &msgSetup{r: r, db: db}
}

// befriend sends a request from tokA to idB and accepts it as tokB.
func (s *msgSetup) befriend(t *testing.T, tokA, tokB string, idB int64) {
	t.Helper()
	w := postJSON(s.r, "/api/relationships", map[string]int64{"recipient_id": idB},
		"Authorization", "Bearer "+tokA)
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	relID := int64(dataOf(t, w)["id"].(float64))
	w2 := postJSON(s.r, fmt.Sprintf("/api/relationships/%d/accept", relID), nil,
		"Authorization", "Bearer "+tokB)
	require.Equal(t, http.StatusOK, w2.Code, "body: %s", w2.Body.String())
}

func TestSendMessage(t *testing.T) {
	s := newMsgSetup(t)
	aliceTok, _ := registerUser(t, s.r, "alice")
	bobTok, bobID := registerUser(t, s.r, "bob")
	s.befriend(t, aliceTok, bobTok, bobID)

	w := postJSON(s.r, "/api/messages", map[string]interface{}{
		"recipient_id": bobID,
		"content":      "hey bob",
	}, "Authorization", "Bearer "+aliceTok)
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	data := dataOf(t, w)
	assert.Equal(t, "hey bob", data["content"])
	assert.Equal(t, float64(bobID), data["recipient_id"])
}

func TestSendMessageNotFriends(t *testing.T) {
	s := newMsgSetup(t)
	aliceTok, _ := registerUser(t, s.r, "alice")
	_, bobID := registerUser(t, s.r, "bob")

	w := postJSON(s.r, "/api/messages", map[string]interface{}{
		"recipient_id": bobID,
		"content":      "hello stranger",
	}, "Authorization", "Bearer "+aliceTok)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMessageHistory(t *testing.T) {
	s := newMsgSetup(t)
	aliceTok, aliceID := registerUser(t, s.r, "alice")
	bobTok, bobID := registerUser(t, s.r, "bob")
	s.befriend(t, aliceTok, bobTok, bobID)

	for i := 0; i < 3; i++ {
		w := postJSON(s.r, "/api/messages", map[string]interface{}{
			"recipient_id": bobID,
			"content":      fmt.Sprintf("msg %d", i),
		}, "Authorization", "Bearer "+aliceTok)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := getJSON(s.r, fmt.Sprintf("/api/messages/%d", aliceID),
		"Authorization", "Bearer "+bobTok)
	require.Equal(t, http.StatusOK, w.Code)
	data := dataOf(t, w)
	assert.Equal(t, float64(3), data["total"])
	msgs := data["messages"].([]interface{})
	require.Len(t, msgs, 3)
	// Newest first.
	assert.Equal(t, "msg 2", msgs[0].(map[string]interface{})["content"])
}

func TestUnreadAndMarkRead(t *testing.T) {
	s := newMsgSetup(t)
	aliceTok, aliceID := registerUser(t, s.r, "alice")
	bobTok, bobID := registerUser(t, s.r, "bob")
	s.befriend(t, aliceTok, bobTok, bobID)

	w := postJSON(s.r, "/api/messages", map[string]interface{}{
		"recipient_id": bobID,
		"content":      "unread one",
	}, "Authorization", "Bearer "+aliceTok)
	require.Equal(t, http.StatusCreated, w.Code)

	w2 := getJSON(s.r, "/api/messages/unread", "Authorization", "Bearer "+bobTok)
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, float64(1), dataOf(t, w2)["unread"])

	w3 := postJSON(s.r, fmt.Sprintf("/api/messages/%d/read", aliceID), nil,
		"Authorization", "Bearer "+bobTok)
	require.Equal(t, http.StatusOK, w3.Code)

	w4 := getJSON(s.r, "/api/messages/unread", "Authorization", "Bearer "+bobTok)
	require.Equal(t, http.StatusOK, w4.Code)
	assert.Equal(t, float64(0), dataOf(t, w4)["unread"])
}

func TestConversations(t *testing.T) {
	s := newMsgSetup(t)
	aliceTok, _ := registerUser(t, s.r, "alice")
	bobTok, bobID := registerUser(t, s.r, "bob")
	carolTok, carolID := registerUser(t, s.r, "carol")
	s.befriend(t, aliceTok, bobTok, bobID)
	s.befriend(t, aliceTok, carolTok, carolID)

	for _, target := range []int64{bobID, carolID} {
		w := postJSON(s.r, "/api/messages", map[string]interface{}{
			"recipient_id": target,
			"content":      "hi",
		}, "Authorization", "Bearer "+aliceTok)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := getJSON(s.r, "/api/messages", "Authorization", "Bearer "+aliceTok)
	require.Equal(t, http.StatusOK, w.Code)
	convs := dataOf(t, w)["conversations"].([]interface{})
	assert.Len(t, convs, 2)
}
