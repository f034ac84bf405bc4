package rest_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/proclinks/server/api/rest"
	"github.com/proclinks/server/friendship"
	mw "github.com/proclinks/server/middleware"
	"github.com/proclinks/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type relSetup struct {
	r  *gin.Engine
	db *gorm.DB
}

func newRelSetup(t *testing.T) *relSetup {
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	sec := testSecurity()

	auth := rest.NewAuthHandler(db, c, sec)
	svc := friendship.NewService(db, nil, nil)
	h := rest.NewRelationshipHandler(db, svc, nil, 20)

	r := gin.New()
	r.POST("/api/auth/register", auth.Register)
	authed := r.Group("/api", mw.Auth(sec, c))
	authed.POST("/relationships", h.SendRequest)
	authed.POST("/relationships/:id/accept", h.Accept)
	authed.POST("/relationships/:id/reject", h.Reject)
	authed.POST("/relationships/:id/unfriend", h.Unfriend)
	authed.GET("/relationships/status/:userId", h.Status)
	authed.GET("/relationships/friends", h.ListFriends)
	authed.GET("/relationships/pending", h.ListPending)
	return &relSetup{r: r, db: db}
}

func (s *relSetup) sendRequest(t *testing.T, token string, recipientID int64) map[string]interface{} {
	t.Helper()
	w := postJSON(s.r, "/api/relationships", map[string]int64{"recipient_id": recipientID},
		"Authorization", "Bearer "+token)
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	return dataOf(t, w)
}

func TestSendRequest(t *testing.T) {
	s := newRelSetup(t)
	aliceTok, _ := registerUser(t, s.r, "alice")
	_, bobID := registerUser(t, s.r, "bob")

	rel := s.sendRequest(t, aliceTok, bobID)
	assert.Equal(t, "PENDING", rel["status"])
	assert.Equal(t, float64(bobID), rel["recipient_id"])
}

func TestSendRequestToSelf(t *testing.T) {
	s := newRelSetup(t)
	tok, id := registerUser(t, s.r, "alice")

	w := postJSON(s.r, "/api/relationships", map[string]int64{"recipient_id": id},
		"Authorization", "Bearer "+tok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendRequestUnknownRecipient(t *testing.T) {
	s := newRelSetup(t)
	tok, _ := registerUser(t, s.r, "alice")

	w := postJSON(s.r, "/api/relationships", map[string]int64{"recipient_id": 9999},
		"Authorization", "Bearer "+tok)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendRequestDuplicate(t *testing.T) {
	s := newRelSetup(t)
	aliceTok, _ := registerUser(t, s.r, "alice")
	_, bobID := registerUser(t, s.r, "bob")

	s.sendRequest(t, aliceTok, bobID)
	w := postJSON(s.r, "/api/relationships", map[string]int64{"recipient_id": bobID},
		"Authorization", "Bearer "+aliceTok)
	assert.Equal(t, http.StatusConflict, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["success"])
	assert.NotEmpty(t, resp["message"])
}

func TestSendRequestCrossDirectionConflict(t *testing.T) {
	s := newRelSetup(t)
	aliceTok, aliceID := registerUser(t, s.r, "alice")
	bobTok, bobID := registerUser(t, s.r, "bob")

	s.sendRequest(t, aliceTok, bobID)
	w := postJSON(s.r, "/api/relationships", map[string]int64{"recipient_id": aliceID},
		"Authorization", "Bearer "+bobTok)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAcceptRequest(t *testing.T) {
	s := newRelSetup(t)
	aliceTok, _ := registerUser(t, s.r, "alice")
	bobTok, bobID := registerUser(t, s.r, "bob")

	rel := s.sendRequest(t, aliceTok, bobID)
	relID := int64(rel["id"].(float64))

	w := postJSON(s.r, fmt.Sprintf("/api/relationships/%d/accept", relID), nil,
		"Authorization", "Bearer "+bobTok)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	data := dataOf(t, w)
	assert.Equal(t, "FRIENDLY", data["status"])
}

func TestAcceptByRequesterForbidden(t *testing.T) {
	s := newRelSetup(t)
	aliceTok, _ := registerUser(t, s.r, "alice")
	_, bobID := registerUser(t, s.r, "bob")

	rel := s.sendRequest(t, aliceTok, bobID)
	relID := int64(rel["id"].(float64))

	w := postJSON(s.r, fmt.Sprintf("/api/relationships/%d/accept", relID), nil,
		"Authorization", "Bearer "+aliceTok)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAcceptByStrangerNotFound(t *testing.T) {
	s := newRelSetup(t)
	aliceTok, _ := registerUser(t, s.r, "alice")
	_, bobID := registerUser(t, s.r, "bob")
	carolTok, _ := registerUser(t, s.r, "carol")

	rel := s.sendRequest(t, aliceTok, bobID)
	relID := int64(rel["id"].(float64))

	w := postJSON(s.r, fmt.Sprintf("/api/relationships/%d/accept", relID), nil,
		"Authorization", "Bearer "+carolTok)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRejectRequest(t *testing.T) {
	s := newRelSetup(t)
	aliceTok, aliceID := registerUser(t, s.r, "alice")
	bobTok, bobID := registerUser(t, s.r, "bob")

	rel := s.sendRequest(t, aliceTok, bobID)
	relID := int64(rel["id"].(float64))

	w := postJSON(s.r, fmt.Sprintf("/api/relationships/%d/reject", relID), nil,
		"Authorization", "Bearer "+bobTok)
	require.Equal(t, http.StatusOK, w.Code)

	// Status back to NONE for both sides.
	w2 := getJSON(s.r, fmt.Sprintf("/api/relationships/status/%d", aliceID),
		"Authorization", "Bearer "+bobTok)
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, "NONE", dataOf(t, w2)["status"])
	_ = bobID
}

func TestUnfriendRequiresFriendship(t *testing.T) {
	s := newRelSetup(t)
	aliceTok, _ := registerUser(t, s.r, "alice")
	_, bobID := registerUser(t, s.r, "bob")

	rel := s.sendRequest(t, aliceTok, bobID)
	relID := int64(rel["id"].(float64))

	// Still PENDING: unfriend is an invalid operation.
	w := postJSON(s.r, fmt.Sprintf("/api/relationships/%d/unfriend", relID), nil,
		"Authorization", "Bearer "+aliceTok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnfriendFlow(t *testing.T) {
	s := newRelSetup(t)
	aliceTok, aliceID := registerUser(t, s.r, "alice")
	bobTok, bobID := registerUser(t, s.r, "bob")

	rel := s.sendRequest(t, aliceTok, bobID)
	relID := int64(rel["id"].(float64))
	w := postJSON(s.r, fmt.Sprintf("/api/relationships/%d/accept", relID), nil,
		"Authorization", "Bearer "+bobTok)
	require.Equal(t, http.StatusOK, w.Code)

	w2 := postJSON(s.r, fmt.Sprintf("/api/relationships/%d/unfriend", relID), nil,
		"Authorization", "Bearer "+aliceTok)
	require.Equal(t, http.StatusOK, w2.Code)

	w3 := getJSON(s.r, fmt.Sprintf("/api/relationships/status/%d", aliceID),
		"Authorization", "Bearer "+bobTok)
	require.Equal(t, http.StatusOK, w3.Code)
	assert.Equal(t, "NONE", dataOf(t, w3)["status"])
}

func TestStatusDirection(t *testing.T) {
	s := newRelSetup(t)
	aliceTok, aliceID := registerUser(t, s.r, "alice")
	bobTok, bobID := registerUser(t, s.r, "bob")

	s.sendRequest(t, aliceTok, bobID)

	w := getJSON(s.r, fmt.Sprintf("/api/relationships/status/%d", bobID),
		"Authorization", "Bearer "+aliceTok)
	require.Equal(t, http.StatusOK, w.Code)
	data := dataOf(t, w)
	assert.Equal(t, "PENDING", data["status"])
	assert.Equal(t, true, data["is_requester"])
	assert.Equal(t, false, data["is_recipient"])

	w2 := getJSON(s.r, fmt.Sprintf("/api/relationships/status/%d", aliceID),
		"Authorization", "Bearer "+bobTok)
	require.Equal(t, http.StatusOK, w2.Code)
	data2 := dataOf(t, w2)
	assert.Equal(t, true, data2["is_recipient"])
}

func TestListFriendsAndPending(t *testing.T) {
	s := newRelSetup(t)
	aliceTok, _ := registerUser(t, s.r, "alice")
	bobTok, bobID := registerUser(t, s.r, "bob")
	_, carolID := registerUser(t, s.r, "carol")

	rel := s.sendRequest(t, aliceTok, bobID)
	relID := int64(rel["id"].(float64))
	w := postJSON(s.r, fmt.Sprintf("/api/relationships/%d/accept", relID), nil,
		"Authorization", "Bearer "+bobTok)
	require.Equal(t, http.StatusOK, w.Code)
	s.sendRequest(t, aliceTok, carolID)

	// Alice has one friend (bob) and one sent pending (carol).
	wf := getJSON(s.r, "/api/relationships/friends", "Authorization", "Bearer "+aliceTok)
	require.Equal(t, http.StatusOK, wf.Code)
	data := dataOf(t, wf)
	assert.Equal(t, float64(1), data["total"])
	friends := data["friends"].([]interface{})
	require.Len(t, friends, 1)
	entry := friends[0].(map[string]interface{})
	assert.Equal(t, "bob", entry["user"].(map[string]interface{})["username"])

	wp := getJSON(s.r, "/api/relationships/pending?direction=sent",
		"Authorization", "Bearer "+aliceTok)
	require.Equal(t, http.StatusOK, wp.Code)

	// Carol sees it as received (the default direction).
	_ = carolID
}

func TestListPendingInvalidDirection(t *testing.T) {
	s := newRelSetup(t)
	tok, _ := registerUser(t, s.r, "alice")

	w := getJSON(s.r, "/api/relationships/pending?direction=sideways",
		"Authorization", "Bearer "+tok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRelationshipsRequireAuth(t *testing.T) {
	s := newRelSetup(t)

	w := postJSON(s.r, "/api/relationships", map[string]int64{"recipient_id": 1})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
