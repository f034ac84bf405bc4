package integration

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/proclinks/server/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Full lifecycle over real HTTP: request, accept, unfriend, re-request —
// with the relationship row keeping its identity across resets.
func TestFriendshipLifecycle(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	aliceName, bobName := UniqueID("alice"), UniqueID("bob")
	aliceTok, aliceID := ts.Register(t, aliceName)
	bobTok, bobID := ts.Register(t, bobName)

	// Request + accept.
	resp := ts.PostJSON(t, "/api/relationships", map[string]int64{"recipient_id": bobID}, aliceTok)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rel := Data(t, resp)
	relID := int64(rel["id"].(float64))

	var created model.Relationship
	require.NoError(t, ts.DB.First(&created, relID).Error)

	resp2 := ts.PostJSON(t, fmt.Sprintf("/api/relationships/%d/accept", relID), nil, bobTok)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	resp2.Body.Close()

	// Both sides see FRIENDLY.
	resp3 := ts.Get(t, fmt.Sprintf("/api/relationships/status/%d", aliceID), bobTok)
	require.Equal(t, http.StatusOK, resp3.StatusCode)
	assert.Equal(t, "FRIENDLY", Data(t, resp3)["status"])

	// Unfriend resets to NONE but keeps the row.
	resp4 := ts.PostJSON(t, fmt.Sprintf("/api/relationships/%d/unfriend", relID), nil, bobTok)
	require.Equal(t, http.StatusOK, resp4.StatusCode)
	resp4.Body.Close()

	var row model.Relationship
	require.NoError(t, ts.DB.First(&row, relID).Error)
	assert.Equal(t, model.RelationNone, row.Status)

	// Re-request from the other side revives the same row.
	resp5 := ts.PostJSON(t, "/api/relationships", map[string]int64{"recipient_id": aliceID}, bobTok)
	require.Equal(t, http.StatusCreated, resp5.StatusCode)
	revived := Data(t, resp5)
	assert.Equal(t, float64(relID), revived["id"])
	assert.Equal(t, float64(bobID), revived["requester_id"])
	assert.Equal(t, "PENDING", revived["status"])

	var after model.Relationship
	require.NoError(t, ts.DB.First(&after, relID).Error)
	assert.Equal(t, created.CreatedAt.Unix(), after.CreatedAt.Unix())
}

func TestMessagingFlow(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	aliceName, bobName := UniqueID("alice"), UniqueID("bob")
	aliceTok, aliceID := ts.Register(t, aliceName)
	bobTok, bobID := ts.Register(t, bobName)

	// DMs are friends-only.
	resp := ts.PostJSON(t, "/api/messages", map[string]interface{}{
		"recipient_id": bobID, "content": "too soon",
	}, aliceTok)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	ts.Befriend(t, aliceTok, bobTok, bobID)

	resp2 := ts.PostJSON(t, "/api/messages", map[string]interface{}{
		"recipient_id": bobID, "content": "hello bob",
	}, aliceTok)
	require.Equal(t, http.StatusCreated, resp2.StatusCode)
	resp2.Body.Close()

	// Bob sees it unread, reads it, unread count drops.
	resp3 := ts.Get(t, "/api/messages/unread", bobTok)
	require.Equal(t, http.StatusOK, resp3.StatusCode)
	assert.Equal(t, float64(1), Data(t, resp3)["unread"])

	resp4 := ts.PostJSON(t, fmt.Sprintf("/api/messages/%d/read", aliceID), nil, bobTok)
	require.Equal(t, http.StatusOK, resp4.StatusCode)
	resp4.Body.Close()

	resp5 := ts.Get(t, "/api/messages/unread", bobTok)
	require.Equal(t, http.StatusOK, resp5.StatusCode)
	assert.Equal(t, float64(0), Data(t, resp5)["unread"])
}

func TestFollowAndRanking(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	starName := UniqueID("star")
	_, starID := ts.Register(t, starName)
	_ = starID

	for i := 0; i < 3; i++ {
		fanTok, _ := ts.Register(t, UniqueID("fan"))
		resp := ts.PostJSON(t, "/api/users/"+starName+"/follow", nil, fanTok)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	resp := ts.Get(t, "/api/ranking/creators", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ranking := Data(t, resp)["ranking"].([]interface{})
	require.NotEmpty(t, ranking)
	top := ranking[0].(map[string]interface{})
	assert.Equal(t, starName, top["username"])
	assert.Equal(t, float64(3), top["followers"])
}

func TestPublicPageFlow(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	name := UniqueID("creator")
	tok, _ := ts.Register(t, name)

	resp := ts.PostJSON(t, "/api/links", map[string]interface{}{
		"title": "my blog",
		"url":   "https://example.com/blog",
	}, tok)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	linkID := int64(Data(t, resp)["id"].(float64))

	// Anonymous visitor sees the page and can like.
	resp2 := ts.Get(t, "/api/users/"+name+"/links", "")
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	links := Data(t, resp2)["links"].([]interface{})
	require.Len(t, links, 1)

	resp3 := ts.PostJSON(t, fmt.Sprintf("/api/links/%d/like", linkID), nil, "")
	require.Equal(t, http.StatusOK, resp3.StatusCode)
	assert.Equal(t, float64(1), Data(t, resp3)["likes"])
}
