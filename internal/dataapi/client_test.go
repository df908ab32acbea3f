package dataapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-core/internal/models"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]string
}

func newTestServer(t *testing.T, routes map[string]interface{}) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.EscapedPath(), auth: r.Header.Get("Authorization")}
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&rec.body)
		}
		calls = append(calls, rec)

		resp, ok := routes[r.Method+" "+r.URL.EscapedPath()]
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if code, isCode := resp.(int); isCode {
			w.WriteHeader(code)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/", srv.Client())
	require.NoError(t, err)
	return c, &calls
}

func TestClient_LoginThenBearer(t *testing.T) {
	c, calls := newTestServer(t, map[string]interface{}{
		"POST /login": models.LoginResponse{Token: "tok", User: models.Identity{ID: "u1", DisplayName: "Alice"}},
		"GET /users":  []models.Identity{{ID: "u2"}},
	})
	ctx := context.Background()

	resp, err := c.Login(ctx, "alice@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok", resp.Token)
	assert.Equal(t, "Alice", resp.User.DisplayName)

	c.SetToken(resp.Token)
	users, err := c.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	require.Len(t, *calls, 2)
	assert.Equal(t, "alice@example.com", (*calls)[0].body["email"])
	assert.Empty(t, (*calls)[0].auth)
	assert.Equal(t, "Bearer tok", (*calls)[1].auth)
}

func TestClient_Routes(t *testing.T) {
	c, calls := newTestServer(t, map[string]interface{}{
		"GET /conversations":                     []models.Conversation{{ID: "c1"}},
		"GET /conversations/c1":               models.Conversation{ID: "c1"},
		"GET /conversations/with/u%2F2": models.Conversation{ID: "c2"},
		"GET /rooms":                                     []models.Room{{ID: "r1"}},
		"GET /rooms/r1":                               models.Room{ID: "r1", Name: "general"},
		"POST /rooms":                                   models.Room{ID: "r2", Name: "random"},
		"POST /rooms/r1/join":                   models.Room{ID: "r1"},
		"DELETE /rooms/r1/leave":             http.StatusNoContent,
	})
	ctx := context.Background()

	convs, err := c.ListConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c1", convs[0].ID)

	conv, err := c.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ID)

	conv, err = c.GetConversationWith(ctx, "u/2")
	require.NoError(t, err)
	assert.Equal(t, "c2", conv.ID)

	rooms, err := c.ListRooms(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 1)

	room, err := c.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "general", room.Name)

	room, err = c.CreateRoom(ctx, models.CreateRoomRequest{Name: "random"})
	require.NoError(t, err)
	assert.Equal(t, "r2", room.ID)

	require.NoError(t, c.JoinRoom(ctx, "r1"))
	require.NoError(t, c.LeaveRoom(ctx, "r1"))

	assert.Len(t, *calls, 8)
	assert.Equal(t, "random", (*calls)[5].body["name"])
}

func TestClient_APIError(t *testing.T) {
	c, _ := newTestServer(t, map[string]interface{}{})

	_, err := c.GetRoom(context.Background(), "missing")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "not found", apiErr.Message)
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.EqualError(t, err, "api: 404 not found")
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New("://nope", nil)
	assert.Error(t, err)
}
