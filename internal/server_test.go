package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termpost/internal/model"
	"termpost/internal/storage"
)

type testServer struct {
	server *Server
	store  *storage.Store
	http   *httptest.Server
}

func newTestServer(t *testing.T, opts ServerOptions) *testServer {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	if opts.UploadDir == "" {
		opts.UploadDir = filepath.Join(t.TempDir(), "uploads")
	}
	srv := NewServer(store, opts)
	httpSrv := httptest.NewServer(srv.Routes("/join"))
	t.Cleanup(func() {
		srv.Close()
		httpSrv.Close()
		_ = store.Close()
	})
	return &testServer{server: srv, store: store, http: httpSrv}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, ts.http.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) channel(t *testing.T, ch model.Channel) {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/channels", ch)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (ts *testServer) dial(t *testing.T, channelID, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/join?channel=" + channelID + "&user=" + userID + "&tz=UTC"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// nextEvent reads events until one of the wanted type arrives.
func nextEvent(t *testing.T, conn *websocket.Conn, eventType string) model.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var event model.Event
		require.NoError(t, conn.ReadJSON(&event))
		if event.Type == eventType {
			return event
		}
	}
}

func TestCreatePostDedupesPendingID(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	ts.channel(t, model.Channel{ID: "c1", DisplayName: "Town"})
	conn := ts.dial(t, "c1", "u2")
	nextEvent(t, conn, model.EventUserJoined)

	post := model.Post{ChannelID: "c1", UserID: "u1", Message: "hello", PendingPostID: "u1:1"}
	resp := ts.do(t, http.MethodPost, "/api/posts", post)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := decodeBody[model.Post](t, resp)
	assert.NotEmpty(t, first.ID)
	assert.NotZero(t, first.CreateAt)

	event := nextEvent(t, conn, model.EventPosted)
	require.NotNil(t, event.Post)
	assert.Equal(t, first.ID, event.Post.ID)

	resp = ts.do(t, http.MethodPost, "/api/posts", post)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	again := decodeBody[model.Post](t, resp)
	assert.Equal(t, first.ID, again.ID)

	posts, err := ts.store.ListPosts(context.Background(), "c1", "", 10)
	require.NoError(t, err)
	assert.Len(t, posts, 1)
}

func TestCreatePostValidation(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	ts.channel(t, model.Channel{ID: "c1"})

	tests := []struct {
		name string
		post model.Post
		want int
	}{
		{"empty", model.Post{ChannelID: "c1", UserID: "u1", Message: "  "}, http.StatusBadRequest},
		{"no user", model.Post{ChannelID: "c1", Message: "x"}, http.StatusBadRequest},
		{"unknown channel", model.Post{ChannelID: "nope", UserID: "u1", Message: "x"}, http.StatusNotFound},
		{"unknown root", model.Post{ChannelID: "c1", UserID: "u1", Message: "x", RootID: "missing"}, http.StatusBadRequest},
		{"too long", model.Post{ChannelID: "c1", UserID: "u1", Message: strings.Repeat("a", maxPostRunes+1)}, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/api/posts", tt.post)
			assert.Equal(t, tt.want, resp.StatusCode)
			appErr := decodeBody[model.AppError](t, resp)
			assert.NotEmpty(t, appErr.Message)
		})
	}
}

func TestReplyDropsPriority(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	ts.channel(t, model.Channel{ID: "c1"})
	root := decodeBody[model.Post](t, ts.do(t, http.MethodPost, "/api/posts", model.Post{ChannelID: "c1", UserID: "u1", Message: "root"}))

	resp := ts.do(t, http.MethodPost, "/api/posts", model.Post{
		ChannelID: "c1", UserID: "u1", Message: "reply", RootID: root.ID,
		Metadata: &model.PostMetadata{Priority: &model.PostPriority{Priority: model.PriorityUrgent}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	reply := decodeBody[model.Post](t, resp)
	if reply.Metadata != nil {
		assert.Nil(t, reply.Metadata.Priority)
	}

	resp = ts.do(t, http.MethodGet, "/api/channels/c1/posts?root="+root.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	thread := decodeBody[[]model.Post](t, resp)
	require.Len(t, thread, 2)
	assert.Equal(t, "root", thread[0].Message)
}

func TestExecuteCommand(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	ts.channel(t, model.Channel{ID: "c1"})
	args := model.CommandArgs{ChannelID: "c1", UserID: "u1"}

	resp := ts.do(t, http.MethodPost, "/api/commands/execute", model.CommandRequest{Command: "/echo hi there", CommandArgs: args})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	posts, err := ts.store.ListPosts(context.Background(), "c1", "", 10)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "hi there", posts[0].Message)

	resp = ts.do(t, http.MethodPost, "/api/commands/execute", model.CommandRequest{Command: "/shrug ok", CommandArgs: args})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/commands/execute", model.CommandRequest{Command: "/away", CommandArgs: args})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decodeBody[model.CommandResponse](t, resp)
	assert.Equal(t, "ephemeral", status.ResponseType)
	assert.Equal(t, "You are now away", status.Text)
	assert.Equal(t, model.StatusAway, status.Status)

	resp = ts.do(t, http.MethodPost, "/api/commands/execute", model.CommandRequest{Command: "/ooo", CommandArgs: args})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status = decodeBody[model.CommandResponse](t, resp)
	assert.Equal(t, model.StatusOutOfOffice, status.Status)

	resp = ts.do(t, http.MethodPost, "/api/commands/execute", model.CommandRequest{Command: "/help", CommandArgs: args})
	help := decodeBody[model.CommandResponse](t, resp)
	assert.Contains(t, help.Text, "/echo")
	assert.Contains(t, help.Text, "/help")
}

func TestExecuteUnknownCommand(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	ts.channel(t, model.Channel{ID: "c1"})
	args := model.CommandArgs{ChannelID: "c1", UserID: "u1"}

	resp := ts.do(t, http.MethodPost, "/api/commands/execute", model.CommandRequest{Command: "/nosuch thing", CommandArgs: args})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	appErr := decodeBody[model.AppError](t, resp)
	assert.Equal(t, model.ErrorIDCommandNotFound, appErr.ServerErrorID)
	assert.False(t, appErr.SendMessage)

	resp = ts.do(t, http.MethodPost, "/api/commands/execute", model.CommandRequest{Command: "/usr/bin/env", CommandArgs: args})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	appErr = decodeBody[model.AppError](t, resp)
	assert.True(t, appErr.SendMessage)
}

func TestChannelStatsAndGroups(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	ctx := context.Background()
	ts.channel(t, model.Channel{ID: "c1"})
	for user, tz := range map[string]string{"u1": "UTC", "u2": "UTC", "u3": "Asia/Tokyo"} {
		require.NoError(t, ts.store.AddChannelMember(ctx, "c1", user, tz))
	}
	require.NoError(t, ts.store.UpsertGroup(ctx, storage.Group{ID: "g1", Name: "backend", AllowReference: true}, []string{"u1", "u3"}))

	resp := ts.do(t, http.MethodGet, "/api/channels/c1/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody[model.ChannelStats](t, resp)
	assert.Equal(t, 3, stats.MemberCount)
	assert.Equal(t, 2, stats.TimezoneCount)
	assert.Equal(t, 2, stats.MemberCountsByGroup["backend"])
	assert.Equal(t, 2, stats.TimezoneCountsByGroup["backend"])

	resp = ts.do(t, http.MethodGet, "/api/channels/missing/stats", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/groups", nil)
	assert.Equal(t, []string{"backend"}, decodeBody[[]string](t, resp))
}

func TestPatchChannelBroadcasts(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	ts.channel(t, model.Channel{ID: "c1"})
	ts.channel(t, model.Channel{ID: "dm", Type: model.ChannelDirect})
	conn := ts.dial(t, "c1", "u1")

	header := "new header"
	resp := ts.do(t, http.MethodPatch, "/api/channels/c1", storage.ChannelPatch{Header: &header})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	event := nextEvent(t, conn, model.EventChannelUpdated)
	require.NotNil(t, event.Channel)
	assert.Equal(t, "new header", event.Channel.Header)

	purpose := "nope"
	resp = ts.do(t, http.MethodPatch, "/api/channels/dm", storage.ChannelPatch{Purpose: &purpose})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = ts.do(t, http.MethodPatch, "/api/channels/dm", storage.ChannelPatch{Header: &header})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReactionsRoundTrip(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	ts.channel(t, model.Channel{ID: "c1"})
	post := decodeBody[model.Post](t, ts.do(t, http.MethodPost, "/api/posts", model.Post{ChannelID: "c1", UserID: "u1", Message: "hi"}))
	conn := ts.dial(t, "c1", "u2")

	reaction := model.Reaction{PostID: post.ID, UserID: "u2", EmojiName: "smile"}
	resp := ts.do(t, http.MethodPost, "/api/reactions", reaction)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	event := nextEvent(t, conn, model.EventReactionAdded)
	assert.Equal(t, "smile", event.Reaction.EmojiName)

	resp = ts.do(t, http.MethodDelete, "/api/reactions", reaction)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	nextEvent(t, conn, model.EventReactionRemoved)

	resp = ts.do(t, http.MethodDelete, "/api/reactions", reaction)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/reactions", model.Reaction{PostID: "missing", UserID: "u2", EmojiName: "smile"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPostRateLimit(t *testing.T) {
	ts := newTestServer(t, ServerOptions{RateLimitRPS: 0.001, RateLimitBurst: 1})
	ts.channel(t, model.Channel{ID: "c1"})

	resp := ts.do(t, http.MethodPost, "/api/posts", model.Post{ChannelID: "c1", UserID: "u1", Message: "one"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = ts.do(t, http.MethodPost, "/api/posts", model.Post{ChannelID: "c1", UserID: "u1", Message: "two"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	resp = ts.do(t, http.MethodPost, "/api/posts", model.Post{ChannelID: "c1", UserID: "u2", Message: "three"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestJoinCreatesChannelAndTracksPresence(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	resp := ts.do(t, http.MethodGet, "/exists?channel=lobby", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	watcher := ts.dial(t, "lobby", "u1")
	nextEvent(t, watcher, model.EventUserJoined)
	resp = ts.do(t, http.MethodGet, "/exists?channel=lobby", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	other := ts.dial(t, "lobby", "u2")
	joined := nextEvent(t, watcher, model.EventUserJoined)
	assert.Equal(t, "u2", joined.UserID)
	assert.True(t, ts.server.presence.Online("lobby", "u2"))

	require.NoError(t, other.WriteJSON(model.Event{Type: model.EventTyping}))
	typing := nextEvent(t, watcher, model.EventTyping)
	assert.Equal(t, "u2", typing.UserID)

	other.Close()
	left := nextEvent(t, watcher, model.EventUserLeft)
	assert.Equal(t, "u2", left.UserID)

	stats, err := ts.store.ChannelStats(context.Background(), "lobby")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.MemberCount)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	ts.channel(t, model.Channel{ID: "c1"})
	ts.do(t, http.MethodPost, "/api/posts", model.Post{ChannelID: "c1", UserID: "u1", Message: "hi"})

	resp := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "termpost_posts_created_total 1")
	assert.Contains(t, string(body), `termpost_http_requests_total{method="POST",path="/api/posts",status="201"} 1`)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	resp := ts.do(t, http.MethodGet, "/api/posts", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, http.MethodPost, resp.Header.Get("Allow"))
}
