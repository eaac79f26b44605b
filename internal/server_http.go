package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"termpost/internal/model"
	"termpost/internal/storage"
)

const maxPostRunes = 16383

func (s *Server) HandleChannelExists(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channel")
	if channelID == "" {
		http.Error(w, "missing channel", http.StatusBadRequest)
		return
	}
	if _, err := s.store.GetChannel(r.Context(), channelID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) HandleChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req model.Channel
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	switch req.Type {
	case "", model.ChannelOpen, model.ChannelPrivate, model.ChannelDirect, model.ChannelGroup:
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown channel type"))
		return
	}
	ch, err := s.store.CreateChannel(r.Context(), req)
	if err != nil {
		if errors.Is(err, storage.ErrChannelExists) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

func (s *Server) HandleChannel(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		ch, err := s.store.GetChannel(r.Context(), channelID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ch)
	case http.MethodPatch:
		var patch storage.ChannelPatch
		if err := decodeJSON(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		current, err := s.store.GetChannel(r.Context(), channelID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if current.IsDirectOrGroup() && (patch.DisplayName != nil || patch.Purpose != nil) {
			writeError(w, http.StatusBadRequest, errors.New("direct and group channels can only change their header"))
			return
		}
		ch, err := s.store.PatchChannel(r.Context(), channelID, patch)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		s.hub.Publish(model.Event{Type: model.EventChannelUpdated, ChannelID: ch.ID, Channel: ch, Ts: s.now().UnixMilli()})
		writeJSON(w, http.StatusOK, ch)
	default:
		methodNotAllowed(w, http.MethodGet+", "+http.MethodPatch)
	}
}

func (s *Server) HandleChannelStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	channelID := r.PathValue("id")
	if _, err := s.store.GetChannel(r.Context(), channelID); err != nil {
		writeStoreError(w, err)
		return
	}
	stats, err := s.store.ChannelStats(r.Context(), channelID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) HandleChannelPosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	query := r.URL.Query()
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = n
	}
	posts, err := s.store.ListPosts(r.Context(), r.PathValue("id"), query.Get("root"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if posts == nil {
		posts = []model.Post{}
	}
	writeJSON(w, http.StatusOK, posts)
}

func (s *Server) HandleCreatePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var post model.Post
	if err := decodeJSON(r, &post); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !s.allow(post.UserID, r) {
		writeError(w, http.StatusTooManyRequests, errors.New(http.StatusText(http.StatusTooManyRequests)))
		return
	}
	created, status, err := s.createPost(r.Context(), post)
	if err != nil {
		writeError(w, status, err)
		return
	}
	writeJSON(w, status, created)
}

// createPost validates and stores a post, then broadcasts it. A retried
// pending post id returns the stored post with 200 and no broadcast.
func (s *Server) createPost(ctx context.Context, post model.Post) (*model.Post, int, error) {
	if post.ChannelID == "" || post.UserID == "" {
		return nil, http.StatusBadRequest, errors.New("channel_id and user_id are required")
	}
	if strings.TrimSpace(post.Message) == "" && len(post.FileIDs) == 0 {
		return nil, http.StatusBadRequest, errors.New("message or files required")
	}
	if len([]rune(post.Message)) > maxPostRunes {
		return nil, http.StatusRequestEntityTooLarge, errors.New("message too long")
	}
	if _, err := s.store.GetChannel(ctx, post.ChannelID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, http.StatusNotFound, errors.New("channel not found")
		}
		return nil, http.StatusInternalServerError, err
	}
	if post.RootID != "" {
		root, err := s.store.GetPost(ctx, post.RootID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, http.StatusBadRequest, errors.New("thread root not found")
			}
			return nil, http.StatusInternalServerError, err
		}
		if root.ChannelID != post.ChannelID {
			return nil, http.StatusBadRequest, errors.New("thread root is in another channel")
		}
	}

	post.ID = uuid.NewString()
	post.CreateAt = s.now().UnixMilli()
	if len(post.FileIDs) > 0 {
		infos, err := s.store.GetFileInfos(ctx, post.FileIDs)
		if err != nil {
			return nil, http.StatusInternalServerError, err
		}
		if post.Metadata == nil {
			post.Metadata = &model.PostMetadata{}
		}
		post.Metadata.Files = infos
	}
	if post.RootID != "" && post.Metadata != nil {
		post.Metadata.Priority = nil
	}

	created, err := s.store.CreatePost(ctx, post)
	if errors.Is(err, storage.ErrDuplicatePost) && created != nil {
		s.metrics.IncDuplicate()
		return created, http.StatusOK, nil
	}
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	s.metrics.IncPost()
	s.logger.Debug("post created",
		zap.String("post_id", created.ID),
		zap.String("channel_id", created.ChannelID),
		zap.Int("files", len(created.FileIDs)))
	s.hub.Publish(model.Event{Type: model.EventPosted, ChannelID: created.ChannelID, Post: created, Ts: created.CreateAt})
	return created, http.StatusCreated, nil
}

func (s *Server) HandleReactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		methodNotAllowed(w, http.MethodPost+", "+http.MethodDelete)
		return
	}
	var reaction model.Reaction
	if err := decodeJSON(r, &reaction); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if reaction.PostID == "" || reaction.UserID == "" || reaction.EmojiName == "" {
		writeError(w, http.StatusBadRequest, errors.New("post_id, user_id and emoji_name are required"))
		return
	}
	post, err := s.store.GetPost(r.Context(), reaction.PostID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	reaction.CreateAt = s.now().UnixMilli()
	event := model.Event{ChannelID: post.ChannelID, Reaction: &reaction, UserID: reaction.UserID, Ts: reaction.CreateAt}
	if r.Method == http.MethodPost {
		err = s.store.AddReaction(r.Context(), reaction)
		event.Type = model.EventReactionAdded
	} else {
		err = s.store.RemoveReaction(r.Context(), reaction)
		event.Type = model.EventReactionRemoved
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.metrics.ObserveReaction(event.Type)
	s.hub.Publish(event)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	groups, err := s.store.ListGroups(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	writeJSON(w, http.StatusOK, names)
}

// allow applies the per-user limiter, falling back to the remote address.
func (s *Server) allow(userID string, r *http.Request) bool {
	key := userID
	if key == "" {
		key = r.RemoteAddr
	}
	if s.limiter.AllowAt(key, s.now()) {
		return true
	}
	s.metrics.IncLimited()
	return false
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an AppError body. An AppError in err keeps its own id and
// status.
func writeError(w http.ResponseWriter, status int, err error) {
	if appErr, ok := model.AsAppError(err); ok {
		if appErr.StatusCode == 0 {
			appErr.StatusCode = status
		}
		writeJSON(w, appErr.StatusCode, appErr)
		return
	}
	writeJSON(w, status, &model.AppError{Message: err.Error(), StatusCode: status})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
