package internal

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"termpost/internal/model"
	"termpost/internal/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS subscribes the caller to a channel's events. Joining creates the
// channel on first use and records the caller as a member with their timezone.
func (s *Server) ServeWS(writer http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()
	channelID := strings.TrimSpace(query.Get("channel"))
	userID := strings.TrimSpace(query.Get("user"))
	if channelID == "" || userID == "" {
		http.Error(writer, "missing channel or user query param", http.StatusBadRequest)
		return
	}
	ctx := request.Context()
	if _, err := s.store.CreateChannel(ctx, model.Channel{ID: channelID, DisplayName: channelID}); err != nil && !errors.Is(err, storage.ErrChannelExists) {
		writeError(writer, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.AddChannelMember(ctx, channelID, userID, query.Get("tz")); err != nil {
		writeError(writer, http.StatusInternalServerError, err)
		return
	}

	websocketConn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Warn("upgrade error", zap.Error(err))
		return
	}

	member := newMember(websocketConn, channelID, userID)
	member.limiter = s.limiter
	member.metrics = s.metrics
	member.logger = s.logger
	member.onDisconnect = func() {
		s.metrics.DecConn()
		if s.presence.Decrement(channelID, userID) == 0 {
			s.hub.Publish(model.Event{Type: model.EventUserLeft, ChannelID: channelID, UserID: userID, Ts: s.now().UnixMilli()})
		}
	}
	s.metrics.IncConn()
	s.hub.join(member)
	if s.presence.Increment(channelID, userID) == 1 {
		s.hub.Publish(model.Event{Type: model.EventUserJoined, ChannelID: channelID, UserID: userID, Ts: s.now().UnixMilli()})
	}
	s.logger.Debug("member joined", zap.String("channel_id", channelID), zap.String("user_id", userID))

	go member.writePump()
	go member.readPump(s.hub)
}
