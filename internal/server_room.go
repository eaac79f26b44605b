package internal

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"termpost/internal/model"
)

// a room fans channel events out to the channel's websocket members.
type Room struct {
	key       string
	members   map[*Member]bool
	broadcast chan []byte
	done      chan struct{}
	stopOnce  sync.Once
	mutex     sync.RWMutex
}

func newRoom(key string) *Room {
	return &Room{
		key:       key,
		members:   make(map[*Member]bool),
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
	}
}

func (room *Room) size() int {
	room.mutex.RLock()
	defer room.mutex.RUnlock()
	return len(room.members)
}

func (room *Room) add(member *Member) {
	room.mutex.Lock()
	defer room.mutex.Unlock()
	room.members[member] = true
}

func (room *Room) remove(member *Member) {
	room.mutex.Lock()
	defer room.mutex.Unlock()
	if _, exists := room.members[member]; exists {
		delete(room.members, member)
		close(member.send)
	}
}

func (room *Room) publish(payload []byte) {
	select {
	case room.broadcast <- payload:
	case <-room.done:
	}
}

// stop ends the run loop and closes every remaining member's queue.
func (room *Room) stop() {
	room.stopOnce.Do(func() {
		close(room.done)
		room.mutex.Lock()
		for member := range room.members {
			delete(room.members, member)
			close(member.send)
		}
		room.mutex.Unlock()
	})
}

func (room *Room) run() {
	for {
		select {
		case <-room.done:
			return
		case payload := <-room.broadcast:
			// a member whose queue is full is dropped; its writePump sees the
			// closed channel and hangs up.
			room.mutex.Lock()
			for member := range room.members {
				select {
				case member.send <- payload:
				default:
					close(member.send)
					delete(room.members, member)
				}
			}
			room.mutex.Unlock()
		}
	}
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 8192
)

// Member wraps one websocket connection subscribed to a channel.
type Member struct {
	room         *Room
	conn         *websocket.Conn
	send         chan []byte
	channelID    string
	userID       string
	limiter      *RateLimiter
	metrics      *Metrics
	logger       *zap.Logger
	onDisconnect func()
}

func newMember(conn *websocket.Conn, channelID, userID string) *Member {
	return &Member{
		conn:      conn,
		send:      make(chan []byte, 256),
		channelID: channelID,
		userID:    userID,
		logger:    zap.NewNop(),
	}
}

// readPump only accepts typing notices from members; posts go through the
// HTTP API so they are stored before they are broadcast.
func (member *Member) readPump(hub *Hub) {
	defer func() {
		hub.leave(member)
		member.conn.Close()
		if member.onDisconnect != nil {
			member.onDisconnect()
		}
	}()
	member.conn.SetReadLimit(maxMsgSize)
	_ = member.conn.SetReadDeadline(time.Now().Add(pongWait))
	member.conn.SetPongHandler(func(string) error {
		return member.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := member.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				member.logger.Debug("websocket read", zap.String("channel_id", member.channelID), zap.Error(err))
			}
			break
		}
		var event model.Event
		if err := json.Unmarshal(payload, &event); err != nil || event.Type != model.EventTyping {
			continue
		}
		now := time.Now()
		if member.limiter != nil && !member.limiter.AllowAt("ws:"+member.userID, now) {
			if member.metrics != nil {
				member.metrics.IncLimited()
			}
			member.notifyRateLimit(now)
			continue
		}
		hub.Publish(model.Event{
			Type:      model.EventTyping,
			ChannelID: member.channelID,
			UserID:    member.userID,
			Ts:        now.UnixMilli(),
		})
	}
}

func (member *Member) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		member.conn.Close()
	}()
	for {
		select {
		case message, ok := <-member.send:
			_ = member.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = member.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := member.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = member.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := member.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (member *Member) notifyRateLimit(now time.Time) {
	payload, err := json.Marshal(model.Event{
		Type:      model.EventEphemeral,
		ChannelID: member.channelID,
		Text:      "You're sending events too quickly. Please wait a moment and try again.",
		Ts:        now.UnixMilli(),
	})
	if err != nil {
		return
	}
	// the room may already have closed send
	member.room.mutex.RLock()
	defer member.room.mutex.RUnlock()
	if !member.room.members[member] {
		return
	}
	select {
	case member.send <- payload:
	default:
	}
}
