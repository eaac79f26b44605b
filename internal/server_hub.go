package internal

import (
	"encoding/json"
	"sync"

	"termpost/internal/model"
)

// the hub keeps one room per channel that has live websocket members and
// removes it when the last member leaves.
type Hub struct {
	mutex sync.RWMutex
	rooms map[string]*Room
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*Room)}
}

// Exists returns true if the channel currently has a room in memory.
func (hub *Hub) Exists(channelID string) bool {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	_, ok := hub.rooms[channelID]
	return ok
}

// join adds the member to its channel's room, creating the room on demand.
func (hub *Hub) join(member *Member) *Room {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	room, exists := hub.rooms[member.channelID]
	if !exists {
		room = newRoom(member.channelID)
		hub.rooms[member.channelID] = room
		go room.run()
	}
	room.add(member)
	member.room = room
	return room
}

// leave removes the member and stops the room once it is empty.
func (hub *Hub) leave(member *Member) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	room, exists := hub.rooms[member.channelID]
	if !exists {
		return
	}
	room.remove(member)
	if room.size() == 0 {
		room.stop()
		delete(hub.rooms, member.channelID)
	}
}

// Publish sends the event to every member of the event's channel. Channels
// without live members drop it.
func (hub *Hub) Publish(event model.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	room, exists := hub.rooms[event.ChannelID]
	if !exists {
		return
	}
	room.publish(payload)
}

// Size reports how many members are connected to the channel.
func (hub *Hub) Size(channelID string) int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	if room, ok := hub.rooms[channelID]; ok {
		return room.size()
	}
	return 0
}

// Close stops every room and disconnects their members.
func (hub *Hub) Close() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	for key, room := range hub.rooms {
		room.stop()
		delete(hub.rooms, key)
	}
}
