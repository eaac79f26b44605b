package internal

import "sync"

// PresenceTracker counts open websocket connections per user and channel.
type PresenceTracker struct {
	mu     sync.Mutex
	online map[string]map[string]int
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]map[string]int)}
}

// Increment records a connection and returns the user's count in the channel.
func (p *PresenceTracker) Increment(channelID, userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	users, ok := p.online[channelID]
	if !ok {
		users = make(map[string]int)
		p.online[channelID] = users
	}
	users[userID]++
	return users[userID]
}

func (p *PresenceTracker) Decrement(channelID, userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	users, ok := p.online[channelID]
	if !ok {
		return 0
	}
	count, ok := users[userID]
	if !ok {
		return 0
	}
	if count <= 1 {
		delete(users, userID)
		if len(users) == 0 {
			delete(p.online, channelID)
		}
		return 0
	}
	users[userID] = count - 1
	return users[userID]
}

func (p *PresenceTracker) Online(channelID, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[channelID][userID] > 0
}

// ActiveCount is the number of distinct users connected to the channel.
func (p *PresenceTracker) ActiveCount(channelID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.online[channelID])
}
