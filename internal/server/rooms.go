package server

import (
	"log"
	"sync"

	"github.com/npezzotti/chat-gateway/internal/stats"
)

// RoomManager maps conversations to the connections currently viewing them.
// It is a fan-out index only and never checks participation.
type RoomManager struct {
	mu       sync.RWMutex
	rooms    map[int]map[*Client]struct{}
	registry *Registry
	stats    stats.StatsProvider
	log      *log.Logger
}

func NewRoomManager(registry *Registry, su stats.StatsProvider, logger *log.Logger) *RoomManager {
	return &RoomManager{
		rooms:    make(map[int]map[*Client]struct{}),
		registry: registry,
		stats:    su,
		log:      logger,
	}
}

// Join moves the connection into the conversation's room, leaving the room
// it was in before.
func (rm *RoomManager) Join(c *Client, conversationId int) {
	var opened, closed bool

	rm.mu.Lock()
	prev, hadPrev := rm.registry.BindRoom(c, conversationId)
	if hadPrev && prev != conversationId {
		closed = rm.removeLocked(prev, c)
	}

	members, ok := rm.rooms[conversationId]
	if !ok {
		members = make(map[*Client]struct{})
		rm.rooms[conversationId] = members
		opened = true
	}
	members[c] = struct{}{}
	rm.mu.Unlock()

	if closed {
		rm.stats.Decr(stats.NumActiveRooms)
	}
	if opened {
		rm.stats.Incr(stats.NumActiveRooms)
	}

	rm.log.Printf("connection %s joined conversation %d", c.id, conversationId)
}

// Leave removes the connection from its current room and returns the room
// it left.
func (rm *RoomManager) Leave(c *Client) (int, bool) {
	rm.mu.Lock()
	prev, ok := rm.registry.UnbindRoom(c)
	var closed bool
	if ok {
		closed = rm.removeLocked(prev, c)
	}
	rm.mu.Unlock()

	if !ok {
		return 0, false
	}

	if closed {
		rm.stats.Decr(stats.NumActiveRooms)
	}

	rm.log.Printf("connection %s left conversation %d", c.id, prev)
	return prev, true
}

// removeLocked drops c from the room and reports whether the room is now gone.
func (rm *RoomManager) removeLocked(conversationId int, c *Client) bool {
	members, ok := rm.rooms[conversationId]
	if !ok {
		return false
	}

	delete(members, c)
	if len(members) == 0 {
		delete(rm.rooms, conversationId)
		return true
	}
	return false
}

// MembersOf returns a snapshot of the connections in a room.
func (rm *RoomManager) MembersOf(conversationId int) []*Client {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	members := make([]*Client, 0, len(rm.rooms[conversationId]))
	for c := range rm.rooms[conversationId] {
		members = append(members, c)
	}
	return members
}

// Broadcast queues msg to every connection in the room and returns the
// number of connections it was queued to.
func (rm *RoomManager) Broadcast(conversationId int, msg *ServerMessage) int {
	n := 0
	for _, c := range rm.MembersOf(conversationId) {
		if c == msg.SkipClient {
			continue
		}

		if c.queueMessage(msg) {
			n++
		}
	}
	return n
}
