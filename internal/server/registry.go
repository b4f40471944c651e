package server

import "sync"

type binding struct {
	userId         int
	announced      bool
	conversationId int
	inRoom         bool
}

// Withdrawal describes a user binding removed from a connection.
type Withdrawal struct {
	UserId int
	// Remaining is the number of announced connections the user still has.
	Remaining int
}

// Registry tracks live connections, the user each connection announced and
// the room it is bound to, along with per-user connection counts.
type Registry struct {
	mu      sync.RWMutex
	clients map[*Client]*binding
	counts  map[int]int
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[*Client]*binding),
		counts:  make(map[int]int),
	}
}

// Register adds a connection and reports whether it was new.
func (r *Registry) Register(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c]; ok {
		return false
	}

	r.clients[c] = &binding{}
	return true
}

// Unregister forgets a connection. An announced connection is withdrawn
// first and the withdrawal returned. registered is false when the
// connection was unknown.
func (r *Registry) Unregister(c *Client) (w Withdrawal, withdrawn, registered bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, registered = r.clients[c]; !registered {
		return Withdrawal{}, false, false
	}

	w, withdrawn = r.withdrawLocked(c)
	delete(r.clients, c)
	return w, withdrawn, true
}

// Announce binds the connection to userId. Announcing the bound user again
// changes nothing. Announcing a different user withdraws the previous
// binding, which is returned. changed is false when nothing was done.
func (r *Registry) Announce(c *Client, userId int) (count int, replaced *Withdrawal, changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.clients[c]
	if !ok {
		b = &binding{}
		r.clients[c] = b
	}

	if b.announced {
		if b.userId == userId {
			return r.counts[userId], nil, false
		}

		w, _ := r.withdrawLocked(c)
		replaced = &w
	}

	b.userId = userId
	b.announced = true
	r.counts[userId]++

	return r.counts[userId], replaced, true
}

// Withdraw clears the connection's user binding and decrements the user's
// count. ok is false if the connection was not announced.
func (r *Registry) Withdraw(c *Client) (Withdrawal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.withdrawLocked(c)
}

func (r *Registry) withdrawLocked(c *Client) (Withdrawal, bool) {
	b, ok := r.clients[c]
	if !ok || !b.announced {
		return Withdrawal{}, false
	}

	userId := b.userId
	b.announced = false
	b.userId = 0

	remaining := r.counts[userId] - 1
	if remaining <= 0 {
		delete(r.counts, userId)
		remaining = 0
	} else {
		r.counts[userId] = remaining
	}

	return Withdrawal{UserId: userId, Remaining: remaining}, true
}

func (r *Registry) IsOnline(userId int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.counts[userId] > 0
}

func (r *Registry) Count(userId int) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.counts[userId]
}

// UserOf returns the user a connection announced.
func (r *Registry) UserOf(c *Client) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.clients[c]
	if !ok || !b.announced {
		return 0, false
	}
	return b.userId, true
}

// BindRoom records the connection's current room and returns the room it
// was bound to before, if any.
func (r *Registry) BindRoom(c *Client, conversationId int) (prev int, hadPrev bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.clients[c]
	if !ok {
		b = &binding{}
		r.clients[c] = b
	}

	prev, hadPrev = b.conversationId, b.inRoom
	b.conversationId = conversationId
	b.inRoom = true
	return prev, hadPrev
}

func (r *Registry) UnbindRoom(c *Client) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.clients[c]
	if !ok || !b.inRoom {
		return 0, false
	}

	prev := b.conversationId
	b.conversationId = 0
	b.inRoom = false
	return prev, true
}

func (r *Registry) RoomOf(c *Client) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.clients[c]
	if !ok || !b.inRoom {
		return 0, false
	}
	return b.conversationId, true
}

// Clients returns a snapshot of the live connections.
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	return clients
}

// Counts returns the number of live connections and online users.
func (r *Registry) Counts() (connections, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients), len(r.counts)
}
