package server

import (
	"context"

	"github.com/npezzotti/chat-gateway/internal/stats"
)

// broadcastAll queues msg for every live connection through the run loop,
// so all connections see global events in the same order.
func (cs *ChatServer) broadcastAll(msg *ServerMessage) {
	select {
	case cs.broadcastChan <- msg:
	case <-cs.ctx.Done():
	}
}

func (cs *ChatServer) announce(c *Client, userId int) int {
	count, replaced, changed := cs.registry.Announce(c, userId)
	if replaced != nil {
		cs.afterWithdraw(*replaced)
	}

	if changed {
		if count == 1 {
			cs.stats.Incr(stats.NumOnlineUsers)
		}
		cs.broadcastAll(peerConnected(userId))
	}

	cs.logPresence("announce", userId)
	return count
}

func (cs *ChatServer) withdraw(c *Client) (Withdrawal, bool) {
	w, ok := cs.registry.Withdraw(c)
	if ok {
		cs.afterWithdraw(w)
	}
	return w, ok
}

// afterWithdraw announces a withdrawal. The last connection of a user going
// away also marks the user offline in every conversation they belong to.
func (cs *ChatServer) afterWithdraw(w Withdrawal) {
	cs.broadcastAll(peerDisconnected(w.UserId))

	if w.Remaining == 0 {
		cs.stats.Decr(stats.NumOnlineUsers)
		cs.spawn(func(ctx context.Context) {
			cs.notifyOffline(ctx, w.UserId)
		})
	}

	cs.logPresence("withdraw", w.UserId)
}

// spawn runs a follow-up task that Shutdown waits for.
func (cs *ChatServer) spawn(task func(ctx context.Context)) {
	cs.tasksLock.Lock()
	defer cs.tasksLock.Unlock()

	if cs.ctx.Err() != nil {
		return
	}

	cs.tasks.Add(1)
	go func() {
		defer cs.tasks.Done()

		ctx, cancel := cs.opContext()
		defer cancel()

		task(ctx)
	}()
}

func (cs *ChatServer) notifyOffline(ctx context.Context, userId int) {
	if cs.registry.IsOnline(userId) {
		cs.log.Printf("user %d reconnected, skipping offline notification", userId)
		return
	}

	conversations, err := cs.dir.ConversationsOf(ctx, userId)
	if err != nil {
		cs.log.Printf("conversations of user %d: %v", userId, err)
		return
	}

	msg := peerOffline(userId)
	for _, id := range conversations {
		cs.rooms.Broadcast(id, msg)
	}

	cs.log.Printf("notified %d conversations that user %d is offline", len(conversations), userId)
}

func (cs *ChatServer) logPresence(event string, userId int) {
	connections, users := cs.registry.Counts()
	cs.log.Printf("%s user=%d count=%d connections=%d online=%d",
		event, userId, cs.registry.Count(userId), connections, users)
}
