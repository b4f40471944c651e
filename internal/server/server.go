package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/chat-gateway/internal/config"
	"github.com/npezzotti/chat-gateway/internal/database"
	"github.com/npezzotti/chat-gateway/internal/stats"
	"github.com/npezzotti/chat-gateway/internal/storage"
	"github.com/npezzotti/chat-gateway/internal/types"
)

const defaultOpTimeout = 10 * time.Second

type Options struct {
	MaxInlineSize  int64
	MaxMessageSize int64
	// OpTimeout bounds each directory, store or blob operation.
	OpTimeout time.Duration
}

// OptionsFromConfig takes the gateway limits from the runtime configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxInlineSize:  cfg.MaxInlineSize,
		MaxMessageSize: cfg.MaxMessageSize,
		OpTimeout:      defaultOpTimeout,
	}
}

type stopReq struct {
	done chan struct{}
}

type ChatServer struct {
	log           *log.Logger
	dir           database.Directory
	stats         stats.StatsProvider
	registry      *Registry
	rooms         *RoomManager
	ingest        *Ingestor
	broadcastChan chan *ServerMessage
	stop          chan stopReq
	ctx           context.Context
	cancel        context.CancelFunc
	tasks         sync.WaitGroup
	tasksLock     sync.Mutex
	opts          Options
}

func NewChatServer(logger *log.Logger, dir database.Directory, store database.MessageStore,
	blobs storage.BlobStore, su stats.StatsProvider, opts Options) (*ChatServer, error) {
	if dir == nil || store == nil || blobs == nil {
		return nil, fmt.Errorf("directory, message store and blob store are required")
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = config.DefaultMaxMessageSize
	}

	for _, name := range stats.Metrics {
		su.RegisterMetric(name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	registry := NewRegistry()
	rooms := NewRoomManager(registry, su, logger)

	return &ChatServer{
		log:           logger,
		dir:           dir,
		stats:         su,
		registry:      registry,
		rooms:         rooms,
		ingest:        NewIngestor(dir, store, blobs, rooms, su, logger, opts.MaxInlineSize),
		broadcastChan: make(chan *ServerMessage, 256),
		stop:          make(chan stopReq),
		ctx:           ctx,
		cancel:        cancel,
		opts:          opts,
	}, nil
}

// Run delivers global broadcasts until Shutdown is called.
func (cs *ChatServer) Run() {
	for {
		select {
		case msg := <-cs.broadcastChan:
			for _, c := range cs.registry.Clients() {
				if c == msg.SkipClient {
					continue
				}
				c.queueMessage(msg)
			}
		case req := <-cs.stop:
			cs.log.Println("stopping clients")
			for _, c := range cs.registry.Clients() {
				c.stopClient()
			}
			cs.cancel()
			close(req.done)
			return
		}
	}
}

// Shutdown stops the run loop and every client, then waits for pending
// follow-up tasks.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return fmt.Errorf("chat server shutdown: %w", ctx.Err())
	}

	select {
	case <-req.done:
	case <-ctx.Done():
		return fmt.Errorf("chat server shutdown: %w", ctx.Err())
	}

	tasksDone := make(chan struct{})
	go func() {
		// ctx is cancelled by now, so spawn adds nothing once the lock is held
		cs.tasksLock.Lock()
		defer cs.tasksLock.Unlock()
		cs.tasks.Wait()
		close(tasksDone)
	}()

	select {
	case <-tasksDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for follow-up tasks: %w", ctx.Err())
	}
}

// Serve registers a new websocket connection and starts its pumps.
func (cs *ChatServer) Serve(conn *websocket.Conn) *Client {
	c := NewClient(conn, cs, cs.log)
	cs.RegisterClient(c)
	go c.Write()
	go c.Read()
	return c
}

func (cs *ChatServer) RegisterClient(c *Client) {
	if cs.registry.Register(c) {
		cs.stats.Incr(stats.NumActiveClients)
		cs.log.Printf("registered connection %s", c.id)
	}
}

// opContext bounds a single collaborator call.
func (cs *ChatServer) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(cs.ctx, cs.opts.OpTimeout)
}

// AttachOutOfBand stores a file uploaded outside the websocket.
func (cs *ChatServer) AttachOutOfBand(ctx context.Context, conversationId, messageId int, f FileUpload) (types.Attachment, error) {
	return cs.ingest.Attach(ctx, conversationId, messageId, f)
}

// MessageHistory returns a conversation's messages oldest first.
func (cs *ChatServer) MessageHistory(ctx context.Context, conversationId int) ([]MessageAvailable, error) {
	return cs.ingest.History(ctx, conversationId)
}

// DeleteMessage removes a message, its attachments and their blobs, and
// notifies the room.
func (cs *ChatServer) DeleteMessage(ctx context.Context, messageId int) error {
	return cs.ingest.Delete(ctx, messageId)
}

// deregisterClient tears a connection down: it leaves its room, its
// presence is withdrawn and it is forgotten.
func (cs *ChatServer) deregisterClient(c *Client) {
	cs.rooms.Leave(c)
	c.stopClient()

	w, withdrawn, registered := cs.registry.Unregister(c)
	if !registered {
		return
	}
	if withdrawn {
		cs.afterWithdraw(w)
	}

	cs.stats.Decr(stats.NumActiveClients)
	cs.log.Printf("deregistered connection %s", c.id)
}
