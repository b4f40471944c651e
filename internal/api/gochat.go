package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/chat-gateway/internal/config"
	"github.com/npezzotti/chat-gateway/internal/database"
	"github.com/npezzotti/chat-gateway/internal/server"
	"github.com/npezzotti/chat-gateway/internal/stats"
	"github.com/npezzotti/chat-gateway/internal/storage"
)

type GoChatApp struct {
	log            *log.Logger
	db             database.GoChatRepository
	srv            *http.Server
	cs             *server.ChatServer
	blobs          storage.BlobStore
	allowedOrigins []string
	maxUploadSize  int64
}

// NewGoChatApp registers the gateway's routes on mux. metrics may be nil.
func NewGoChatApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.GoChatRepository,
	blobs storage.BlobStore, metrics *stats.HTTPMetrics, cfg *config.Config) *GoChatApp {
	s := &GoChatApp{
		log:            logger,
		db:             db,
		cs:             cs,
		blobs:          blobs,
		allowedOrigins: cfg.AllowedOrigins,
		maxUploadSize:  cfg.MaxUploadSize,
	}
	if s.maxUploadSize <= 0 {
		s.maxUploadSize = config.DefaultMaxUploadSize
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /api/conversations/{conversationId}/messages", s.getMessages)
	mux.HandleFunc("POST /api/conversations/{conversationId}/upload", s.uploadAttachments)
	mux.HandleFunc("GET /api/attachments/{attachmentId}", s.getAttachment)
	mux.HandleFunc("DELETE /api/messages/{messageId}", s.deleteMessage)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Range"}),
		handlers.ExposedHeaders([]string{"Content-Disposition", "Content-Range"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)
	if metrics != nil {
		h = metrics.Middleware(h)
	}

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *GoChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *GoChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
