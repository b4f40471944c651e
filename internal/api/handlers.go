package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/chat-gateway/internal/storage"
)

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *GoChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.Err != nil {
		s.log.Printf("%s", errResp)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

// pathId parses a positive integer path parameter.
func pathId(r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(r.PathValue(name))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Printf("health check: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GoChatApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients send no origin
		return true
	}

	return slices.Contains(s.allowedOrigins, origin) || slices.Contains(s.allowedOrigins, "*")
}

func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	c := s.cs.Serve(conn)
	s.log.Printf("connection %s opened from %s", c.Id(), r.RemoteAddr)
}

// attachmentCSP keeps uploaded content from running script on the API origin.
const attachmentCSP = "sandbox; default-src 'none'"

func (s *GoChatApp) getAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(r, "attachmentId")
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	att, err := s.db.GetAttachment(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewNotFoundError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	f, err := s.blobs.Open(att.FilePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Printf("attachment %d: blob %q is missing", att.Id, att.FilePath)
			s.writeError(w, NewNotFoundError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	if att.FileType != "" {
		w.Header().Set("Content-Type", att.FileType)
	}
	disposition := "inline"
	if storage.Active(att.FileType) {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": att.Filename}))
	w.Header().Set("Content-Security-Policy", attachmentCSP)
	w.Header().Set("X-Content-Type-Options", "nosniff")

	http.ServeContent(w, r, att.Filename, fi.ModTime(), f)
}

// getMessages returns the conversation history so clients can pick up
// attachments that arrived while they were away.
func (s *GoChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(r, "conversationId")
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	history, err := s.cs.MessageHistory(r.Context(), id)
	if err != nil {
		s.writeError(w, NewGatewayError(err))
		return
	}

	s.writeJson(w, http.StatusOK, history)
}

func (s *GoChatApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(r, "messageId")
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	if err := s.cs.DeleteMessage(r.Context(), id); err != nil {
		s.writeError(w, NewGatewayError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
