package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/npezzotti/chat-gateway/internal/server"
	"github.com/npezzotti/chat-gateway/internal/types"
)

const (
	maxUploadFiles  = 10
	maxMemory       = 32 << 20
	ndjsonMediaType = "application/x-ndjson"
)

type UploadFailure struct {
	Filename   string `json:"filename"`
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
}

type UploadResult struct {
	Success     bool               `json:"success"`
	Attachments []types.Attachment `json:"attachments"`
	Failed      []UploadFailure    `json:"failed,omitempty"`
}

type uploadProgress struct {
	Progress int `json:"progress"`
}

// progressReader reports the percentage of the body read whenever it
// increases.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	last     int
	progress func(percent int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)

	if p.total > 0 {
		percent := int(p.read * 100 / p.total)
		if percent > 100 {
			percent = 100
		}
		if percent > p.last {
			p.last = percent
			p.progress(percent)
		}
	}

	return n, err
}

// ndjsonWriter streams newline delimited JSON values, flushing each one.
type ndjsonWriter struct {
	mu  sync.Mutex
	w   http.ResponseWriter
	rc  *http.ResponseController
	enc *json.Encoder
}

func newNdjsonWriter(w http.ResponseWriter) *ndjsonWriter {
	return &ndjsonWriter{w: w, rc: http.NewResponseController(w), enc: json.NewEncoder(w)}
}

func (nw *ndjsonWriter) write(v any) error {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	if err := nw.enc.Encode(v); err != nil {
		return err
	}
	return nw.rc.Flush()
}

func wantsProgress(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), ndjsonMediaType)
}

// uploadAttachments stores files sent for an existing message. Each stored
// file is announced to the conversation as it completes. With an NDJSON
// Accept header the caller receives progress lines while the body is read,
// followed by the result.
func (s *GoChatApp) uploadAttachments(w http.ResponseWriter, r *http.Request) {
	conversationId, ok := pathId(r, "conversationId")
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)

	var stream *ndjsonWriter
	if wantsProgress(r) {
		if err := http.NewResponseController(w).EnableFullDuplex(); err != nil {
			s.log.Printf("upload progress unavailable: %v", err)
		} else {
			stream = newNdjsonWriter(w)
			w.Header().Set("Content-Type", ndjsonMediaType)
			w.WriteHeader(http.StatusOK)
			r.Body = struct {
				io.Reader
				io.Closer
			}{
				Reader: &progressReader{
					r:     r.Body,
					total: r.ContentLength,
					progress: func(percent int) {
						if err := stream.write(uploadProgress{Progress: percent}); err != nil {
							s.log.Printf("write upload progress: %v", err)
						}
					},
				},
				Closer: r.Body,
			}
		}
	}

	status, result, errResp := s.storeUploads(r, conversationId)

	if stream != nil {
		var err error
		if errResp != nil {
			err = stream.write(errResp)
		} else {
			err = stream.write(result)
		}
		if err != nil {
			s.log.Printf("write upload result: %v", err)
		}
		return
	}

	if errResp != nil {
		s.writeError(w, errResp)
		return
	}
	s.writeJson(w, status, result)
}

func (s *GoChatApp) storeUploads(r *http.Request, conversationId int) (int, *UploadResult, *ApiError) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return 0, nil, NewRequestTooLargeError()
		}
		return 0, nil, NewBadRequestError()
	}
	defer r.MultipartForm.RemoveAll()

	messageId, err := strconv.Atoi(r.FormValue("messageId"))
	if err != nil || messageId <= 0 {
		return 0, nil, NewBadRequestError()
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 || len(files) > maxUploadFiles {
		return 0, nil, NewBadRequestError()
	}

	result := &UploadResult{Attachments: []types.Attachment{}}
	for _, fh := range files {
		att, err := s.storeUpload(r, conversationId, messageId, fh)
		if err != nil {
			if errors.Is(err, server.ErrMessageNotFound) {
				return 0, nil, NewGatewayError(err)
			}

			s.log.Printf("upload %q for message %d: %v", fh.Filename, messageId, err)
			apiErr := NewGatewayError(err)
			result.Failed = append(result.Failed, UploadFailure{
				Filename:   fh.Filename,
				StatusCode: apiErr.StatusCode,
				Error:      apiErr.Message,
			})
			continue
		}

		result.Attachments = append(result.Attachments, att)
	}

	result.Success = len(result.Failed) == 0
	if len(result.Attachments) == 0 {
		return http.StatusUnprocessableEntity, result, nil
	}
	return http.StatusCreated, result, nil
}

func (s *GoChatApp) storeUpload(r *http.Request, conversationId, messageId int, fh *multipart.FileHeader) (types.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return types.Attachment{}, err
	}
	defer f.Close()

	return s.cs.AttachOutOfBand(r.Context(), conversationId, messageId, server.FileUpload{
		Filename:  fh.Filename,
		MediaType: fh.Header.Get("Content-Type"),
		Content:   f,
	})
}
