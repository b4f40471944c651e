package server

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"unicode"

	"github.com/npezzotti/chat-gateway/internal/database"
	"github.com/npezzotti/chat-gateway/internal/stats"
	"github.com/npezzotti/chat-gateway/internal/storage"
	"github.com/npezzotti/chat-gateway/internal/types"
)

const sniffLen = 512

type jobState int

const (
	stateValidating jobState = iota
	statePersisting
	stateAttaching
	stateBroadcasting
	stateDone
	stateFailed
)

func (s jobState) String() string {
	switch s {
	case stateValidating:
		return "validating"
	case statePersisting:
		return "persisting"
	case stateAttaching:
		return "attaching"
	case stateBroadcasting:
		return "broadcasting"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

type fileStatus string

const (
	filePending fileStatus = "pending"
	fileStored  fileStatus = "stored"
	fileFailed  fileStatus = "failed"
)

type jobFile struct {
	filename string
	status   fileStatus
	err      error
}

// uploadJob follows one publish request through the pipeline.
type uploadJob struct {
	requestId      int
	conversationId int
	userId         int
	state          jobState
	messageId      int
	files          []*jobFile
	attachments    []types.Attachment
}

func (j *uploadJob) String() string {
	stored, failed := 0, 0
	for _, f := range j.files {
		switch f.status {
		case fileStored:
			stored++
		case fileFailed:
			failed++
		}
	}
	return fmt.Sprintf("send(user=%d conversation=%d message=%d files=%d stored=%d failed=%d)",
		j.userId, j.conversationId, j.messageId, len(j.files), stored, failed)
}

// Broadcaster delivers a message to every connection in a room.
type Broadcaster interface {
	Broadcast(conversationId int, msg *ServerMessage) int
}

// FileUpload is a file delivered outside the websocket.
type FileUpload struct {
	Filename  string
	MediaType string
	Content   io.Reader
}

// Ingestor validates, persists and fans out messages and their attachments.
type Ingestor struct {
	dir       database.Directory
	store     database.MessageStore
	blobs     storage.BlobStore
	rooms     Broadcaster
	stats     stats.StatsProvider
	log       *log.Logger
	maxInline int64
}

func NewIngestor(dir database.Directory, store database.MessageStore, blobs storage.BlobStore,
	rooms Broadcaster, su stats.StatsProvider, logger *log.Logger, maxInline int64) *Ingestor {
	return &Ingestor{
		dir:       dir,
		store:     store,
		blobs:     blobs,
		rooms:     rooms,
		stats:     su,
		log:       logger,
		maxInline: maxInline,
	}
}

func (in *Ingestor) transition(job *uploadJob, state jobState) {
	in.log.Printf("%s: %s -> %s", job, job.state, state)
	job.state = state
}

// Send runs a publish request through the pipeline. Failures are reported
// to the sender only. A failed inline file fails alone and the message is
// still broadcast with the files that were stored.
func (in *Ingestor) Send(ctx context.Context, c *Client, requestId int, req *Publish) (*types.Message, error) {
	job := &uploadJob{
		requestId:      requestId,
		conversationId: req.ConversationId,
		userId:         req.UserId,
		state:          stateValidating,
	}
	for _, f := range req.Files {
		job.files = append(job.files, &jobFile{filename: f.Filename, status: filePending})
	}

	fail := func(err error) (*types.Message, error) {
		in.transition(job, stateFailed)
		in.log.Printf("%s: %v", job, err)
		c.queueMessage(NewSendFailed(requestId, req.ConversationId, "", err))
		return nil, err
	}

	sender, err := in.dir.ParticipantFor(ctx, req.UserId, req.ConversationId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fail(fmt.Errorf("%w: user %d conversation %d", ErrNotAParticipant, req.UserId, req.ConversationId))
		}
		return fail(fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err))
	}

	in.transition(job, statePersisting)
	msg, err := in.store.CreateMessage(ctx, database.CreateMessageParams{
		ParticipantId:  sender.Id,
		ConversationId: req.ConversationId,
		Content:        req.Content,
	})
	if err != nil {
		return fail(fmt.Errorf("create message: %w", err))
	}
	job.messageId = msg.Id
	in.stats.Incr(stats.NumMessages)

	if len(req.Files) > 0 {
		in.transition(job, stateAttaching)
		for i, f := range req.Files {
			att, err := in.storeInline(ctx, req.ConversationId, msg.Id, f)
			if err != nil {
				job.files[i].status = fileFailed
				job.files[i].err = err
				in.stats.Incr(stats.NumAttachmentFailures)
				in.log.Printf("%s: file %q: %v", job, f.Filename, err)
				c.queueMessage(NewSendFailed(requestId, req.ConversationId, f.Filename, err))
				continue
			}

			job.files[i].status = fileStored
			job.attachments = append(job.attachments, att)
			in.stats.Incr(stats.NumAttachments)
		}
	}

	in.transition(job, stateBroadcasting)
	out := types.Message{
		Id:             msg.Id,
		ConversationId: msg.ConversationId,
		ParticipantId:  msg.ParticipantId,
		Content:        msg.Content,
		Attachments:    job.attachments,
		CreatedAt:      msg.CreatedAt,
	}
	if out.Attachments == nil {
		out.Attachments = []types.Attachment{}
	}

	c.queueMessage(NoErrAccepted(requestId, map[string]any{"message_id": msg.Id}))
	in.rooms.Broadcast(req.ConversationId, &ServerMessage{
		BaseMessage: BaseMessage{Id: requestId, Timestamp: Now()},
		Message: &MessageAvailable{
			Message: out,
			Sender:  toParticipant(sender),
		},
	})

	in.transition(job, stateDone)
	return &out, nil
}

// storeInline decodes one inline file and stores it. The decoded size is
// checked before any decoding happens.
func (in *Ingestor) storeInline(ctx context.Context, conversationId, messageId int, f InlineFile) (types.Attachment, error) {
	declared, payload, err := splitDataURL(f.Data)
	if err != nil {
		return types.Attachment{}, err
	}

	if size := decodedLen(payload); in.maxInline > 0 && size > in.maxInline {
		return types.Attachment{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrAttachmentTooLarge, size, in.maxInline)
	}

	data, err := decodeBase64(payload)
	if err != nil {
		return types.Attachment{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(data) == 0 {
		return types.Attachment{}, fmt.Errorf("%w: empty file", ErrMalformedPayload)
	}

	if f.Type != "" {
		declared = f.Type
	}

	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}

	return in.attach(ctx, conversationId, messageId, f.Filename, storage.DetectType(declared, head), bytes.NewReader(data))
}

// splitDataURL separates an optional "data:<type>;base64," prefix from the payload.
func splitDataURL(data string) (mediaType, payload string, err error) {
	if !strings.HasPrefix(data, "data:") {
		return "", data, nil
	}

	header, payload, ok := strings.Cut(data, ",")
	if !ok {
		return "", "", fmt.Errorf("%w: data url without payload", ErrMalformedPayload)
	}

	header = strings.TrimPrefix(header, "data:")
	mediaType, ok = strings.CutSuffix(header, ";base64")
	if !ok {
		return "", "", fmt.Errorf("%w: data url is not base64", ErrMalformedPayload)
	}

	return mediaType, payload, nil
}

// compactBase64 drops the line breaks and spaces wrapped encoders insert.
func compactBase64(payload string) string {
	if strings.IndexFunc(payload, unicode.IsSpace) < 0 {
		return payload
	}
	return strings.Join(strings.Fields(payload), "")
}

// decodedLen returns the number of bytes a base64 payload decodes to.
func decodedLen(payload string) int64 {
	payload = compactBase64(payload)
	n := len(payload)
	pad := 0
	for pad < 2 && n-pad > 0 && payload[n-pad-1] == '=' {
		pad++
	}
	return int64((n - pad) * 3 / 4)
}

// decodeBase64 accepts padded and unpadded standard base64.
func decodeBase64(payload string) ([]byte, error) {
	payload = compactBase64(payload)
	if strings.HasSuffix(payload, "=") || len(payload)%4 == 0 {
		return base64.StdEncoding.DecodeString(payload)
	}
	return base64.RawStdEncoding.DecodeString(payload)
}

// attach checks the media type, writes the blob and records it. The blob is
// removed again if the metadata write fails.
func (in *Ingestor) attach(ctx context.Context, conversationId, messageId int, filename, mediaType string, r io.Reader) (types.Attachment, error) {
	if filename == "" {
		filename = "file"
	}

	if !storage.Allowed(mediaType, filename) {
		return types.Attachment{}, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, mediaType)
	}

	path, size, err := in.blobs.Put(conversationId, filename, r)
	if err != nil {
		return types.Attachment{}, fmt.Errorf("%w: %v", ErrAttachmentWriteFailed, err)
	}

	a, err := in.store.CreateAttachment(ctx, database.CreateAttachmentParams{
		MessageId: messageId,
		Filename:  filename,
		FilePath:  path,
		FileType:  mediaType,
		FileSize:  size,
	})
	if err != nil {
		if rerr := in.blobs.Remove(path); rerr != nil {
			in.log.Printf("remove orphaned blob %q: %v", path, rerr)
		}
		return types.Attachment{}, fmt.Errorf("%w: %v", ErrAttachmentWriteFailed, err)
	}

	return toAttachment(a), nil
}

// messageIn loads a message and checks it belongs to the conversation.
func (in *Ingestor) messageIn(ctx context.Context, conversationId, messageId int) (database.Message, error) {
	msg, err := in.store.GetMessage(ctx, messageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Message{}, fmt.Errorf("%w: %d", ErrMessageNotFound, messageId)
		}
		return database.Message{}, fmt.Errorf("get message %d: %w", messageId, err)
	}

	if msg.ConversationId != conversationId {
		return database.Message{}, fmt.Errorf("%w: %d in conversation %d", ErrMessageNotFound, messageId, conversationId)
	}

	return msg, nil
}

// Attach stores a file uploaded out of band for an existing message and
// announces it to the room.
func (in *Ingestor) Attach(ctx context.Context, conversationId, messageId int, f FileUpload) (types.Attachment, error) {
	if _, err := in.messageIn(ctx, conversationId, messageId); err != nil {
		return types.Attachment{}, err
	}

	r := f.Content
	mediaType := f.MediaType
	if mediaType == "" {
		br := bufio.NewReaderSize(f.Content, sniffLen)
		head, _ := br.Peek(sniffLen)
		mediaType = storage.DetectType("", head)
		r = br
	}

	att, err := in.attach(ctx, conversationId, messageId, f.Filename, mediaType, r)
	if err != nil {
		in.stats.Incr(stats.NumAttachmentFailures)
		return types.Attachment{}, err
	}
	in.stats.Incr(stats.NumAttachments)

	in.rooms.Broadcast(conversationId, attachmentReady(AttachmentReady{
		MessageId:      messageId,
		ConversationId: conversationId,
		AttachmentId:   att.Id,
		Filename:       att.Filename,
	}))

	return att, nil
}

// TransferComplete relays a client's report that an out-of-band upload
// finished. Clients reconcile by message id and filename, so a repeat of
// the notification sent by Attach is harmless.
func (in *Ingestor) TransferComplete(ctx context.Context, tc *TransferComplete) error {
	if _, err := in.messageIn(ctx, tc.ConversationId, tc.MessageId); err != nil {
		return err
	}

	in.rooms.Broadcast(tc.ConversationId, attachmentReady(AttachmentReady{
		MessageId:      tc.MessageId,
		ConversationId: tc.ConversationId,
		Filename:       tc.Filename,
	}))

	return nil
}

// Delete removes a message with its attachments and their blobs, then
// tells the room.
func (in *Ingestor) Delete(ctx context.Context, messageId int) error {
	msg, err := in.store.GetMessage(ctx, messageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", ErrMessageNotFound, messageId)
		}
		return fmt.Errorf("get message %d: %w", messageId, err)
	}

	attachments, err := in.store.DeleteMessage(ctx, messageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", ErrMessageNotFound, messageId)
		}
		return fmt.Errorf("delete message %d: %w", messageId, err)
	}

	for _, a := range attachments {
		if err := in.blobs.Remove(a.FilePath); err != nil {
			in.log.Printf("remove blob %q of message %d: %v", a.FilePath, messageId, err)
		}
	}

	in.rooms.Broadcast(msg.ConversationId, messageDeleted(msg.ConversationId, messageId))
	return nil
}

// History returns the conversation's messages oldest first, each with its
// sender and every attachment stored so far.
func (in *Ingestor) History(ctx context.Context, conversationId int) ([]MessageAvailable, error) {
	records, err := in.store.MessagesOf(ctx, conversationId)
	if err != nil {
		return nil, fmt.Errorf("messages of conversation %d: %w", conversationId, err)
	}

	history := make([]MessageAvailable, 0, len(records))
	for _, r := range records {
		attachments := make([]types.Attachment, 0, len(r.Attachments))
		for _, a := range r.Attachments {
			attachments = append(attachments, toAttachment(a))
		}

		history = append(history, MessageAvailable{
			Message: types.Message{
				Id:             r.Id,
				ConversationId: r.ConversationId,
				ParticipantId:  r.ParticipantId,
				Content:        r.Content,
				Attachments:    attachments,
				CreatedAt:      r.CreatedAt,
			},
			Sender: toParticipant(r.Sender),
		})
	}

	return history, nil
}

func toAttachment(a database.Attachment) types.Attachment {
	return types.Attachment{
		Id:        a.Id,
		MessageId: a.MessageId,
		Filename:  a.Filename,
		FilePath:  a.FilePath,
		FileType:  a.FileType,
		FileSize:  a.FileSize,
		CreatedAt: a.CreatedAt,
	}
}
