package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/chat-gateway/internal/database"
	"github.com/npezzotti/chat-gateway/internal/stats"
	"github.com/npezzotti/chat-gateway/internal/storage"
	"github.com/npezzotti/chat-gateway/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type broadcastCall struct {
	conversationId int
	msg            *ServerMessage
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (b *recordingBroadcaster) Broadcast(conversationId int, msg *ServerMessage) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, broadcastCall{conversationId: conversationId, msg: msg})
	return 1
}

func (b *recordingBroadcaster) sent() []broadcastCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broadcastCall(nil), b.calls...)
}

var pngData = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01")

func newTestIngestor(t *testing.T, db *database.MockGoChatRepository, maxInline int64) (*Ingestor, *storage.DiskStore, *recordingBroadcaster) {
	t.Helper()

	blobs, err := storage.NewDiskStore(t.TempDir())
	require.NoError(t, err)

	b := &recordingBroadcaster{}
	in := NewIngestor(db, db, blobs, b, stats.NewPermissiveMock(), testutil.TestLogger(t), maxInline)
	return in, blobs, b
}

var alice = database.Participant{
	Id:             11,
	UserId:         1,
	ConversationId: 42,
	User:           database.User{Id: 1, Username: "alice"},
}

func findSendFailed(msgs []*ServerMessage) []*SendFailed {
	var out []*SendFailed
	for _, m := range msgs {
		if m.SendFailed != nil {
			out = append(out, m.SendFailed)
		}
	}
	return out
}

func findResponse(msgs []*ServerMessage) *Response {
	for _, m := range msgs {
		if m.Response != nil {
			return m.Response
		}
	}
	return nil
}

func TestIngestor_SendNotAParticipant(t *testing.T) {
	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)
	db.On("ParticipantFor", mock.Anything, 5, 7).Return(database.Participant{}, sql.ErrNoRows).Once()

	in, _, b := newTestIngestor(t, db, 1<<20)
	c := newTestClient(t, nil)

	msg, err := in.Send(context.Background(), c, 1, &Publish{ConversationId: 7, UserId: 5, Content: "hello"})
	assert.ErrorIs(t, err, ErrNotAParticipant)
	assert.Nil(t, msg)

	db.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
	assert.Empty(t, b.sent(), "expected no broadcast")

	failed := findSendFailed(drain(c))
	require.Len(t, failed, 1)
	assert.Equal(t, http.StatusForbidden, failed[0].Code)
	assert.Equal(t, 7, failed[0].ConversationId)
	assert.Empty(t, failed[0].Filename)
}

func TestIngestor_SendDirectoryUnavailable(t *testing.T) {
	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)
	db.On("ParticipantFor", mock.Anything, 1, 42).Return(database.Participant{}, errors.New("dial tcp: connection refused")).Once()

	in, _, b := newTestIngestor(t, db, 1<<20)
	c := newTestClient(t, nil)

	_, err := in.Send(context.Background(), c, 1, &Publish{ConversationId: 42, UserId: 1})
	assert.ErrorIs(t, err, ErrDirectoryUnavailable)
	assert.Empty(t, b.sent())

	failed := findSendFailed(drain(c))
	require.Len(t, failed, 1)
	assert.Equal(t, http.StatusServiceUnavailable, failed[0].Code)
}

func TestIngestor_SendCreateMessageFails(t *testing.T) {
	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)
	db.On("ParticipantFor", mock.Anything, 1, 42).Return(alice, nil).Once()
	db.On("CreateMessage", mock.Anything, mock.Anything).Return(database.Message{}, errors.New("insert failed")).Once()

	in, _, b := newTestIngestor(t, db, 1<<20)
	c := newTestClient(t, nil)

	_, err := in.Send(context.Background(), c, 1, &Publish{ConversationId: 42, UserId: 1, Content: "hi"})
	assert.Error(t, err)
	assert.Empty(t, b.sent())

	failed := findSendFailed(drain(c))
	require.Len(t, failed, 1)
	assert.Equal(t, http.StatusInternalServerError, failed[0].Code)
	assert.Equal(t, "internal server error", failed[0].Error)
}

func TestIngestor_SendWithoutFiles(t *testing.T) {
	created := time.Date(2024, 4, 5, 10, 0, 0, 0, time.UTC)

	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)
	db.On("ParticipantFor", mock.Anything, 1, 42).Return(alice, nil).Once()
	db.On("CreateMessage", mock.Anything, database.CreateMessageParams{
		ParticipantId:  alice.Id,
		ConversationId: 42,
		Content:        "hello",
	}).Return(database.Message{Id: 100, ParticipantId: alice.Id, ConversationId: 42, Content: "hello", CreatedAt: created}, nil).Once()

	in, _, b := newTestIngestor(t, db, 1<<20)
	c := newTestClient(t, nil)

	msg, err := in.Send(context.Background(), c, 3, &Publish{ConversationId: 42, UserId: 1, Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 100, msg.Id)

	resp := findResponse(drain(c))
	require.NotNil(t, resp, "expected the sender to be acknowledged")
	assert.Equal(t, http.StatusAccepted, resp.ResponseCode)
	assert.Equal(t, map[string]any{"message_id": 100}, resp.Data)

	sent := b.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, 42, sent[0].conversationId)
	available := sent[0].msg.Message
	require.NotNil(t, available)
	assert.Equal(t, "hello", available.Message.Content)
	assert.Equal(t, created, available.Message.CreatedAt)
	assert.NotNil(t, available.Message.Attachments, "expected an empty attachment list")
	assert.Empty(t, available.Message.Attachments)
	assert.Equal(t, "alice", available.Sender.User.Username)
	assert.Equal(t, 3, sent[0].msg.Id, "expected the request id to be echoed")
}

func TestIngestor_SendTwoInlineFilesOneMalformed(t *testing.T) {
	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)

	var mu sync.Mutex
	createdIds := map[int]bool{}

	db.On("ParticipantFor", mock.Anything, 1, 42).Return(alice, nil).Once()
	db.On("CreateMessage", mock.Anything, mock.Anything).
		Return(database.Message{Id: 100, ParticipantId: alice.Id, ConversationId: 42, Content: "pics"}, nil).Once()
	db.On("CreateAttachment", mock.Anything, mock.MatchedBy(func(p database.CreateAttachmentParams) bool {
		return p.MessageId == 100 && p.Filename == "a.png" && p.FileType == "image/png" &&
			p.FileSize == int64(len(pngData)) && strings.HasPrefix(p.FilePath, "conversation-42/")
	})).Run(func(args mock.Arguments) {
		mu.Lock()
		createdIds[500] = true
		mu.Unlock()
	}).Return(database.Attachment{Id: 500, MessageId: 100, Filename: "a.png", FileType: "image/png", FileSize: int64(len(pngData))}, nil).Once()

	in, blobs, b := newTestIngestor(t, db, 1<<20)
	c := newTestClient(t, nil)

	msg, err := in.Send(context.Background(), c, 1, &Publish{
		ConversationId: 42,
		UserId:         1,
		Content:        "pics",
		Files: []InlineFile{
			{Filename: "a.png", Type: "image/png", Data: base64.StdEncoding.EncodeToString(pngData)},
			{Filename: "b.png", Type: "image/png", Data: "%%% not base64 %%%"},
		},
	})
	require.NoError(t, err, "expected partial success")
	assert.Equal(t, 100, msg.Id, "expected the message to be kept")

	msgs := drain(c)
	failed := findSendFailed(msgs)
	require.Len(t, failed, 1, "expected exactly one file failure")
	assert.Equal(t, "b.png", failed[0].Filename)
	assert.Equal(t, http.StatusUnprocessableEntity, failed[0].Code)
	assert.Equal(t, http.StatusAccepted, findResponse(msgs).ResponseCode)

	sent := b.sent()
	require.Len(t, sent, 1)
	atts := sent[0].msg.Message.Message.Attachments
	require.Len(t, atts, 1)
	assert.Equal(t, "a.png", atts[0].Filename)
	for _, a := range atts {
		assert.True(t, createdIds[a.Id], "broadcast references attachment %d that was never created", a.Id)
	}

	entries, err := os.ReadDir(filepath.Join(blobs.Root(), "conversation-42"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "expected only the valid file on disk")
	stored, err := os.ReadFile(filepath.Join(blobs.Root(), "conversation-42", entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, pngData, stored)
}

func TestIngestor_SendInlineRejections(t *testing.T) {
	tcases := []struct {
		name string
		file InlineFile
		code int
		err  error
	}{
		{
			name: "too large",
			file: InlineFile{Filename: "big.png", Type: "image/png", Data: base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 64))},
			code: http.StatusRequestEntityTooLarge,
			err:  ErrAttachmentTooLarge,
		},
		{
			name: "unsupported type",
			file: InlineFile{Filename: "x.bin2", Type: "application/x-unknown", Data: base64.StdEncoding.EncodeToString([]byte("abc"))},
			code: http.StatusUnsupportedMediaType,
			err:  ErrUnsupportedMediaType,
		},
		{
			name: "empty",
			file: InlineFile{Filename: "a.txt", Type: "text/plain", Data: ""},
			code: http.StatusUnprocessableEntity,
			err:  ErrMalformedPayload,
		},
		{
			name: "data url without base64",
			file: InlineFile{Filename: "a.txt", Data: "data:text/plain,hello"},
			code: http.StatusUnprocessableEntity,
			err:  ErrMalformedPayload,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockGoChatRepository{}
			defer db.AssertExpectations(t)
			db.On("ParticipantFor", mock.Anything, 1, 42).Return(alice, nil).Once()
			db.On("CreateMessage", mock.Anything, mock.Anything).Return(database.Message{Id: 100, ConversationId: 42}, nil).Once()

			in, _, b := newTestIngestor(t, db, 32)
			c := newTestClient(t, nil)

			_, err := in.Send(context.Background(), c, 1, &Publish{ConversationId: 42, UserId: 1, Files: []InlineFile{tc.file}})
			assert.NoError(t, err)
			db.AssertNotCalled(t, "CreateAttachment", mock.Anything, mock.Anything)

			failed := findSendFailed(drain(c))
			require.Len(t, failed, 1)
			assert.Equal(t, tc.code, failed[0].Code)
			assert.Equal(t, tc.file.Filename, failed[0].Filename)

			sent := b.sent()
			require.Len(t, sent, 1, "expected the message to be broadcast anyway")
			assert.Empty(t, sent[0].msg.Message.Message.Attachments)
		})
	}
}

func TestIngestor_SendMetadataFailureRemovesBlob(t *testing.T) {
	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)
	db.On("ParticipantFor", mock.Anything, 1, 42).Return(alice, nil).Once()
	db.On("CreateMessage", mock.Anything, mock.Anything).Return(database.Message{Id: 100, ConversationId: 42}, nil).Once()
	db.On("CreateAttachment", mock.Anything, mock.Anything).Return(database.Attachment{}, errors.New("insert failed")).Once()

	in, blobs, _ := newTestIngestor(t, db, 1<<20)
	c := newTestClient(t, nil)

	_, err := in.Send(context.Background(), c, 1, &Publish{
		ConversationId: 42,
		UserId:         1,
		Files:          []InlineFile{{Filename: "notes.txt", Type: "text/plain", Data: base64.StdEncoding.EncodeToString([]byte("notes"))}},
	})
	assert.NoError(t, err)

	failed := findSendFailed(drain(c))
	require.Len(t, failed, 1)
	assert.Equal(t, http.StatusUnprocessableEntity, failed[0].Code)

	entries, err := os.ReadDir(filepath.Join(blobs.Root(), "conversation-42"))
	require.NoError(t, err)
	assert.Empty(t, entries, "expected the orphaned blob to be removed")
}

func TestIngestor_SendDataURL(t *testing.T) {
	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)
	db.On("ParticipantFor", mock.Anything, 1, 42).Return(alice, nil).Once()
	db.On("CreateMessage", mock.Anything, mock.Anything).Return(database.Message{Id: 100, ConversationId: 42}, nil).Once()
	db.On("CreateAttachment", mock.Anything, mock.MatchedBy(func(p database.CreateAttachmentParams) bool {
		return p.FileType == "image/png" && p.Filename == "pasted.png"
	})).Return(database.Attachment{Id: 1, Filename: "pasted.png"}, nil).Once()

	in, _, _ := newTestIngestor(t, db, 1<<20)
	c := newTestClient(t, nil)

	_, err := in.Send(context.Background(), c, 1, &Publish{
		ConversationId: 42,
		UserId:         1,
		Files:          []InlineFile{{Filename: "pasted.png", Data: "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData)}},
	})
	assert.NoError(t, err)
	assert.Empty(t, findSendFailed(drain(c)))
}

func Test_splitDataURL(t *testing.T) {
	mediaType, payload, err := splitDataURL("data:image/gif;base64,R0lG")
	assert.NoError(t, err)
	assert.Equal(t, "image/gif", mediaType)
	assert.Equal(t, "R0lG", payload)

	mediaType, payload, err = splitDataURL("R0lG")
	assert.NoError(t, err)
	assert.Empty(t, mediaType)
	assert.Equal(t, "R0lG", payload)

	_, _, err = splitDataURL("data:image/gif;base64")
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func Test_decodedLen(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 4, 5, 100, 1000} {
		data := bytes.Repeat([]byte{'x'}, n)
		assert.Equal(t, int64(n), decodedLen(base64.StdEncoding.EncodeToString(data)), "padded length %d", n)
		assert.Equal(t, int64(n), decodedLen(base64.RawStdEncoding.EncodeToString(data)), "raw length %d", n)

		decoded, err := decodeBase64(base64.RawStdEncoding.EncodeToString(data))
		assert.NoError(t, err)
		assert.Len(t, decoded, n)
	}
}

func Test_decodeBase64Wrapped(t *testing.T) {
	tcases := []struct {
		name    string
		payload string
		want    string
	}{
		{name: "padded", payload: "QUI=", want: "AB"},
		{name: "padded trailing newline", payload: "QUI=\n", want: "AB"},
		{name: "padded trailing crlf", payload: "QUI=\r\n", want: "AB"},
		{name: "unpadded trailing newline", payload: "QUI\n", want: "AB"},
		{name: "wrapped lines", payload: "aGVsbG8g\r\nd29ybGQ=\r\n", want: "hello world"},
		{name: "surrounding spaces", payload: "  aGk= ", want: "hi"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeBase64(tc.payload)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
			assert.Equal(t, int64(len(tc.want)), decodedLen(tc.payload), "expected size check to agree with the decoder")
		})
	}
}

func TestIngestor_Attach(t *testing.T) {
	pdf := []byte("%PDF-1.4\n% quarterly report\n")

	t.Run("stores and announces", func(t *testing.T) {
		db := &database.MockGoChatRepository{}
		defer db.AssertExpectations(t)
		var storedPath string
		db.On("GetMessage", mock.Anything, 100).Return(database.Message{Id: 100, ConversationId: 42}, nil).Once()
		db.On("CreateAttachment", mock.Anything, mock.MatchedBy(func(p database.CreateAttachmentParams) bool {
			return p.MessageId == 100 && p.Filename == "report.pdf" && p.FileType == "application/pdf" && p.FileSize == int64(len(pdf))
		})).Run(func(args mock.Arguments) {
			storedPath = args.Get(1).(database.CreateAttachmentParams).FilePath
		}).Return(database.Attachment{Id: 7, MessageId: 100, Filename: "report.pdf", FileType: "application/pdf"}, nil).Once()

		in, blobs, b := newTestIngestor(t, db, 1<<20)

		att, err := in.Attach(context.Background(), 42, 100, FileUpload{
			Filename:  "report.pdf",
			MediaType: "application/pdf",
			Content:   bytes.NewReader(pdf),
		})
		require.NoError(t, err)
		assert.Equal(t, 7, att.Id)

		sent := b.sent()
		require.Len(t, sent, 1)
		ready := sent[0].msg.Notification.AttachmentReady
		require.NotNil(t, ready)
		assert.Equal(t, AttachmentReady{MessageId: 100, ConversationId: 42, AttachmentId: 7, Filename: "report.pdf"}, *ready)

		f, err := blobs.Open(storedPath)
		require.NoError(t, err)
		defer f.Close()
		stored, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, pdf, stored, "expected stored bytes to be identical")
	})

	t.Run("sniffs missing media type", func(t *testing.T) {
		db := &database.MockGoChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetMessage", mock.Anything, 100).Return(database.Message{Id: 100, ConversationId: 42}, nil).Once()
		db.On("CreateAttachment", mock.Anything, mock.MatchedBy(func(p database.CreateAttachmentParams) bool {
			return p.FileType == "image/png" && p.FileSize == int64(len(pngData))
		})).Return(database.Attachment{Id: 8}, nil).Once()

		in, _, _ := newTestIngestor(t, db, 1<<20)
		_, err := in.Attach(context.Background(), 42, 100, FileUpload{Filename: "shot", Content: bytes.NewReader(pngData)})
		assert.NoError(t, err)
	})

	t.Run("unknown message", func(t *testing.T) {
		db := &database.MockGoChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetMessage", mock.Anything, 100).Return(database.Message{}, sql.ErrNoRows).Once()

		in, _, b := newTestIngestor(t, db, 1<<20)
		_, err := in.Attach(context.Background(), 42, 100, FileUpload{Filename: "report.pdf", Content: bytes.NewReader(pdf)})
		assert.ErrorIs(t, err, ErrMessageNotFound)
		assert.Empty(t, b.sent())
	})

	t.Run("message of another conversation", func(t *testing.T) {
		db := &database.MockGoChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetMessage", mock.Anything, 100).Return(database.Message{Id: 100, ConversationId: 9}, nil).Once()

		in, _, _ := newTestIngestor(t, db, 1<<20)
		_, err := in.Attach(context.Background(), 42, 100, FileUpload{Filename: "report.pdf", Content: bytes.NewReader(pdf)})
		assert.ErrorIs(t, err, ErrMessageNotFound)
		db.AssertNotCalled(t, "CreateAttachment", mock.Anything, mock.Anything)
	})
}

func TestIngestor_TransferComplete(t *testing.T) {
	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)
	db.On("GetMessage", mock.Anything, 100).Return(database.Message{Id: 100, ConversationId: 42}, nil).Once()
	db.On("GetMessage", mock.Anything, 101).Return(database.Message{}, sql.ErrNoRows).Once()

	in, _, b := newTestIngestor(t, db, 1<<20)

	err := in.TransferComplete(context.Background(), &TransferComplete{MessageId: 100, ConversationId: 42, Filename: "video.mp4"})
	require.NoError(t, err)

	sent := b.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, 42, sent[0].conversationId)
	assert.Equal(t, "video.mp4", sent[0].msg.Notification.AttachmentReady.Filename)
	assert.Equal(t, 100, sent[0].msg.Notification.AttachmentReady.MessageId)

	err = in.TransferComplete(context.Background(), &TransferComplete{MessageId: 101, ConversationId: 42, Filename: "video.mp4"})
	assert.ErrorIs(t, err, ErrMessageNotFound)
	assert.Len(t, b.sent(), 1, "expected no notification for an unknown message")
}

func TestIngestor_Delete(t *testing.T) {
	t.Run("removes rows and blobs", func(t *testing.T) {
		db := &database.MockGoChatRepository{}
		defer db.AssertExpectations(t)

		in, blobs, b := newTestIngestor(t, db, 1<<20)
		path, _, err := blobs.Put(42, "a.txt", strings.NewReader("a"))
		require.NoError(t, err)

		db.On("GetMessage", mock.Anything, 100).Return(database.Message{Id: 100, ConversationId: 42}, nil).Once()
		db.On("DeleteMessage", mock.Anything, 100).Return([]database.Attachment{
			{Id: 1, MessageId: 100, FilePath: path},
			{Id: 2, MessageId: 100, FilePath: "conversation-42/already-gone.txt"},
		}, nil).Once()

		require.NoError(t, in.Delete(context.Background(), 100))

		_, err = blobs.Open(path)
		assert.True(t, os.IsNotExist(err), "expected blob to be removed")

		sent := b.sent()
		require.Len(t, sent, 1)
		assert.Equal(t, &MessageDeleted{MessageId: 100, ConversationId: 42}, sent[0].msg.Notification.MessageDeleted)
	})

	t.Run("unknown message", func(t *testing.T) {
		db := &database.MockGoChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetMessage", mock.Anything, 100).Return(database.Message{}, sql.ErrNoRows).Once()

		in, _, b := newTestIngestor(t, db, 1<<20)
		assert.ErrorIs(t, in.Delete(context.Background(), 100), ErrMessageNotFound)
		db.AssertNotCalled(t, "DeleteMessage", mock.Anything, mock.Anything)
		assert.Empty(t, b.sent())
	})
}

func TestIngestor_History(t *testing.T) {
	t.Run("messages with senders and attachments", func(t *testing.T) {
		now := time.Now().UTC()
		db := &database.MockGoChatRepository{}
		defer db.AssertExpectations(t)
		db.On("MessagesOf", mock.Anything, 42).Return([]database.MessageRecord{
			{
				Message: database.Message{Id: 100, Content: "first", ParticipantId: 11, ConversationId: 42, CreatedAt: now},
				Sender:  alice,
				Attachments: []database.Attachment{
					{Id: 7, MessageId: 100, Filename: "report.pdf", FilePath: "conversation-42/1-a-report.pdf", FileType: "application/pdf", FileSize: 10},
				},
			},
			{
				Message: database.Message{Id: 101, Content: "second", ParticipantId: 11, ConversationId: 42, CreatedAt: now.Add(time.Second)},
				Sender:  alice,
			},
		}, nil).Once()

		in, _, _ := newTestIngestor(t, db, 1<<20)
		history, err := in.History(context.Background(), 42)
		require.NoError(t, err)

		require.Len(t, history, 2)
		assert.Equal(t, 100, history[0].Message.Id)
		assert.Equal(t, "alice", history[0].Sender.User.Username)
		require.Len(t, history[0].Message.Attachments, 1)
		assert.Equal(t, 7, history[0].Message.Attachments[0].Id)
		assert.Equal(t, "application/pdf", history[0].Message.Attachments[0].FileType)

		assert.Equal(t, 101, history[1].Message.Id)
		assert.NotNil(t, history[1].Message.Attachments, "expected an empty attachment list rather than null")
		assert.Empty(t, history[1].Message.Attachments)
	})

	t.Run("empty conversation", func(t *testing.T) {
		db := &database.MockGoChatRepository{}
		db.On("MessagesOf", mock.Anything, 5).Return([]database.MessageRecord{}, nil).Once()

		in, _, _ := newTestIngestor(t, db, 1<<20)
		history, err := in.History(context.Background(), 5)
		require.NoError(t, err)
		assert.NotNil(t, history)
		assert.Empty(t, history)
	})

	t.Run("store failure", func(t *testing.T) {
		db := &database.MockGoChatRepository{}
		db.On("MessagesOf", mock.Anything, 5).Return(nil, errors.New("connection refused")).Once()

		in, _, _ := newTestIngestor(t, db, 1<<20)
		_, err := in.History(context.Background(), 5)
		assert.Error(t, err)
		assert.Equal(t, http.StatusInternalServerError, StatusCode(err), "expected store failures to stay internal")
	})
}
