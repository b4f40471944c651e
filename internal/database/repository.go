package database

import "context"

// Directory resolves users to conversations. Lookups of a single row return
// sql.ErrNoRows when nothing matches.
type Directory interface {
	ParticipantsOf(ctx context.Context, conversationId int) ([]Participant, error)
	ParticipantFor(ctx context.Context, userId, conversationId int) (Participant, error)
	ConversationsOf(ctx context.Context, userId int) ([]int, error)
}

// MessageStore is the durable home of messages and their attachment metadata.
type MessageStore interface {
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	CreateAttachment(ctx context.Context, params CreateAttachmentParams) (Attachment, error)
	GetMessage(ctx context.Context, messageId int) (Message, error)
	GetAttachment(ctx context.Context, attachmentId int) (Attachment, error)
	// MessagesOf returns the conversation's messages oldest first.
	MessagesOf(ctx context.Context, conversationId int) ([]MessageRecord, error)
	// DeleteMessage removes the message and its attachment rows and returns
	// the removed attachments so their blobs can be cleaned up.
	DeleteMessage(ctx context.Context, messageId int) ([]Attachment, error)
}

type GoChatRepository interface {
	Directory
	MessageStore
	Ping() error
}
