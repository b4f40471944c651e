package database

import "time"

type User struct {
	Id        int
	Username  string
	FirstName string
	LastName  string
	Email     string
}

type Participant struct {
	Id             int
	UserId         int
	ConversationId int
	User           User
}

type Message struct {
	Id             int
	Content        string
	ParticipantId  int
	ConversationId int
	CreatedAt      time.Time
}

// MessageRecord is a stored message with its sender and attachments.
type MessageRecord struct {
	Message
	Sender      Participant
	Attachments []Attachment
}

type Attachment struct {
	Id        int
	MessageId int
	Filename  string
	FilePath  string
	FileType  string
	FileSize  int64
	CreatedAt time.Time
}

type CreateMessageParams struct {
	ParticipantId  int
	ConversationId int
	Content        string
}

type CreateAttachmentParams struct {
	MessageId int
	Filename  string
	FilePath  string
	FileType  string
	FileSize  int64
}
