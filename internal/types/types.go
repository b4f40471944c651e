package types

import (
	"time"
)

type User struct {
	Id        int    `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
}

type Participant struct {
	Id             int  `json:"id"`
	UserId         int  `json:"user_id"`
	ConversationId int  `json:"conversation_id"`
	User           User `json:"user"`
}

type Message struct {
	Id             int          `json:"id"`
	ConversationId int          `json:"conversation_id"`
	ParticipantId  int          `json:"participant_id"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments"`
	CreatedAt      time.Time    `json:"created_at"`
}

type Attachment struct {
	Id        int       `json:"id"`
	MessageId int       `json:"message_id"`
	Filename  string    `json:"filename"`
	FilePath  string    `json:"file_path"`
	FileType  string    `json:"file_type"`
	FileSize  int64     `json:"file_size"`
	CreatedAt time.Time `json:"created_at"`
}
