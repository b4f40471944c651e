package server

import (
	"net/http"
	"time"

	"github.com/npezzotti/chat-gateway/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Kind identifies the event carried by a ClientMessage.
type Kind int

const (
	KindInvalid Kind = iota
	KindAnnounce
	KindVerify
	KindDisconnect
	KindJoin
	KindLeave
	KindPublish
	KindTransferComplete
)

var kindNames = [...]string{
	KindInvalid:          "invalid",
	KindAnnounce:         "announce",
	KindVerify:           "verify",
	KindDisconnect:       "disconnect",
	KindJoin:             "join",
	KindLeave:            "leave",
	KindPublish:          "publish",
	KindTransferComplete: "transfer_complete",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// ClientMessage is an inbound event. Exactly one payload field is set.
type ClientMessage struct {
	BaseMessage
	Announce         *Announce         `json:"announce,omitempty"`
	Verify           *Verify           `json:"verify,omitempty"`
	Disconnect       *Disconnect       `json:"disconnect,omitempty"`
	Join             *Join             `json:"join,omitempty"`
	Leave            *Leave            `json:"leave,omitempty"`
	Publish          *Publish          `json:"publish,omitempty"`
	TransferComplete *TransferComplete `json:"transfer_complete,omitempty"`
}

// Kind reports which event the message carries, or KindInvalid unless
// exactly one payload is present.
func (m *ClientMessage) Kind() Kind {
	kind, n := KindInvalid, 0
	set := func(present bool, k Kind) {
		if present {
			kind = k
			n++
		}
	}

	set(m.Announce != nil, KindAnnounce)
	set(m.Verify != nil, KindVerify)
	set(m.Disconnect != nil, KindDisconnect)
	set(m.Join != nil, KindJoin)
	set(m.Leave != nil, KindLeave)
	set(m.Publish != nil, KindPublish)
	set(m.TransferComplete != nil, KindTransferComplete)

	if n != 1 {
		return KindInvalid
	}
	return kind
}

type Announce struct {
	UserId int `json:"user_id"`
}

type Verify struct {
	ConversationId int `json:"conversation_id"`
}

type Disconnect struct {
	UserId int `json:"user_id"`
}

type Join struct {
	ConversationId int `json:"conversation_id"`
}

type Leave struct {
	ConversationId int `json:"conversation_id"`
}

type Publish struct {
	ConversationId int          `json:"conversation_id"`
	UserId         int          `json:"user_id"`
	Content        string       `json:"content"`
	Files          []InlineFile `json:"files,omitempty"`
}

// InlineFile is an attachment carried inside a publish event. Data is
// base64, optionally as a data URL.
type InlineFile struct {
	Filename string `json:"filename"`
	Type     string `json:"type,omitempty"`
	Data     string `json:"data"`
}

type TransferComplete struct {
	MessageId      int    `json:"message_id"`
	ConversationId int    `json:"conversation_id"`
	Filename       string `json:"filename"`
}

type ServerMessage struct {
	BaseMessage
	Response              *Response              `json:"response,omitempty"`
	Message               *MessageAvailable      `json:"message,omitempty"`
	ConnectedParticipants *ConnectedParticipants `json:"connected_participants,omitempty"`
	Notification          *Notification          `json:"notification,omitempty"`
	SendFailed            *SendFailed            `json:"send_failed,omitempty"`
	SkipClient            *Client                `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type MessageAvailable struct {
	Message types.Message     `json:"message"`
	Sender  types.Participant `json:"sender"`
}

type ConnectedParticipants struct {
	ConversationId int                 `json:"conversation_id"`
	Participants   []types.Participant `json:"participants"`
}

type Notification struct {
	PeerConnected    *PeerEvent       `json:"peer_connected,omitempty"`
	PeerDisconnected *PeerEvent       `json:"peer_disconnected,omitempty"`
	PeerStatus       *PeerStatus      `json:"peer_status,omitempty"`
	AttachmentReady  *AttachmentReady `json:"attachment_ready,omitempty"`
	MessageDeleted   *MessageDeleted  `json:"message_deleted,omitempty"`
}

type PeerEvent struct {
	UserId int `json:"user_id"`
}

type PeerStatus struct {
	UserId int  `json:"user_id"`
	Online bool `json:"online"`
}

type AttachmentReady struct {
	MessageId      int    `json:"message_id"`
	ConversationId int    `json:"conversation_id"`
	AttachmentId   int    `json:"attachment_id,omitempty"`
	Filename       string `json:"filename"`
}

type MessageDeleted struct {
	MessageId      int `json:"message_id"`
	ConversationId int `json:"conversation_id"`
}

type SendFailed struct {
	ConversationId int    `json:"conversation_id"`
	Code           int    `json:"code"`
	Error          string `json:"error"`
	Filename       string `json:"filename,omitempty"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
			Data:         data,
		},
	}
}

// ErrResponse reports err to the requester with the matching response code.
func ErrResponse(id int, err error) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: StatusCode(err),
			Error:        clientError(err),
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

// NewSendFailed reports a failed send, or a single failed file of a send
// when filename is set.
func NewSendFailed(id, conversationId int, filename string, err error) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		SendFailed: &SendFailed{
			ConversationId: conversationId,
			Code:           StatusCode(err),
			Error:          clientError(err),
			Filename:       filename,
		},
	}
}

func peerConnected(userId int) *ServerMessage {
	return &ServerMessage{
		BaseMessage:  BaseMessage{Timestamp: Now()},
		Notification: &Notification{PeerConnected: &PeerEvent{UserId: userId}},
	}
}

func peerDisconnected(userId int) *ServerMessage {
	return &ServerMessage{
		BaseMessage:  BaseMessage{Timestamp: Now()},
		Notification: &Notification{PeerDisconnected: &PeerEvent{UserId: userId}},
	}
}

func peerOffline(userId int) *ServerMessage {
	return &ServerMessage{
		BaseMessage:  BaseMessage{Timestamp: Now()},
		Notification: &Notification{PeerStatus: &PeerStatus{UserId: userId, Online: false}},
	}
}

func attachmentReady(ready AttachmentReady) *ServerMessage {
	return &ServerMessage{
		BaseMessage:  BaseMessage{Timestamp: Now()},
		Notification: &Notification{AttachmentReady: &ready},
	}
}

func messageDeleted(conversationId, messageId int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Notification: &Notification{MessageDeleted: &MessageDeleted{
			MessageId:      messageId,
			ConversationId: conversationId,
		}},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
