package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockGoChatRepository struct {
	mock.Mock
}

var _ GoChatRepository = (*MockGoChatRepository)(nil)

func (m *MockGoChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockGoChatRepository) ParticipantsOf(ctx context.Context, conversationId int) ([]Participant, error) {
	args := m.Called(ctx, conversationId)
	if participants, ok := args.Get(0).([]Participant); ok {
		return participants, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) ParticipantFor(ctx context.Context, userId, conversationId int) (Participant, error) {
	args := m.Called(ctx, userId, conversationId)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockGoChatRepository) ConversationsOf(ctx context.Context, userId int) ([]int, error) {
	args := m.Called(ctx, userId)
	if ids, ok := args.Get(0).([]int); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGoChatRepository) CreateAttachment(ctx context.Context, params CreateAttachmentParams) (Attachment, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Attachment), args.Error(1)
}
func (m *MockGoChatRepository) GetMessage(ctx context.Context, messageId int) (Message, error) {
	args := m.Called(ctx, messageId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGoChatRepository) GetAttachment(ctx context.Context, attachmentId int) (Attachment, error) {
	args := m.Called(ctx, attachmentId)
	return args.Get(0).(Attachment), args.Error(1)
}
func (m *MockGoChatRepository) MessagesOf(ctx context.Context, conversationId int) ([]MessageRecord, error) {
	args := m.Called(ctx, conversationId)
	if records, ok := args.Get(0).([]MessageRecord); ok {
		return records, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) DeleteMessage(ctx context.Context, messageId int) ([]Attachment, error) {
	args := m.Called(ctx, messageId)
	if attachments, ok := args.Get(0).([]Attachment); ok {
		return attachments, args.Error(1)
	}
	return nil, args.Error(1)
}
