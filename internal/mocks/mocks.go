package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"carechat-service/internal/models"
)

// ConversationRepositoryMock mocks repositories.ConversationRepository.
type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) ListActiveForCaregiver(ctx context.Context, caregiverID string) ([]models.Conversation, error) {
	args := m.Called(ctx, caregiverID)
	return args.Get(0).([]models.Conversation), args.Error(1)
}

func (m *ConversationRepositoryMock) GetActiveForPatient(ctx context.Context, patientID string) (models.Conversation, error) {
	args := m.Called(ctx, patientID)
	return args.Get(0).(models.Conversation), args.Error(1)
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).(models.Conversation), args.Error(1)
}

func (m *ConversationRepositoryMock) CreateConversation(ctx context.Context, caregiverID string, patientID string) (models.Conversation, error) {
	args := m.Called(ctx, caregiverID, patientID)
	return args.Get(0).(models.Conversation), args.Error(1)
}

func (m *ConversationRepositoryMock) TouchActivity(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

// MessageRepositoryMock mocks repositories.MessageRepository.
type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, conversationID string, sender models.Role, content string) (models.Message, error) {
	args := m.Called(ctx, conversationID, sender, content)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MessageRepositoryMock) MarkReadBySender(ctx context.Context, conversationID string, sender models.Role) (int64, error) {
	args := m.Called(ctx, conversationID, sender)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageRepositoryMock) CountUnreadBySender(ctx context.Context, conversationID string, sender models.Role) (int, error) {
	args := m.Called(ctx, conversationID, sender)
	return args.Int(0), args.Error(1)
}

// AssignmentRepositoryMock mocks repositories.AssignmentRepository.
type AssignmentRepositoryMock struct {
	mock.Mock
}

func (m *AssignmentRepositoryMock) ActiveCaregiverFor(ctx context.Context, patientID string) (string, error) {
	args := m.Called(ctx, patientID)
	return args.String(0), args.Error(1)
}

func (m *AssignmentRepositoryMock) AssignCaregiver(ctx context.Context, patientID string, caregiverID string) error {
	args := m.Called(ctx, patientID, caregiverID)
	return args.Error(0)
}
