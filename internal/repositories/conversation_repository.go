package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"carechat-service/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	ListActiveForCaregiver(ctx context.Context, caregiverID string) ([]models.Conversation, error)
	GetActiveForPatient(ctx context.Context, patientID string) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	CreateConversation(ctx context.Context, caregiverID string, patientID string) (models.Conversation, error)
	TouchActivity(ctx context.Context, conversationID string) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// ListActiveForCaregiver returns the caregiver's active conversations,
// most recently active first.
func (r *ConversationRepo) ListActiveForCaregiver(ctx context.Context, caregiverID string) ([]models.Conversation, error) {
	query := `SELECT id, caregiver_id, patient_id, created_at, last_activity, active
        FROM conversations
        WHERE caregiver_id=$1 AND active
        ORDER BY last_activity DESC`
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs, query, caregiverID)
	return convs, err
}

// GetActiveForPatient returns the patient's single active conversation.
func (r *ConversationRepo) GetActiveForPatient(ctx context.Context, patientID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT id, caregiver_id, patient_id, created_at, last_activity, active
        FROM conversations WHERE patient_id=$1 AND active`, patientID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT id, caregiver_id, patient_id, created_at, last_activity, active
        FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// CreateConversation creates an active conversation for the pair. Any previous
// active conversation between the two is deactivated first so the
// one-active-per-pair invariant holds.
func (r *ConversationRepo) CreateConversation(ctx context.Context, caregiverID string, patientID string) (models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET active = FALSE
        WHERE caregiver_id=$1 AND patient_id=$2 AND active`, caregiverID, patientID); err != nil {
		return models.Conversation{}, err
	}

	var conv models.Conversation
	if err := tx.QueryRowxContext(ctx, `INSERT INTO conversations (id, caregiver_id, patient_id)
        VALUES ($1, $2, $3)
        RETURNING id, caregiver_id, patient_id, created_at, last_activity, active`,
		uuid.NewString(), caregiverID, patientID).
		Scan(&conv.ID, &conv.CaregiverID, &conv.PatientID, &conv.CreatedAt, &conv.LastActivity, &conv.Active); err != nil {
		return models.Conversation{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// TouchActivity bumps the conversation's last-activity timestamp.
func (r *ConversationRepo) TouchActivity(ctx context.Context, conversationID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE conversations SET last_activity = NOW() WHERE id=$1`, conversationID)
	return err
}
