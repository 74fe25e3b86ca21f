package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"carechat-service/internal/models"
)

// MessageRepository defines interactions for conversation messages.
type MessageRepository interface {
	ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error)
	CreateMessage(ctx context.Context, conversationID string, sender models.Role, content string) (models.Message, error)
	MarkReadBySender(ctx context.Context, conversationID string, sender models.Role) (int64, error)
	CountUnreadBySender(ctx context.Context, conversationID string, sender models.Role) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// ListByConversation returns the full message history in creation order,
// ties broken by id.
func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	query := `SELECT id, conversation_id, sender_role, content, is_read, created_at
        FROM messages
        WHERE conversation_id=$1
        ORDER BY created_at ASC, id ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, conversationID)
	return msgs, err
}

// CreateMessage stores a message tagged with the sender's role and read=false.
func (r *MessageRepo) CreateMessage(ctx context.Context, conversationID string, sender models.Role, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (id, conversation_id, sender_role, content)
        VALUES ($1, $2, $3, $4)
        RETURNING id, conversation_id, sender_role, content, is_read, created_at`,
		uuid.NewString(), conversationID, sender, content).
		Scan(&msg.ID, &msg.ConversationID, &msg.SenderRole, &msg.Content, &msg.Read, &msg.CreatedAt)
	return msg, err
}

// MarkReadBySender flips every unread message from the given sender role in
// one bulk update and reports how many rows changed.
func (r *MessageRepo) MarkReadBySender(ctx context.Context, conversationID string, sender models.Role) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_read = TRUE
        WHERE conversation_id=$1 AND sender_role=$2 AND is_read = FALSE`, conversationID, sender)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountUnreadBySender counts unread messages from the given sender role.
func (r *MessageRepo) CountUnreadBySender(ctx context.Context, conversationID string, sender models.Role) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages
        WHERE conversation_id=$1 AND sender_role=$2 AND is_read = FALSE`, conversationID, sender)
	return count, err
}
