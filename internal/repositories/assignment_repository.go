package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

var ErrNoAssignment = errors.New("no active care assignment")

// AssignmentRepository resolves and updates caregiver assignments for patients.
type AssignmentRepository interface {
	ActiveCaregiverFor(ctx context.Context, patientID string) (string, error)
	AssignCaregiver(ctx context.Context, patientID string, caregiverID string) error
}

// AssignmentRepo is a sqlx implementation of AssignmentRepository.
type AssignmentRepo struct {
	db *sqlx.DB
}

// NewAssignmentRepo constructs an AssignmentRepo.
func NewAssignmentRepo(db *sqlx.DB) *AssignmentRepo {
	return &AssignmentRepo{db: db}
}

// ActiveCaregiverFor returns the caregiver currently assigned to the patient.
func (r *AssignmentRepo) ActiveCaregiverFor(ctx context.Context, patientID string) (string, error) {
	var caregiverID string
	err := r.db.GetContext(ctx, &caregiverID, `SELECT caregiver_id FROM care_assignments
        WHERE patient_id=$1 AND active`, patientID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoAssignment
	}
	return caregiverID, err
}

// AssignCaregiver replaces the patient's active assignment and retires the
// pair's active conversation in the same transaction, so a failure leaves
// neither half applied. The previous assignment row is kept inactive for
// history; the replacement conversation is created on the patient's next
// session start.
func (r *AssignmentRepo) AssignCaregiver(ctx context.Context, patientID string, caregiverID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE care_assignments SET active = FALSE
        WHERE patient_id=$1 AND active`, patientID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO care_assignments (patient_id, caregiver_id)
        VALUES ($1, $2)`, patientID, caregiverID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET active = FALSE
        WHERE patient_id=$1 AND active`, patientID); err != nil {
		return err
	}
	return tx.Commit()
}
