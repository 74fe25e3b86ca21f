package models

import "time"

// Role identifies which side of a conversation a participant is on.
type Role string

const (
	// RoleCaregiver is the professional side of a conversation.
	RoleCaregiver Role = "caregiver"
	// RolePatient is the care-receiving side of a conversation.
	RolePatient Role = "patient"
)

// Valid reports whether the role is one of the two enumerated values.
func (r Role) Valid() bool {
	return r == RoleCaregiver || r == RolePatient
}

// Counterpart returns the opposite role.
func (r Role) Counterpart() Role {
	if r == RoleCaregiver {
		return RolePatient
	}
	return RoleCaregiver
}

// Conversation is a 1:1 channel between one caregiver and one patient.
// At most one active conversation exists per (caregiver, patient) pair.
type Conversation struct {
	ID           string    `db:"id" json:"id"`
	CaregiverID  string    `db:"caregiver_id" json:"caregiver_id"`
	PatientID    string    `db:"patient_id" json:"patient_id"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	LastActivity time.Time `db:"last_activity" json:"last_activity"`
	Active       bool      `db:"active" json:"active"`
}

// ConversationSummary provides an API-friendly view of a conversation with
// its unread-message count for the viewing participant.
type ConversationSummary struct {
	Conversation
	Unread int `json:"unread"`
}
