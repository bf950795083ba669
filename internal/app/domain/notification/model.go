package notification

import "time"

// EmailStatus tracks the delivery decision and outcome for a notification's
// email copy.
type EmailStatus string

const (
	EmailPending EmailStatus = "pending"
	EmailSent    EmailStatus = "sent"
	EmailSkipped EmailStatus = "skipped"
	EmailFailed  EmailStatus = "failed"
)

// Notification is a message addressed to one user. TypeKey references a
// subscription type and drives the email delivery decision.
type Notification struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	TypeKey     string            `json:"type_key"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Read        bool              `json:"read"`
	ReadAt      *time.Time        `json:"read_at,omitempty"`
	EmailStatus EmailStatus       `json:"email_status"`
	EmailError  string            `json:"email_error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Event is the payload published on the bus when a notification is created.
type Event struct {
	NotificationID string            `json:"notification_id"`
	UserID         string            `json:"user_id"`
	TypeKey        string            `json:"type_key"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}
