package subscription

import "time"

// Channel is the delivery channel a subscription applies to.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelWebPush Channel = "webpush"
)

// Type is an admin-managed category users can subscribe to. Key is the
// stable identifier notifications reference; DefaultOptIn decides delivery
// for users without an explicit subscription row.
type Type struct {
	ID           string    `json:"id"`
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	DefaultOptIn bool      `json:"default_opt_in"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Subscription is a user's explicit preference for one type on one channel.
// A row with Active=false is an opt-out overriding the type default.
type Subscription struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	TypeID    string            `json:"type_id"`
	Channel   Channel           `json:"channel"`
	Active    bool              `json:"active"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
