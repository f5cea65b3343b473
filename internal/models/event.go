package models

// UserRegisteredEvent is published after a user record has been created.
type UserRegisteredEvent struct {
	EventID   string `json:"event_id"`  // Unique event identifier
	UserID    string `json:"user_id"`   // ID of the created user
	Username  string `json:"username"`  // Username of the created user
	Email     string `json:"email"`     // Email of the created user
	Timestamp int64  `json:"timestamp"` // Unix timestamp (seconds) of the registration
}
