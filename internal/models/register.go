package models

import "github.com/google/uuid"

// RegisterRequest represents the JSON body for user registration
// swagger:model RegisterRequest
type RegisterRequest struct {
	// Username
	// required: true
	// example: john_doe
	Username string `json:"username" validate:"required,notblank,max=32,username"`

	// Email
	// required: true
	// example: john@example.com
	Email string `json:"email" validate:"required,notblank,max=254,email"`

	// Password
	// required: true
	// example: Somepassword1@
	Password string `json:"password" validate:"required,notblank"`
}

// RegisterResponse is the sanitized representation of a newly created user.
// swagger:model RegisterResponse
type RegisterResponse struct {
	// User ID
	// example: 3f1c2a4e-8a51-4d7e-9a0b-7d6c1b2f9e10
	ID uuid.UUID `json:"id"`

	// Username
	// example: john_doe
	Username string `json:"username"`

	// Email
	// example: john@example.com
	Email string `json:"email"`

	// Access token issued for the new user
	// example: JWT_TOKEN
	Token string `json:"token"`
}

// ValidationErrorResponse maps a field name to the messages of every rule it failed.
// swagger:model ValidationErrorResponse
type ValidationErrorResponse map[string][]string

// ErrorResponse represents a non-field error response
// swagger:model ErrorResponse
type ErrorResponse struct {
	// Error message
	// example: invalid request body
	Error string `json:"error"`
}
