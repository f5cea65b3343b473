package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sbilibin2017/gw-accounts/internal/logger"
	"github.com/sbilibin2017/gw-accounts/internal/models"
	"github.com/sbilibin2017/gw-accounts/internal/services"
)

//go:generate mockgen -source=register.go -destination=register_mock.go -package=handlers

// Largest registration body accepted.
const maxRequestBodyBytes = 64 << 10

// Registerer defines the interface that the service must implement.
type Registerer interface {
	Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResponse, error)
}

// NewRegisterHandler returns an HTTP handler for user registration.
// @Summary Register a new user
// @Description Creates a new user account. Username and email must be unique, the password must pass the strength rules. Password is hashed before storing and never returned.
// @Tags accounts
// @Accept json
// @Produce json
// @Param registerRequest body models.RegisterRequest true "User registration request"
// @Success 201 {object} models.RegisterResponse "User successfully registered"
// @Failure 400 {object} models.ValidationErrorResponse "Field-level validation errors"
// @Failure 429 {object} models.ErrorResponse "Too many registration attempts"
// @Failure 500 {object} models.ErrorResponse "Internal server error"
// @Router /register [post]
func NewRegisterHandler(svc Registerer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.RegisterRequest

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
		if err := decodeJSON(r.Body, &req); err != nil {
			logger.FromContext(r.Context()).Debugw("invalid request body", "err", err)
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{
				Error: "invalid request body",
			})
			return
		}

		resp, err := svc.Register(r.Context(), req)
		if err != nil {
			var vErr *services.ValidationError
			switch {
			case errors.As(err, &vErr):
				writeJSON(w, http.StatusBadRequest, models.ValidationErrorResponse(vErr.Fields))
			default:
				logger.FromContext(r.Context()).Errorw("internal server error", "err", err)
				writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{
					Error: "Internal server error",
				})
			}
			return
		}

		writeJSON(w, http.StatusCreated, resp)
	}
}

// decodeJSON decodes exactly one JSON value from body.
func decodeJSON(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
