package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sbilibin2017/gw-accounts/internal/logger"
	"github.com/sbilibin2017/gw-accounts/internal/models"
	"github.com/sbilibin2017/gw-accounts/internal/validation"
	"github.com/segmentio/kafka-go"
	"golang.org/x/crypto/bcrypt"
)

//go:generate mockgen -source=register.go -destination=register_mock.go -package=services

// Postgres SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// ValidationError carries field-level messages for a rejected registration.
type ValidationError struct {
	Fields validation.FieldErrors
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Fields.Error()
}

// UserReader defines read-only operations for users.
type UserReader interface {
	GetByUsernameOrEmail(ctx context.Context, username *string, email *string) (*models.UserDB, error)
}

// UserWriter defines write operations for users.
type UserWriter interface {
	Save(ctx context.Context, username string, passwordHash string, email string) (uuid.UUID, error)
}

// FieldValidator validates registration fields.
type FieldValidator interface {
	ValidateRegistration(req models.RegisterRequest) validation.FieldErrors
	UniqueMessage(field string) string
}

// TokenGenerator issues access tokens.
type TokenGenerator interface {
	Generate(ctx context.Context, userID uuid.UUID) (string, error)
}

// KafkaWriter defines a Kafka writer abstraction.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error // Writes messages to Kafka
	Close() error                                                   // Closes the Kafka writer
}

// RegistrationService validates and creates new users.
type RegistrationService struct {
	reader      UserReader
	writer      UserWriter
	validator   FieldValidator
	tokens      TokenGenerator
	kafkaWriter KafkaWriter
	hashCost    int
}

// NewRegistrationService creates a new RegistrationService.
// kafkaWriter may be nil, in which case no events are published.
func NewRegistrationService(
	reader UserReader,
	writer UserWriter,
	validator FieldValidator,
	tokens TokenGenerator,
	kafkaWriter KafkaWriter,
) *RegistrationService {
	return &RegistrationService{
		reader:      reader,
		writer:      writer,
		validator:   validator,
		tokens:      tokens,
		kafkaWriter: kafkaWriter,
		hashCost:    bcrypt.DefaultCost,
	}
}

// Register validates the request, stores the user with a bcrypt-hashed password
// and returns its sanitized representation. Rejected input is reported as *ValidationError.
func (svc *RegistrationService) Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResponse, error) {
	log := logger.FromContext(ctx)

	req.Username = strings.TrimSpace(req.Username)
	req.Email = normalizeEmail(req.Email)

	fieldErrs := svc.validator.ValidateRegistration(req)
	if fieldErrs == nil {
		fieldErrs = make(validation.FieldErrors)
	}

	if !fieldErrs.Has("username") {
		user, err := svc.reader.GetByUsernameOrEmail(ctx, &req.Username, nil)
		if err != nil {
			log.Errorw("failed to check username", "err", err)
			return nil, err
		}
		if user != nil {
			fieldErrs.Add("username", svc.validator.UniqueMessage("username"))
		}
	}

	if !fieldErrs.Has("email") {
		user, err := svc.reader.GetByUsernameOrEmail(ctx, nil, &req.Email)
		if err != nil {
			log.Errorw("failed to check email", "err", err)
			return nil, err
		}
		if user != nil {
			fieldErrs.Add("email", svc.validator.UniqueMessage("email"))
		}
	}

	if len(fieldErrs) > 0 {
		log.Infow("registration rejected", "username", req.Username, "email", req.Email, "fields", fieldErrs)
		return nil, &ValidationError{Fields: fieldErrs}
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), svc.hashCost)
	if err != nil {
		log.Errorw("failed to hash password", "err", err)
		return nil, err
	}

	userID, err := svc.writer.Save(ctx, req.Username, string(hashedPassword), req.Email)
	if err != nil {
		if field, ok := uniqueViolationField(err); ok {
			log.Infow("registration lost unique race", "field", field, "username", req.Username, "email", req.Email)
			return nil, &ValidationError{Fields: validation.FieldErrors{
				field: {svc.validator.UniqueMessage(field)},
			}}
		}
		log.Errorw("failed to save user", "err", err)
		return nil, err
	}

	token, err := svc.tokens.Generate(ctx, userID)
	if err != nil {
		log.Errorw("failed to generate token", "user_id", userID, "err", err)
		return nil, err
	}

	svc.publishUserRegistered(ctx, models.UserRegisteredEvent{
		EventID:   uuid.NewString(),
		UserID:    userID.String(),
		Username:  req.Username,
		Email:     req.Email,
		Timestamp: time.Now().Unix(),
	})

	log.Infow("user registered", "user_id", userID, "username", req.Username)

	return &models.RegisterResponse{
		ID:       userID,
		Username: req.Username,
		Email:    req.Email,
		Token:    token,
	}, nil
}

// publishUserRegistered publishes the event to Kafka. Failures are only logged.
func (svc *RegistrationService) publishUserRegistered(ctx context.Context, event models.UserRegisteredEvent) {
	log := logger.FromContext(ctx)

	if svc.kafkaWriter == nil {
		log.Debugw("Kafka writer not configured, skipping publishing", "event_id", event.EventID)
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Errorw("Failed to marshal event for Kafka", "event_id", event.EventID, "error", err)
		return
	}

	msg := kafka.Message{
		Key:   []byte(event.UserID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("user.registered")},
		},
	}

	if err := svc.kafkaWriter.WriteMessages(ctx, msg); err != nil {
		log.Errorw("Failed to publish event to Kafka", "event_id", event.EventID, "error", err)
	} else {
		log.Infow("Event published to Kafka", "event_id", event.EventID, "user_id", event.UserID)
	}
}

// uniqueViolationField maps a unique violation on users_<field>_key to its field.
func uniqueViolationField(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return "", false
	}

	switch {
	case strings.Contains(pgErr.ConstraintName, "username"):
		return "username", true
	case strings.Contains(pgErr.ConstraintName, "email"):
		return "email", true
	}
	return "", false
}

// normalizeEmail trims the address and lowercases its domain part.
func normalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at] + "@" + strings.ToLower(email[at+1:])
}
