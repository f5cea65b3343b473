package repositories

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sbilibin2017/gw-accounts/internal/logger"
	"github.com/sbilibin2017/gw-accounts/internal/middlewares"
	"github.com/sbilibin2017/gw-accounts/internal/models"
)

// Schema creates the users table. Unique constraints are named
// users_<column>_key so callers can map violations back to fields.
//
//go:embed schema.sql
var Schema string

// conn returns the request transaction if one is in the context, else the pool.
func conn(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if tx := middlewares.GetTxFromContext(ctx); tx != nil {
		return tx
	}
	return db
}

func oneLine(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

type UserReadRepository struct {
	db *sqlx.DB
}

func NewUserReadRepository(db *sqlx.DB) *UserReadRepository {
	return &UserReadRepository{db: db}
}

// GetByUsernameOrEmail returns the user matching every non-nil argument,
// or nil if there is none.
func (r *UserReadRepository) GetByUsernameOrEmail(ctx context.Context, username, email *string) (*models.UserDB, error) {
	const query = `
		SELECT user_id, username, email, password_hash, created_at, updated_at
		FROM users
		WHERE ($1::VARCHAR IS NULL OR username = $1)
		  AND ($2::VARCHAR IS NULL OR email = $2)
		LIMIT 1
	`

	var user models.UserDB
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &user, query, username, email)

	logger.FromContext(ctx).Infow(
		"query", oneLine(query),
		"args", []any{username, email},
		"result", user.UserID,
		"error", err,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// Count returns the number of users.
func (r *UserReadRepository) Count(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM users`

	var n int
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &n, query)

	logger.FromContext(ctx).Infow(
		"query", query,
		"result", n,
		"error", err,
	)

	return n, err
}

type UserWriteRepository struct {
	db *sqlx.DB
}

func NewUserWriteRepository(db *sqlx.DB) *UserWriteRepository {
	return &UserWriteRepository{db: db}
}

// Save inserts a new user and returns its generated ID.
// Unique violations are returned as *pgconn.PgError.
func (r *UserWriteRepository) Save(ctx context.Context, username, passwordHash, email string) (uuid.UUID, error) {
	const query = `
		INSERT INTO users (username, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING user_id
	`

	var userID uuid.UUID
	err := conn(ctx, r.db).QueryRowxContext(ctx, query, username, email, passwordHash).Scan(&userID)

	// The hash stays out of the log.
	logger.FromContext(ctx).Infow(
		"query", oneLine(query),
		"args", []any{username, email},
		"result", userID,
		"error", err,
	)

	if err != nil {
		return uuid.Nil, err
	}
	return userID, nil
}
