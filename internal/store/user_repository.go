package store

import (
	"context"
	"errors"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/down/down-service/internal/domain"
)

// UserRepository defines the interface for user profile storage. It is the
// persistence half of the profile resolver: lookup distinguishes returning
// users from new ones, create performs onboarding's final write.
type UserRepository interface {
	// LookupProfile returns the profile for uid, stamping last_active as part
	// of the same statement. A missing profile is domain.ErrNotFound.
	LookupProfile(ctx context.Context, uid string) (*domain.UserProfile, error)

	// CreateProfile writes a new profile and enqueues the user.created event
	// in one transaction. A username collision is domain.ErrUsernameTaken and
	// leaves the store untouched.
	CreateProfile(ctx context.Context, uid, username, displayName, exchange, routingKey string) (*domain.UserProfile, error)

	// MarkIdleUsersInactive flips status to inactive for users whose
	// last_active is older than idleDays. Returns how many rows changed.
	MarkIdleUsersInactive(ctx context.Context, idleDays int) (int64, error)

	OutboxRepository
}

// PostgresUserRepository is the PostgreSQL implementation of the UserRepository.
type PostgresUserRepository struct {
	db *pgxpool.Pool
}

// NewPostgresUserRepository creates a new instance of PostgresUserRepository.
func NewPostgresUserRepository(db *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

// LookupProfile reads a profile by its identity id. The last_active stamp
// rides in the same UPDATE ... RETURNING statement, so it either completes
// with the read or the whole call errors; there is no partial write path.
func (r *PostgresUserRepository) LookupProfile(ctx context.Context, uid string) (*domain.UserProfile, error) {
	query := `
		UPDATE users
		SET last_active = NOW()
		WHERE uid = $1
		RETURNING uid, username, display_name, auth_method, status, created_at, updated_at, last_active
	`
	var profile domain.UserProfile
	err := r.db.QueryRow(ctx, query, uid).Scan(
		&profile.UID,
		&profile.Username,
		&profile.DisplayName,
		&profile.AuthMethod,
		&profile.Status,
		&profile.CreatedAt,
		&profile.UpdatedAt,
		&profile.LastActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		log.Printf("Error looking up profile %s: %v", uid, err)
		return nil, err
	}
	return &profile, nil
}

// CreateProfile inserts the new user row and the user.created outbox event in
// a single transaction. All three timestamps come from the same NOW(), so a
// freshly onboarded profile has created_at == updated_at == last_active.
func (r *PostgresUserRepository) CreateProfile(
	ctx context.Context,
	uid, username, displayName string,
	exchange, routingKey string,
) (*domain.UserProfile, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO users (uid, username, display_name, auth_method, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING uid, username, display_name, auth_method, status, created_at, updated_at, last_active
	`
	var profile domain.UserProfile
	err = tx.QueryRow(ctx, query,
		uid,
		username,
		displayName,
		domain.PhoneAuth,
		domain.StatusActive,
	).Scan(
		&profile.UID,
		&profile.Username,
		&profile.DisplayName,
		&profile.AuthMethod,
		&profile.Status,
		&profile.CreatedAt,
		&profile.UpdatedAt,
		&profile.LastActive,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			log.Printf("Error creating profile: unique constraint violation on %s", pgErr.ConstraintName)
			return nil, domain.ErrUsernameTaken
		}
		log.Printf("Error inserting user into database: %v", err)
		return nil, err
	}

	event := domain.UserCreatedEvent{
		UID:         profile.UID,
		Username:    profile.Username,
		DisplayName: profile.DisplayName,
		CreatedAt:   profile.CreatedAt,
	}
	if err := enqueueEventTx(ctx, tx, exchange, routingKey, event); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	log.Printf("Successfully created profile for user %s (@%s)", profile.UID, profile.Username)
	return &profile, nil
}

// MarkIdleUsersInactive downgrades users whose last_active is older than the
// configured window.
func (r *PostgresUserRepository) MarkIdleUsersInactive(ctx context.Context, idleDays int) (int64, error) {
	if idleDays <= 0 {
		idleDays = 90
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET status = $1, updated_at = NOW()
		WHERE status = $2
		  AND last_active < NOW() - ($3 * INTERVAL '1 day')
	`, domain.StatusInactive, domain.StatusActive, idleDays)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
