package store

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/down/down-service/internal/domain"
)

// EventRepository defines the interface for event and RSVP storage.
type EventRepository interface {
	// CreateEvent writes the event, any initial invitations, and the
	// event.created outbox row in one transaction.
	CreateEvent(ctx context.Context, req domain.CreateEventRequest, creator string, exchange, routingKey string) (*domain.Event, error)

	// ListEvents returns all active events with their attendee maps.
	ListEvents(ctx context.Context) ([]domain.Event, error)

	// ListEventsByCreator returns the active events a user created.
	ListEventsByCreator(ctx context.Context, username string) ([]domain.Event, error)

	// RSVP records a user's response to an event. Unknown events are
	// domain.ErrNotFound. A user holds at most one attendee row per event.
	RSVP(ctx context.Context, eventID, username, displayName string, response domain.RSVPResponse, exchange, routingKey string) error

	// DeactivatePastEvents flips is_active off for events whose time has
	// passed. Returns how many rows changed.
	DeactivatePastEvents(ctx context.Context) (int64, error)
}

// PostgresEventRepository is the PostgreSQL implementation of the EventRepository.
type PostgresEventRepository struct {
	db *pgxpool.Pool
}

// NewPostgresEventRepository creates a new instance of PostgresEventRepository.
func NewPostgresEventRepository(db *pgxpool.Pool) *PostgresEventRepository {
	return &PostgresEventRepository{db: db}
}

func (r *PostgresEventRepository) CreateEvent(
	ctx context.Context,
	req domain.CreateEventRequest,
	creator string,
	exchange, routingKey string,
) (*domain.Event, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	event := domain.Event{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Place:     req.Place,
		EventTime: req.EventTime,
		Creator:   creator,
		IsActive:  true,
		Attendees: map[string]string{},
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO events (id, name, place, event_time, creator, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING time_created
	`, event.ID, event.Name, event.Place, event.EventTime, creator).Scan(&event.TimeCreated)
	if err != nil {
		log.Printf("Error inserting event into database: %v", err)
		return nil, err
	}

	// Initial invitations become attendee rows without a response yet. The
	// display name is resolved from users so stale client copies never win.
	for _, friend := range req.Friends {
		var displayName string
		err := tx.QueryRow(ctx, `SELECT display_name FROM users WHERE username = $1`, friend).Scan(&displayName)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				log.Printf("Skipping invitation for unknown username %q on event %s", friend, event.ID)
				continue
			}
			return nil, err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO event_attendees (event_id, username, display_name)
			VALUES ($1, $2, $3)
			ON CONFLICT (event_id, username) DO NOTHING
		`, event.ID, friend, displayName)
		if err != nil {
			return nil, err
		}
		event.Attendees[friend] = displayName
	}

	payload := domain.EventCreatedEvent{
		EventID:   event.ID,
		Name:      event.Name,
		Creator:   creator,
		EventTime: event.EventTime,
		Invited:   req.Friends,
	}
	if err := enqueueEventTx(ctx, tx, exchange, routingKey, payload); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *PostgresEventRepository) ListEvents(ctx context.Context) ([]domain.Event, error) {
	return r.listEvents(ctx, `WHERE e.is_active`)
}

func (r *PostgresEventRepository) ListEventsByCreator(ctx context.Context, username string) ([]domain.Event, error) {
	return r.listEvents(ctx, `WHERE e.is_active AND e.creator = $1`, username)
}

func (r *PostgresEventRepository) listEvents(ctx context.Context, where string, args ...interface{}) ([]domain.Event, error) {
	query := `
		SELECT e.id, e.name, e.place, e.event_time, e.time_created, e.creator, e.is_active,
		       a.username, a.display_name
		FROM events e
		LEFT JOIN event_attendees a ON a.event_id = e.id
		` + where + `
		ORDER BY e.event_time, e.id
	`
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.Event{}
	index := map[string]int{}
	for rows.Next() {
		var (
			ev                    domain.Event
			attendee, displayName *string
		)
		if err := rows.Scan(&ev.ID, &ev.Name, &ev.Place, &ev.EventTime, &ev.TimeCreated, &ev.Creator, &ev.IsActive, &attendee, &displayName); err != nil {
			return nil, err
		}
		i, seen := index[ev.ID]
		if !seen {
			ev.Attendees = map[string]string{}
			events = append(events, ev)
			i = len(events) - 1
			index[ev.ID] = i
		}
		if attendee != nil {
			name := ""
			if displayName != nil {
				name = *displayName
			}
			events[i].Attendees[*attendee] = name
		}
	}
	return events, rows.Err()
}

func (r *PostgresEventRepository) RSVP(
	ctx context.Context,
	eventID, username, displayName string,
	response domain.RSVPResponse,
	exchange, routingKey string,
) error {
	// The id column is a UUID; anything else cannot name an event, and
	// passing it through would surface as a Postgres cast error instead.
	if _, err := uuid.Parse(eventID); err != nil {
		return domain.ErrNotFound
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var isActive bool
	err = tx.QueryRow(ctx, `SELECT is_active FROM events WHERE id = $1`, eventID).Scan(&isActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	}
	if !isActive {
		return domain.ErrNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO event_attendees (event_id, username, display_name, rsvp, responded_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (event_id, username)
		DO UPDATE SET display_name = EXCLUDED.display_name, rsvp = EXCLUDED.rsvp, responded_at = NOW()
	`, eventID, username, displayName, response)
	if err != nil {
		return err
	}

	payload := domain.EventRSVPEvent{
		EventID:  eventID,
		Username: username,
		Response: response,
	}
	if err := enqueueEventTx(ctx, tx, exchange, routingKey, payload); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *PostgresEventRepository) DeactivatePastEvents(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE events
		SET is_active = FALSE
		WHERE is_active AND event_time < NOW()
	`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
