package confirmation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) Create(ctx context.Context, appointmentID int64, phone string, ttl time.Duration) (*PendingConfirmation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// A retried send supersedes whatever window was open before.
	if _, err := tx.Exec(ctx, `
		DELETE FROM pending_confirmations
		WHERE appointment_id = $1
	`, appointmentID); err != nil {
		return nil, fmt.Errorf("supersede prior confirmations: %w", err)
	}

	now := time.Now().UTC()
	pc := PendingConfirmation{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		Phone:         phone,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO pending_confirmations (id, appointment_id, phone, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, pc.ID, pc.AppointmentID, pc.Phone, pc.CreatedAt, pc.ExpiresAt); err != nil {
		return nil, fmt.Errorf("insert pending confirmation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &pc, nil
}

func (r *PgRepository) FindActiveByPhones(ctx context.Context, candidates []string, now time.Time) ([]PendingConfirmation, error) {
	return r.findActive(ctx, candidates, nil, now)
}

func (r *PgRepository) FindOtherActiveForPhones(ctx context.Context, candidates []string, excludeAppointmentID int64, now time.Time) ([]PendingConfirmation, error) {
	return r.findActive(ctx, candidates, &excludeAppointmentID, now)
}

func (r *PgRepository) findActive(ctx context.Context, candidates []string, exclude *int64, now time.Time) ([]PendingConfirmation, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, appointment_id, phone, created_at, expires_at
		FROM pending_confirmations
		WHERE phone = ANY($1)
		  AND expires_at > $2
	`
	args := []any{candidates, now}
	if exclude != nil {
		query += ` AND appointment_id <> $3`
		args = append(args, *exclude)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending confirmations: %w", err)
	}
	defer rows.Close()

	var out []PendingConfirmation
	for rows.Next() {
		var pc PendingConfirmation
		if err := rows.Scan(&pc.ID, &pc.AppointmentID, &pc.Phone, &pc.CreatedAt, &pc.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

func (r *PgRepository) DeleteByAppointment(ctx context.Context, appointmentID int64) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM pending_confirmations
		WHERE appointment_id = $1
	`, appointmentID)
	if err != nil {
		return fmt.Errorf("delete pending confirmations: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM pending_confirmations
		WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired confirmations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) UpsertConnectionStatus(ctx context.Context, phone, status string, disabled bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO whatsapp_connections (phone_number, status, disabled, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (phone_number)
		DO UPDATE SET status = EXCLUDED.status, disabled = EXCLUDED.disabled, updated_at = now()
	`, phone, status, disabled)
	if err != nil {
		return fmt.Errorf("upsert connection status: %w", err)
	}
	return nil
}
