package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meditrust/meditrust/internal/platform/apperr"
	"github.com/meditrust/meditrust/internal/platform/db"
)

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (r *storePG) conn(ctx context.Context) db.Querier {
	if q := db.ConnFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

const notifCols = `notif_id, user_id, appointment_id, channel, COALESCE(subject, ''), message,
	status, COALESCE(error, ''), created_at, sent_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	var channel string
	err := row.Scan(&n.ID, &n.UserID, &n.AppointmentID, &channel, &n.Subject, &n.Message,
		&n.Status, &n.Error, &n.CreatedAt, &n.SentAt)
	n.Channel = Channel(channel)
	return &n, err
}

func (r *storePG) Create(ctx context.Context, n *Notification) error {
	if n.Channel == "" {
		n.Channel = ChannelLog
	}
	if n.Status == "" {
		n.Status = StatusPending
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO notifications (user_id, appointment_id, channel, subject, message, status)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		RETURNING notif_id, created_at`,
		n.UserID, n.AppointmentID, string(n.Channel), n.Subject, n.Message, n.Status,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *storePG) MarkSent(ctx context.Context, id int64, channel Channel, sentAt time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE notifications SET status = 'sent', channel = $2, sent_at = $3, error = NULL
		WHERE notif_id = $1`, id, string(channel), sentAt)
	if err != nil {
		return fmt.Errorf("mark notification %d sent: %w", id, err)
	}
	return nil
}

func (r *storePG) MarkFailed(ctx context.Context, id int64, channel Channel, reason string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE notifications SET status = 'failed', channel = $2, error = $3
		WHERE notif_id = $1`, id, string(channel), reason)
	if err != nil {
		return fmt.Errorf("mark notification %d failed: %w", id, err)
	}
	return nil
}

func (r *storePG) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*Notification, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+notifCols+` FROM notifications
		WHERE user_id = $1 ORDER BY created_at DESC, notif_id DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	items := []*Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

func (r *storePG) Recipient(ctx context.Context, userID int64) (*Recipient, error) {
	var rc Recipient
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT name, email, COALESCE(phone, '') FROM users WHERE user_id = $1`, userID,
	).Scan(&rc.Name, &rc.Email, &rc.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load recipient %d: %w", userID, err)
	}
	return &rc, nil
}
