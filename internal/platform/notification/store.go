package notification

import (
	"context"
	"time"
)

type Store interface {
	Create(ctx context.Context, n *Notification) error
	MarkSent(ctx context.Context, id int64, channel Channel, sentAt time.Time) error
	MarkFailed(ctx context.Context, id int64, channel Channel, reason string) error
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*Notification, int, error)
	Recipient(ctx context.Context, userID int64) (*Recipient, error)
}
