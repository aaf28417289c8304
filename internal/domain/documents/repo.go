package documents

import "context"

type Repository interface {
	Create(ctx context.Context, u *Upload) error
	GetByID(ctx context.Context, id int64) (*Upload, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*Upload, int, error)
	SetOCR(ctx context.Context, uploadID int64, text, provider string) error

	// SaveSummary inserts or overwrites the single summary of an upload.
	SaveSummary(ctx context.Context, uploadID int64, text, model string) error
	GetSummary(ctx context.Context, uploadID int64) (*SummaryRecord, error)

	// ReplaceEntities swaps all entities of one source for an upload.
	ReplaceEntities(ctx context.Context, uploadID int64, source string, entities []Entity) error
	ListEntities(ctx context.Context, uploadID int64) ([]*Entity, error)
}
