package documents

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meditrust/meditrust/internal/platform/apperr"
	"github.com/meditrust/meditrust/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if q := db.ConnFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

// -- Uploads --

const uploadCols = `upload_id, user_id, file_path, COALESCE(original_name, ''), COALESCE(content_type, ''),
	upload_type, consent_cloud_ocr, COALESCE(ocr_text, ''), COALESCE(ocr_provider, ''), created_at`

func scanUpload(row pgx.Row) (*Upload, error) {
	var u Upload
	err := row.Scan(&u.ID, &u.UserID, &u.FilePath, &u.OriginalName, &u.ContentType,
		&u.UploadType, &u.ConsentCloudOCR, &u.OCRText, &u.OCRProvider, &u.CreatedAt)
	return &u, err
}

func (r *repoPG) Create(ctx context.Context, u *Upload) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO uploads (user_id, file_path, original_name, content_type, upload_type, consent_cloud_ocr)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6)
		RETURNING upload_id, created_at`,
		u.UserID, u.FilePath, u.OriginalName, u.ContentType, u.UploadType, u.ConsentCloudOCR,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Upload, error) {
	u, err := scanUpload(r.conn(ctx).QueryRow(ctx,
		`SELECT `+uploadCols+` FROM uploads WHERE upload_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Upload not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get upload %d: %w", id, err)
	}
	return u, nil
}

func (r *repoPG) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*Upload, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM uploads WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count uploads: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+uploadCols+` FROM uploads WHERE user_id = $1
		ORDER BY created_at DESC, upload_id DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	items := []*Upload{}
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan upload: %w", err)
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}

func (r *repoPG) SetOCR(ctx context.Context, uploadID int64, text, provider string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE uploads SET ocr_text = NULLIF($2, ''), ocr_provider = NULLIF($3, '')
		WHERE upload_id = $1`, uploadID, text, provider)
	if err != nil {
		return fmt.Errorf("set ocr for upload %d: %w", uploadID, err)
	}
	return nil
}

// -- Summaries --

func (r *repoPG) SaveSummary(ctx context.Context, uploadID int64, text, model string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO summaries (upload_id, summary_text, llm_model_used)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (upload_id) DO UPDATE
		SET summary_text = EXCLUDED.summary_text,
		    llm_model_used = EXCLUDED.llm_model_used,
		    updated_at = NOW()`, uploadID, text, model)
	if err != nil {
		return fmt.Errorf("save summary for upload %d: %w", uploadID, err)
	}
	return nil
}

func (r *repoPG) GetSummary(ctx context.Context, uploadID int64) (*SummaryRecord, error) {
	s := SummaryRecord{UploadID: uploadID}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT summary_text, COALESCE(llm_model_used, ''), updated_at
		FROM summaries WHERE upload_id = $1`, uploadID,
	).Scan(&s.Text, &s.Model, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("No summary available")
	}
	if err != nil {
		return nil, fmt.Errorf("get summary for upload %d: %w", uploadID, err)
	}
	return &s, nil
}

// -- Entities --

func (r *repoPG) ReplaceEntities(ctx context.Context, uploadID int64, source string, entities []Entity) error {
	if _, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM medical_entities WHERE upload_id = $1 AND source = $2`, uploadID, source); err != nil {
		return fmt.Errorf("clear entities for upload %d: %w", uploadID, err)
	}
	if len(entities) == 0 {
		return nil
	}

	types := make([]string, len(entities))
	texts := make([]string, len(entities))
	normalized := make([]string, len(entities))
	for i, e := range entities {
		types[i], texts[i], normalized[i] = e.Type, e.Text, e.NormalizedValue
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medical_entities (upload_id, type, text, normalized_value, source)
		SELECT $1, t.etype, t.etext, NULLIF(t.enorm, ''), $2
		FROM unnest($3::text[], $4::text[], $5::text[]) AS t(etype, etext, enorm)`,
		uploadID, source, types, texts, normalized)
	if err != nil {
		return fmt.Errorf("insert entities for upload %d: %w", uploadID, err)
	}
	return nil
}

func (r *repoPG) ListEntities(ctx context.Context, uploadID int64) ([]*Entity, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT entity_id, upload_id, type, text, COALESCE(normalized_value, ''), confidence,
			COALESCE(source, ''), created_at
		FROM medical_entities WHERE upload_id = $1
		ORDER BY entity_id`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	out := []*Entity{}
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.UploadID, &e.Type, &e.Text, &e.NormalizedValue,
			&e.Confidence, &e.Source, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
