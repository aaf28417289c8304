package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meditrust/meditrust/internal/platform/apperr"
	"github.com/meditrust/meditrust/internal/platform/auth"
	"github.com/meditrust/meditrust/internal/platform/blobstore"
	"github.com/meditrust/meditrust/internal/platform/db"
	"github.com/meditrust/meditrust/internal/platform/llm"
	"github.com/meditrust/meditrust/internal/platform/worker"
)

// TxRunner runs fn atomically. *db.Transactor satisfies it.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Submitter queues background work. *worker.Pool satisfies it.
type Submitter interface {
	Submit(job worker.Job) error
}

// Recorder counts summarization outcomes.
type Recorder interface {
	SummaryOutcome(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) SummaryOutcome(string) {}

const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
	outcomeDropped   = "dropped"
)

const defaultLLMTimeout = 30 * time.Second

type Service struct {
	repo       Repository
	blobs      blobstore.Store
	tx         TxRunner
	llm        llm.Client
	jobs       Submitter
	metrics    Recorder
	llmTimeout time.Duration
	logger     zerolog.Logger
}

type Option func(*Service)

func WithRecorder(r Recorder) Option { return func(s *Service) { s.metrics = r } }

// WithLLMTimeout bounds each model call made by the service.
func WithLLMTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.llmTimeout = d
		}
	}
}

func NewService(repo Repository, blobs blobstore.Store, tx TxRunner, client llm.Client, jobs Submitter, logger zerolog.Logger, opts ...Option) *Service {
	if client == nil {
		client = llm.Noop{}
	}
	s := &Service{
		repo:       repo,
		blobs:      blobs,
		tx:         tx,
		llm:        client,
		jobs:       jobs,
		metrics:    nopRecorder{},
		llmTimeout: defaultLLMTimeout,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UploadInput is a received file with its form fields.
type UploadInput struct {
	Name        string
	ContentType string
	Body        io.Reader
	UploadType  string
	Consent     bool
}

// Upload stores the file, records it with a placeholder summary and, when the
// owner consented to cloud OCR, schedules summarization after commit.
func (s *Service) Upload(ctx context.Context, caller *auth.Principal, in UploadInput) (*Upload, error) {
	uploadType := strings.ToLower(strings.TrimSpace(in.UploadType))
	if uploadType == "" {
		uploadType = TypePrescription
	}
	if uploadType != TypePrescription && uploadType != TypeReport {
		return nil, apperr.Validation("Invalid upload_type")
	}

	obj, err := s.blobs.Put(ctx, in.Name, in.ContentType, in.Body)
	if err != nil {
		return nil, blobError(err)
	}

	u := &Upload{
		UserID:          caller.UserID,
		FilePath:        obj.Key,
		OriginalName:    in.Name,
		ContentType:     obj.ContentType,
		UploadType:      uploadType,
		ConsentCloudOCR: in.Consent,
	}
	var once sync.Once
	removeBlob := func() {
		once.Do(func() {
			if derr := s.blobs.Delete(context.Background(), obj.Key); derr != nil {
				s.logger.Warn().Err(derr).Str("key", obj.Key).Msg("remove orphaned upload")
			}
		})
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		// the request transaction may still fail to commit after we return
		db.AfterRollback(ctx, removeBlob)
		if err := s.repo.Create(ctx, u); err != nil {
			return err
		}
		if err := s.repo.SaveSummary(ctx, u.ID, placeholderSummary(), ""); err != nil {
			return err
		}
		if u.ConsentCloudOCR {
			id := u.ID
			db.AfterCommit(ctx, func() { s.schedule(id) })
		}
		return nil
	})
	if err != nil {
		removeBlob()
		return nil, err
	}
	return u, nil
}

func blobError(err error) error {
	switch {
	case errors.Is(err, blobstore.ErrMissingFileName):
		return apperr.Validation("No selected file")
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return apperr.Validation("File too large")
	case errors.Is(err, blobstore.ErrInvalidContentType):
		return apperr.Validation("Unsupported file type")
	default:
		return apperr.Internal("store upload", err)
	}
}

func (s *Service) schedule(uploadID int64) {
	err := s.jobs.Submit(func(ctx context.Context) {
		// failures are logged and counted inside Summarize
		_ = s.Summarize(ctx, uploadID)
	})
	if err != nil {
		s.metrics.SummaryOutcome(outcomeDropped)
		s.logger.Warn().Err(err).Int64("upload_id", uploadID).Msg("summarization not scheduled")
	}
}

// Summarize runs the model over a stored upload and replaces its summary,
// OCR text and extracted entities in one transaction. Running it again
// overwrites the previous result.
func (s *Service) Summarize(ctx context.Context, uploadID int64) error {
	log := s.logger.With().Int64("upload_id", uploadID).Logger()

	sum, err := s.readAndSummarize(ctx, uploadID)
	if err != nil {
		if errors.Is(err, llm.ErrUnavailable) {
			s.metrics.SummaryOutcome(outcomeSkipped)
			log.Info().Msg("no model configured, keeping placeholder summary")
			return err
		}
		s.metrics.SummaryOutcome(outcomeFailed)
		log.Error().Err(err).Msg("summarization failed, keeping placeholder summary")
		return err
	}

	text, err := summaryText(sum)
	if err != nil {
		s.metrics.SummaryOutcome(outcomeFailed)
		return fmt.Errorf("encode summary: %w", err)
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.SaveSummary(ctx, uploadID, text, s.llm.Model()); err != nil {
			return err
		}
		if err := s.repo.SetOCR(ctx, uploadID, sum.OCRText, ProviderGemini); err != nil {
			return err
		}
		return s.repo.ReplaceEntities(ctx, uploadID, SourceLLM, entitiesFrom(uploadID, sum))
	})
	if err != nil {
		s.metrics.SummaryOutcome(outcomeFailed)
		log.Error().Err(err).Msg("store summary")
		return err
	}
	s.metrics.SummaryOutcome(outcomeSucceeded)
	log.Info().Int("medicines", len(sum.Medicines)).Msg("upload summarized")
	return nil
}

func (s *Service) readAndSummarize(ctx context.Context, uploadID int64) (*llm.Summary, error) {
	u, err := s.repo.GetByID(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	rc, err := s.blobs.Open(ctx, u.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", u.FilePath, err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u.FilePath, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.llmTimeout)
	defer cancel()
	return s.llm.Summarize(ctx, llm.Document{
		Data:        data,
		ContentType: u.ContentType,
		UploadType:  u.UploadType,
	})
}

// authorized loads an upload the caller may read: its owner or any doctor.
func (s *Service) authorized(ctx context.Context, caller *auth.Principal, id int64) (*Upload, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.UserID != caller.UserID && !caller.IsDoctor() {
		return nil, apperr.Forbidden("Forbidden")
	}
	return u, nil
}

// Summary returns the stored summary. Text that is not JSON is wrapped as
// {"summary_text": ...}.
func (s *Service) Summary(ctx context.Context, caller *auth.Principal, id int64) (json.RawMessage, error) {
	if _, err := s.authorized(ctx, caller, id); err != nil {
		return nil, err
	}
	rec, err := s.repo.GetSummary(ctx, id)
	if err != nil {
		return nil, err
	}
	if json.Valid([]byte(rec.Text)) {
		return json.RawMessage(rec.Text), nil
	}
	b, err := json.Marshal(map[string]string{"summary_text": rec.Text})
	if err != nil {
		return nil, apperr.Internal("encode summary", err)
	}
	return b, nil
}

// OpenFile returns the stored file of an upload. The caller closes it.
func (s *Service) OpenFile(ctx context.Context, caller *auth.Principal, id int64) (io.ReadCloser, *Upload, error) {
	u, err := s.authorized(ctx, caller, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Open(ctx, u.FilePath)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, nil, apperr.NotFound("File not found")
	}
	if err != nil {
		return nil, nil, apperr.Internal("open upload", err)
	}
	return rc, u, nil
}

func (s *Service) Entities(ctx context.Context, caller *auth.Principal, id int64) ([]*Entity, error) {
	if _, err := s.authorized(ctx, caller, id); err != nil {
		return nil, err
	}
	return s.repo.ListEntities(ctx, id)
}

func (s *Service) ListForUser(ctx context.Context, userID int64, limit, offset int) ([]*Upload, int, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// ValidatePrescription reviews the medicines of a summarized upload with the
// model, or with fixed rules when no model answers.
func (s *Service) ValidatePrescription(ctx context.Context, caller *auth.Principal, id int64) (*llm.Validation, error) {
	u, err := s.authorized(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	rec, err := s.repo.GetSummary(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Validation("No summary available for this upload")
	}
	if err != nil {
		return nil, err
	}
	var sum llm.Summary
	if err := json.Unmarshal([]byte(rec.Text), &sum); err != nil ||
		strings.EqualFold(sum.Condition, placeholderCondition) {
		return nil, apperr.Validation("No summary available for this upload")
	}

	in := llm.PrescriptionInput{OCRText: u.OCRText, Summary: sum}
	lctx, cancel := context.WithTimeout(ctx, s.llmTimeout)
	defer cancel()
	v, err := s.llm.ValidatePrescription(lctx, in)
	if err != nil {
		if !errors.Is(err, llm.ErrUnavailable) {
			s.logger.Warn().Err(err).Int64("upload_id", id).Msg("prescription review failed, using rules")
		}
		fallback := llm.ReviewMedicines(in)
		v = &fallback
	}
	if v.Warnings == nil {
		v.Warnings = []string{}
	}
	return v, nil
}
