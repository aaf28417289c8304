package notification

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/meditrust/meditrust/internal/platform/db"
	"github.com/meditrust/meditrust/internal/platform/worker"
)

// Submitter queues background work. *worker.Pool satisfies it.
type Submitter interface {
	Submit(job worker.Job) error
}

// Recorder counts delivery outcomes.
type Recorder interface {
	NotificationDelivered(channel, status string)
}

type nopRecorder struct{}

func (nopRecorder) NotificationDelivered(string, string) {}

// Request describes a notification to record for a user.
type Request struct {
	UserID        int64
	AppointmentID *int64
	TemplateID    string
	Data          map[string]string
}

type Service struct {
	store     Store
	templates *TemplateEngine
	email     EmailSender
	sms       SMSSender
	log       *LogSender
	jobs      Submitter
	metrics   Recorder
	logger    zerolog.Logger
	now       func() time.Time
}

// Option configures optional collaborators of the Service.
type Option func(*Service)

// WithEmail enables email delivery.
func WithEmail(s EmailSender) Option { return func(svc *Service) { svc.email = s } }

// WithSMS enables SMS delivery.
func WithSMS(s SMSSender) Option { return func(svc *Service) { svc.sms = s } }

func WithRecorder(r Recorder) Option { return func(svc *Service) { svc.metrics = r } }

func NewService(store Store, templates *TemplateEngine, jobs Submitter, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		templates: templates,
		log:       NewLogSender(logger),
		jobs:      jobs,
		metrics:   nopRecorder{},
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue records a pending notification in the caller's transaction and
// schedules delivery for after it commits.
func (s *Service) Enqueue(ctx context.Context, req Request) (*Notification, error) {
	subject, body, err := s.templates.Render(req.TemplateID, req.Data)
	if err != nil {
		return nil, err
	}
	n := &Notification{
		UserID:        req.UserID,
		AppointmentID: req.AppointmentID,
		Channel:       ChannelLog,
		Subject:       subject,
		Message:       body,
		Status:        StatusPending,
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, err
	}
	db.AfterCommit(ctx, func() { s.schedule(n) })
	return n, nil
}

func (s *Service) schedule(n *Notification) {
	if err := s.jobs.Submit(func(ctx context.Context) { s.Dispatch(ctx, n) }); err != nil {
		s.logger.Warn().Err(err).Int64("notif_id", n.ID).Msg("notification left pending")
	}
}

// Dispatch delivers n through the best available channel and records the
// outcome. Failures are logged, never returned.
func (s *Service) Dispatch(ctx context.Context, n *Notification) {
	rcpt, err := s.store.Recipient(ctx, n.UserID)
	if err != nil {
		s.logger.Error().Err(err).Int64("notif_id", n.ID).Msg("load notification recipient")
		s.fail(ctx, n, ChannelLog, err)
		return
	}

	channel := s.channelFor(rcpt)
	switch channel {
	case ChannelEmail:
		err = s.email.SendEmail(ctx, rcpt.Email, n.Subject, n.Message)
	case ChannelSMS:
		err = s.sms.SendSMS(ctx, rcpt.Phone, n.Message)
	default:
		s.log.Send(n, rcpt)
	}
	if err != nil {
		s.logger.Warn().Err(err).Int64("notif_id", n.ID).Str("channel", string(channel)).Msg("notification delivery failed")
		s.fail(ctx, n, channel, err)
		return
	}

	sentAt := s.now().UTC()
	if err := s.store.MarkSent(ctx, n.ID, channel, sentAt); err != nil {
		s.logger.Error().Err(err).Int64("notif_id", n.ID).Msg("record notification delivery")
	}
	n.Channel, n.Status, n.SentAt = channel, StatusSent, &sentAt
	s.metrics.NotificationDelivered(string(channel), StatusSent)
}

func (s *Service) fail(ctx context.Context, n *Notification, channel Channel, cause error) {
	if err := s.store.MarkFailed(ctx, n.ID, channel, cause.Error()); err != nil {
		s.logger.Error().Err(err).Int64("notif_id", n.ID).Msg("record notification failure")
	}
	n.Channel, n.Status, n.Error = channel, StatusFailed, cause.Error()
	s.metrics.NotificationDelivered(string(channel), StatusFailed)
}

func (s *Service) channelFor(r *Recipient) Channel {
	switch {
	case s.email != nil && r.Email != "":
		return ChannelEmail
	case s.sms != nil && r.Phone != "":
		return ChannelSMS
	default:
		return ChannelLog
	}
}

func (s *Service) ListForUser(ctx context.Context, userID int64, limit, offset int) ([]*Notification, int, error) {
	return s.store.ListByUser(ctx, userID, limit, offset)
}
