package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"redeem/internal/redemption/metrics"
	"redeem/internal/redemption/models"
	"redeem/internal/redemption/store"
	id "redeem/pkg/domain"
	dErrors "redeem/pkg/domain-errors"
	"redeem/pkg/platform/audit"
	"redeem/pkg/platform/sentinel"
	"redeem/pkg/requestcontext"
)

// RequestStore is the owned, versioned store of redemption requests.
type RequestStore interface {
	Create(ctx context.Context, req *models.RedemptionRequest) error
	Get(ctx context.Context, requestID id.RequestID) (*models.RedemptionRequest, error)
	CompareAndSwap(ctx context.Context, requestID id.RequestID, expectedVersion int64, mutate store.Mutator) (*models.RedemptionRequest, error)
	List(ctx context.Context, filter store.ListFilter) ([]*models.RedemptionRequest, error)
}

// Notifier receives committed events. It is called after the commit with no
// store lock held.
type Notifier interface {
	Notify(ctx context.Context, req *models.RedemptionRequest, events []models.Event)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// RetryPolicy bounds compare-and-swap retries.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy is 8 attempts backing off from 1ms to 50ms.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    8,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     50 * time.Millisecond,
}

// Service is the quorum engine. It is the only writer of redemption state.
type Service struct {
	store          RequestStore
	notifier       Notifier
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	retry          RetryPolicy
}

type Option func(s *Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithRetryPolicy overrides the CAS retry budget. Zero fields keep defaults.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Service) {
		if p.MaxAttempts > 0 {
			s.retry.MaxAttempts = p.MaxAttempts
		}
		if p.InitialBackoff > 0 {
			s.retry.InitialBackoff = p.InitialBackoff
		}
		if p.MaxBackoff > 0 {
			s.retry.MaxBackoff = p.MaxBackoff
		}
	}
}

// New constructs a Service. The request store is required.
func New(requests RequestStore, opts ...Option) (*Service, error) {
	if requests == nil {
		return nil, errors.New("request store is required")
	}
	s := &Service{
		store:  requests,
		logger: slog.New(slog.DiscardHandler),
		retry:  DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("redeem/internal/redemption/service")
	}
	return s, nil
}

// CreateRequestInput carries a new request. RequestID is generated when empty.
type CreateRequestInput struct {
	RequestID         id.RequestID
	InvestorID        id.InvestorID
	Approvers         []id.ApproverID
	RequiredApprovals int
	Metadata          map[string]string
}

// CreateRequest stores a Pending request and emits Created.
func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput) (*models.RedemptionRequest, error) {
	const op = "create"
	ctx, span := s.startSpan(ctx, op, in.RequestID, "")
	start := time.Now()

	requestID := in.RequestID
	if requestID == "" {
		requestID = id.NewRequestID()
	}
	now := requestcontext.Now(ctx)

	req, err := models.NewRedemptionRequest(requestID, in.InvestorID, in.Approvers, in.RequiredApprovals, in.Metadata, now)
	if err != nil {
		s.finish(ctx, span, op, start, requestID, "", err)
		return nil, err
	}

	b := models.NewEventBuilder(req, now)
	b.Add(models.EventCreated, "", "", "")

	if err := s.store.Create(ctx, req); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			err = dErrors.New(dErrors.CodeInvalidArgument, "redemption request "+string(requestID)+" already exists")
		} else {
			err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to create redemption request")
		}
		s.finish(ctx, span, op, start, requestID, "", err)
		return nil, err
	}

	s.finish(ctx, span, op, start, requestID, "", nil)
	s.afterCommit(ctx, req, b.Events())
	return req.Clone(), nil
}

// Get returns the current state of one request.
func (s *Service) Get(ctx context.Context, requestID id.RequestID) (*models.RedemptionRequest, error) {
	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, translateStoreError(err, "failed to load redemption request")
	}
	return req, nil
}

// List returns requests matching filter.
func (s *Service) List(ctx context.Context, filter store.ListFilter) ([]*models.RedemptionRequest, error) {
	reqs, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list redemption requests")
	}
	return reqs, nil
}

// afterCommit hands events to observers and the audit trail.
func (s *Service) afterCommit(ctx context.Context, req *models.RedemptionRequest, events []models.Event) {
	for _, ev := range events {
		if ev.Kind == models.EventQuorumReached {
			s.metrics.IncrementQuorumReached()
		}
	}
	s.emitAudit(ctx, req, events)
	if s.notifier != nil {
		s.notifier.Notify(ctx, req, events)
	}
}

func (s *Service) startSpan(ctx context.Context, op string, requestID id.RequestID, approverID id.ApproverID) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("redemption.operation", op)}
	if requestID != "" {
		attrs = append(attrs, attribute.String("redemption.request_id", string(requestID)))
	}
	if approverID != "" {
		attrs = append(attrs, attribute.String("redemption.approver_id", string(approverID)))
	}
	return s.tracer.Start(ctx, "redemption."+op, trace.WithAttributes(attrs...))
}

// finish ends the span and records the outcome in logs and metrics.
func (s *Service) finish(ctx context.Context, span trace.Span, op string, start time.Time, requestID id.RequestID, approverID id.ApproverID, err error) {
	defer span.End()
	s.metrics.ObserveLatency(op, time.Since(start))

	if err == nil {
		s.metrics.IncrementOperation(op, "ok")
		s.logger.InfoContext(ctx, "redemption "+op+" committed",
			"request_id", requestID,
			"approver_id", approverID,
			"operation", op,
			"correlation_id", requestcontext.RequestID(ctx),
		)
		return
	}

	code := dErrors.CodeOf(err)
	s.metrics.IncrementOperation(op, string(code))
	attrs := []any{
		"request_id", requestID,
		"approver_id", approverID,
		"operation", op,
		"code", code,
		"correlation_id", requestcontext.RequestID(ctx),
		"error", err,
	}
	switch {
	case dErrors.IsInformational(err):
		span.SetAttributes(attribute.String("redemption.outcome", string(code)))
		s.logger.InfoContext(ctx, "redemption "+op+" not applied", attrs...)
	case code == dErrors.CodeInternal || code == dErrors.CodeExhausted:
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		s.logger.ErrorContext(ctx, "redemption "+op+" failed", attrs...)
	default:
		span.SetAttributes(attribute.String("redemption.outcome", string(code)))
		s.logger.WarnContext(ctx, "redemption "+op+" rejected", attrs...)
	}
}

// translateStoreError maps store sentinels to coded errors. Already coded
// errors pass through.
func translateStoreError(err error, msg string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "redemption request not found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "operation cancelled")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
