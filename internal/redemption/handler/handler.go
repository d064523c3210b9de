package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"redeem/internal/eventbus"
	"redeem/internal/redemption/models"
	"redeem/internal/redemption/service"
	"redeem/internal/redemption/store"
	id "redeem/pkg/domain"
	dErrors "redeem/pkg/domain-errors"
	"redeem/pkg/platform/audit"
	"redeem/pkg/platform/httputil"
	"redeem/pkg/requestcontext"
)

// Service defines the quorum operations exposed over HTTP.
type Service interface {
	CreateRequest(ctx context.Context, in service.CreateRequestInput) (*models.RedemptionRequest, error)
	Get(ctx context.Context, requestID id.RequestID) (*models.RedemptionRequest, error)
	List(ctx context.Context, filter store.ListFilter) ([]*models.RedemptionRequest, error)
	Approve(ctx context.Context, requestID id.RequestID, approverID id.ApproverID) (*models.RedemptionRequest, []models.Event, error)
	Reject(ctx context.Context, requestID id.RequestID, approverID id.ApproverID, reason string) (*models.RedemptionRequest, []models.Event, error)
	AdvanceLifecycle(ctx context.Context, requestID id.RequestID, target models.Status) (*models.RedemptionRequest, error)
}

// Subscriber registers observers on the notification bus.
type Subscriber interface {
	Subscribe(ctx context.Context, topic id.Topic) (*eventbus.Subscription[models.Notification], error)
	Unsubscribe(subID id.SubscriptionID)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// AuditReader serves the audit trail of one redemption.
type AuditReader interface {
	List(ctx context.Context, redemptionID id.RequestID) ([]audit.Event, error)
}

// Handler wires redemption endpoints to the quorum service.
type Handler struct {
	service        Service
	subscriber     Subscriber
	logger         *slog.Logger
	auditPublisher AuditPublisher
	auditReader    AuditReader
	writeTimeout   time.Duration
	originPatterns []string
}

type Option func(*Handler)

func WithAuditPublisher(p AuditPublisher) Option {
	return func(h *Handler) { h.auditPublisher = p }
}

// WithAuditReader enables GET /redemptions/{id}/audit.
func WithAuditReader(r AuditReader) Option {
	return func(h *Handler) { h.auditReader = r }
}

// WithOriginPatterns allows cross-origin websocket subscribers.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.originPatterns = patterns }
}

// New constructs a redemption handler with its dependencies.
func New(svc Service, subscriber Subscriber, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &Handler{
		service:      svc,
		subscriber:   subscriber,
		logger:       logger,
		writeTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts redemption endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/redemptions", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)
		r.Get("/{id}", h.HandleGet)
		r.Post("/{id}/approve", h.HandleApprove)
		r.Post("/{id}/reject", h.HandleReject)
		r.Post("/{id}/advance", h.HandleAdvance)
		if h.auditReader != nil {
			r.Get("/{id}/audit", h.HandleAudit)
		}
	})
	r.Get("/subscriptions/{kind}/{id}", h.HandleSubscribe)
}

// HandleCreate handles POST /redemptions.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateRedemptionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	created, err := h.service.CreateRequest(ctx, req.Input())
	if err != nil {
		h.writeServiceError(ctx, w, "create", err, "redemption_id", req.RequestID)
		return
	}

	h.logger.InfoContext(ctx, "redemption request created",
		"request_id", requestID,
		"redemption_id", created.ID,
		"required_approvals", created.RequiredApprovals,
	)
	httputil.WriteJSON(w, http.StatusCreated, FromRequest(created))
}

// HandleList handles GET /redemptions.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := parseListFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	reqs, err := h.service.List(ctx, filter)
	if err != nil {
		h.writeServiceError(ctx, w, "list", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRequests(reqs))
}

// HandleGet handles GET /redemptions/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	redemptionID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, err := h.service.Get(ctx, redemptionID)
	if err != nil {
		h.writeServiceError(ctx, w, "get", err, "redemption_id", redemptionID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRequest(req))
}

// HandleApprove handles POST /redemptions/{id}/approve.
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	redemptionID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ApproveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	approverID, err := resolveApprover(ctx, req.ParsedApproverID())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	updated, events, err := h.service.Approve(ctx, redemptionID, approverID)
	if err != nil {
		h.writeServiceError(ctx, w, "approve", err, "redemption_id", redemptionID, "approver_id", approverID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromTransition(updated, events))
}

// HandleReject handles POST /redemptions/{id}/reject.
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	redemptionID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[RejectRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	approverID, err := resolveApprover(ctx, req.ParsedApproverID())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	updated, events, err := h.service.Reject(ctx, redemptionID, approverID, req.Reason)
	if err != nil {
		h.writeServiceError(ctx, w, "reject", err, "redemption_id", redemptionID, "approver_id", approverID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromTransition(updated, events))
}

// HandleAdvance handles POST /redemptions/{id}/advance.
func (h *Handler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	redemptionID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[AdvanceRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	updated, err := h.service.AdvanceLifecycle(ctx, redemptionID, req.ParsedStatus())
	if err != nil {
		h.writeServiceError(ctx, w, "advance", err, "redemption_id", redemptionID, "target", req.Status)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRequest(updated))
}

// HandleAudit handles GET /redemptions/{id}/audit.
func (h *Handler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	redemptionID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if _, err := h.service.Get(ctx, redemptionID); err != nil {
		h.writeServiceError(ctx, w, "audit", err, "redemption_id", redemptionID)
		return
	}

	events, err := h.auditReader.List(ctx, redemptionID)
	if err != nil {
		h.writeServiceError(ctx, w, "audit", dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit trail"),
			"redemption_id", redemptionID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromAuditEvents(events))
}

// resolveApprover picks the acting approver. An authenticated approver wins;
// a body approver_id must then name the same approver.
func resolveApprover(ctx context.Context, fromBody id.ApproverID) (id.ApproverID, error) {
	authenticated, ok := requestcontext.ApproverID(ctx)
	if !ok {
		if fromBody == "" {
			return "", dErrors.New(dErrors.CodeInvalidArgument, "approver_id is required")
		}
		return fromBody, nil
	}
	if fromBody != "" && fromBody != authenticated {
		return "", dErrors.New(dErrors.CodeNotAnApprover, "approver_id does not match the authenticated approver")
	}
	return authenticated, nil
}

func parseListFilter(r *http.Request) (store.ListFilter, error) {
	q := r.URL.Query()
	var filter store.ListFilter

	if v := q.Get("investor_id"); v != "" {
		investorID, err := id.ParseInvestorID(v)
		if err != nil {
			return filter, err
		}
		filter.InvestorID = investorID
	}
	if v := q.Get("status"); v != "" {
		st, err := models.ParseStatus(v)
		if err != nil {
			return filter, err
		}
		filter.Status = st
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, dErrors.New(dErrors.CodeInvalidArgument, "limit must be a non-negative integer")
		}
		filter.Limit = n
	}
	return filter, nil
}

// writeServiceError logs at a level matching the outcome and renders err.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, op string, err error, attrs ...any) {
	attrs = append(attrs,
		"request_id", requestcontext.RequestID(ctx),
		"operation", op,
		"code", dErrors.CodeOf(err),
		"error", err,
	)
	switch status := httputil.StatusFor(dErrors.CodeOf(err)); {
	case dErrors.IsInformational(err):
		h.logger.InfoContext(ctx, "redemption "+op+" not applied", attrs...)
	case status >= http.StatusInternalServerError:
		h.logger.ErrorContext(ctx, "redemption "+op+" failed", attrs...)
	default:
		h.logger.WarnContext(ctx, "redemption "+op+" rejected", attrs...)
	}
	httputil.WriteError(w, err)
}
