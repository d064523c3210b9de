package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service,Subscriber,AuditPublisher,AuditReader

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"redeem/internal/redemption/handler/mocks"
	"redeem/internal/redemption/models"
	"redeem/internal/redemption/service"
	"redeem/internal/redemption/store"
	id "redeem/pkg/domain"
	dErrors "redeem/pkg/domain-errors"
	"redeem/pkg/platform/audit"
	"redeem/pkg/platform/httputil"
	"redeem/pkg/testutil"
)

type RedemptionHandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
	now     time.Time
}

func TestRedemptionHandlerSuite(t *testing.T) {
	suite.Run(t, new(RedemptionHandlerSuite))
}

func (s *RedemptionHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	s.now = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	h := New(s.service, mocks.NewMockSubscriber(ctrl), nil)
	s.router = chi.NewRouter()
	h.Register(s.router)
}

func (s *RedemptionHandlerSuite) request(requestID id.RequestID, status models.Status) *models.RedemptionRequest {
	return &models.RedemptionRequest{
		ID:                requestID,
		InvestorID:        "inv-1",
		Status:            status,
		RequiredApprovals: 2,
		Approvers:         []models.Approver{{ID: "A", Approved: true, ApprovedAt: &s.now}, {ID: "B"}},
		RequestedAt:       s.now,
		UpdatedAt:         s.now,
		Version:           2,
	}
}

func (s *RedemptionHandlerSuite) TestCreate() {
	s.Run("valid body creates the request", func() {
		s.service.EXPECT().CreateRequest(gomock.Any(), service.CreateRequestInput{
			RequestID:         "R1",
			InvestorID:        "inv-1",
			Approvers:         []id.ApproverID{"A", "B"},
			RequiredApprovals: 2,
		}).Return(s.request("R1", models.StatusPending), nil)

		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/redemptions", map[string]any{
			"request_id":         "R1",
			"investor_id":        "inv-1",
			"approvers":          []string{"A", " B "},
			"required_approvals": 2,
		}))

		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		resp := testutil.UnmarshalResponse[RedemptionResponse](s.T(), rr)
		s.Equal("R1", resp.ID)
		s.Equal("Pending", resp.Status)
		s.Equal(1, resp.ApprovedCount)
		s.Len(resp.Approvers, 2)
	})

	s.Run("unknown fields are rejected before the service", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(s.T(), http.MethodPost, "/redemptions",
			`{"approvers":["A"],"required_approvals":1,"amount":100}`))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeInvalidArgument))
	})

	s.Run("missing approvers is invalid", func() {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/redemptions", map[string]any{
			"required_approvals": 1,
		}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeInvalidArgument))
	})
}

func (s *RedemptionHandlerSuite) TestGetAndList() {
	s.Run("missing request is 404", func() {
		s.service.EXPECT().Get(gomock.Any(), id.RequestID("nope")).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "redemption request not found"))

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/redemptions/nope"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, string(dErrors.CodeNotFound))
	})

	s.Run("list passes query filters", func() {
		s.service.EXPECT().List(gomock.Any(), store.ListFilter{InvestorID: "inv-1", Status: models.StatusApproved, Limit: 5}).
			Return([]*models.RedemptionRequest{s.request("R1", models.StatusApproved)}, nil)

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/redemptions?investor_id=inv-1&status=Approved&limit=5"))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[ListResponse](s.T(), rr)
		s.Equal(1, resp.Count)
	})

	s.Run("unknown status filter is 400", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/redemptions?status=Archived"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeInvalidArgument))
	})
}

func (s *RedemptionHandlerSuite) TestApprove() {
	s.Run("returns the request and its events", func() {
		updated := s.request("R1", models.StatusApproved)
		events := []models.Event{
			{Kind: models.EventApproved, Sequence: 3, Payload: models.Notification{Kind: models.EventApproved, Sequence: 3, ApproverID: "B"}},
			{Kind: models.EventQuorumReached, Sequence: 4, Payload: models.Notification{Kind: models.EventQuorumReached, Sequence: 4}},
		}
		s.service.EXPECT().Approve(gomock.Any(), id.RequestID("R1"), id.ApproverID("B")).Return(updated, events, nil)

		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/redemptions/R1/approve",
			map[string]string{"approver_id": "B"}))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[TransitionResponse](s.T(), rr)
		s.Equal("Approved", resp.Redemption.Status)
		s.Require().Len(resp.Events, 2)
		s.Equal(models.EventQuorumReached, resp.Events[1].Kind)
	})

	s.Run("already approved renders as informational conflict", func() {
		s.service.EXPECT().Approve(gomock.Any(), id.RequestID("R1"), id.ApproverID("A")).
			Return(nil, nil, dErrors.New(dErrors.CodeAlreadyApproved, "approver A has already approved"))

		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/redemptions/R1/approve",
			map[string]string{"approver_id": "A"}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, string(dErrors.CodeAlreadyApproved))
		s.Equal("info", testutil.UnmarshalErrorResponse(s.T(), rr)["severity"])
	})

	s.Run("exhausted retries are retryable", func() {
		s.service.EXPECT().Approve(gomock.Any(), id.RequestID("R1"), id.ApproverID("C")).
			Return(nil, nil, dErrors.New(dErrors.CodeExhausted, "request is too contended, retry later"))

		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/redemptions/R1/approve",
			map[string]string{"approver_id": "C"}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusServiceUnavailable, string(dErrors.CodeExhausted))
		s.NotEmpty(rr.Header().Get("Retry-After"))
	})

	s.Run("approver is required without authentication", func() {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/redemptions/R1/approve", map[string]string{}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeInvalidArgument))
	})

	s.Run("authenticated approver is used when the body omits it", func() {
		s.service.EXPECT().Approve(gomock.Any(), id.RequestID("R1"), id.ApproverID("B")).
			Return(s.request("R1", models.StatusApproved), nil, nil)

		req := testutil.WithApproverID(testutil.NewJSONRequest(s.T(), http.MethodPost, "/redemptions/R1/approve", map[string]string{}), "B")
		testutil.AssertStatusOK(s.T(), testutil.DoRequest(s.router, req))
	})

	s.Run("body approver must match the authenticated approver", func() {
		req := testutil.WithApproverID(testutil.NewJSONRequest(s.T(), http.MethodPost, "/redemptions/R1/approve",
			map[string]string{"approver_id": "A"}), "B")
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, string(dErrors.CodeNotAnApprover))
	})
}

func (s *RedemptionHandlerSuite) TestReject() {
	s.Run("blank reason never reaches the service", func() {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/redemptions/R2/reject",
			map[string]string{"approver_id": "A", "reason": "  "}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeInvalidArgument))
	})

	s.Run("finalized request is informational", func() {
		s.service.EXPECT().Reject(gomock.Any(), id.RequestID("R2"), id.ApproverID("B"), "late").
			Return(nil, nil, dErrors.New(dErrors.CodeAlreadyFinalized, "request is already Rejected"))

		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/redemptions/R2/reject",
			map[string]string{"approver_id": "B", "reason": "late"}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, string(dErrors.CodeAlreadyFinalized))
		s.Equal("info", testutil.UnmarshalErrorResponse(s.T(), rr)["severity"])
	})

	s.Run("rejection is returned", func() {
		rejected := s.request("R2", models.StatusRejected)
		rejected.Rejection = &models.Rejection{Reason: "KYC expired", RejectedBy: "A", RejectedAt: s.now}
		s.service.EXPECT().Reject(gomock.Any(), id.RequestID("R2"), id.ApproverID("A"), "KYC expired").
			Return(rejected, []models.Event{{Kind: models.EventRejected, Payload: models.Notification{Kind: models.EventRejected}}}, nil)

		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/redemptions/R2/reject",
			map[string]string{"approver_id": "A", "reason": "KYC expired"}))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[TransitionResponse](s.T(), rr)
		s.Require().NotNil(resp.Redemption.Rejection)
		s.Equal("A", resp.Redemption.Rejection.RejectedBy)
	})
}

func (s *RedemptionHandlerSuite) TestAdvance() {
	s.Run("illegal move is 422", func() {
		s.service.EXPECT().AdvanceLifecycle(gomock.Any(), id.RequestID("R1"), models.StatusCompleted).
			Return(nil, dErrors.New(dErrors.CodeInvalidTransition, "cannot move from Approved to Completed"))

		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/redemptions/R1/advance",
			map[string]string{"status": "Completed"}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, string(dErrors.CodeInvalidTransition))
	})

	s.Run("unknown status is 400", func() {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/redemptions/R1/advance",
			map[string]string{"status": "Settled"}))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})

	s.Run("internal errors hide their description", func() {
		s.service.EXPECT().AdvanceLifecycle(gomock.Any(), id.RequestID("R1"), models.StatusProcessing).
			Return(nil, dErrors.Wrap(context.DeadlineExceeded, dErrors.CodeInternal, "failed to update redemption request"))

		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/redemptions/R1/advance",
			map[string]string{"status": "Processing"}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusInternalServerError, string(dErrors.CodeInternal))
		s.Empty(testutil.UnmarshalErrorResponse(s.T(), rr)["error_description"])
	})
}

func TestStatusMappingMatchesErrorTaxonomy(t *testing.T) {
	cases := map[dErrors.Code]int{
		dErrors.CodeNotAnApprover:     http.StatusForbidden,
		dErrors.CodeInvalidTransition: http.StatusUnprocessableEntity,
		dErrors.CodeConflict:          http.StatusServiceUnavailable,
		dErrors.CodeUnauthorized:      http.StatusUnauthorized,
	}
	for code, want := range cases {
		if got := httputil.StatusFor(code); got != want {
			t.Fatalf("%s: expected %d, got %d", code, want, got)
		}
	}
}

func TestHandleAudit(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	reader := mocks.NewMockAuditReader(ctrl)

	h := New(svc, mocks.NewMockSubscriber(ctrl), nil, WithAuditReader(reader))
	r := chi.NewRouter()
	h.Register(r)

	t.Run("unknown redemption is 404", func(t *testing.T) {
		svc.EXPECT().Get(gomock.Any(), id.RequestID("R9")).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "redemption request not found"))
		rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/redemptions/R9/audit"))
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, string(dErrors.CodeNotFound))
	})

	t.Run("returns the trail in order", func(t *testing.T) {
		svc.EXPECT().Get(gomock.Any(), id.RequestID("R1")).Return(&models.RedemptionRequest{ID: "R1"}, nil)
		reader.EXPECT().List(gomock.Any(), id.RequestID("R1")).Return([]audit.Event{
			{ID: "e1", Action: string(audit.EventRedemptionCreated), Sequence: 1},
			{ID: "e2", Action: string(audit.EventRedemptionApproved), ActorID: "A", Sequence: 2},
		}, nil)

		rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/redemptions/R1/audit"))
		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[AuditResponse](t, rr)
		if len(resp.Events) != 2 || resp.Events[1].ActorID != "A" {
			t.Fatalf("unexpected audit trail: %+v", resp.Events)
		}
	})
}
