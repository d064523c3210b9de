package redemption

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	GET(path string, headers map[string]string) error
	GetLastStatusCode() int
	GetLastResponseBody() []byte
	GetResponseField(field string) (interface{}, error)
	RequestID(alias string) string
}

// RegisterSteps registers redemption lifecycle step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &redemptionSteps{tc: tc}

	ctx.Step(`^a redemption "([^"]*)" with approvers "([^"]*)" requiring (\d+) approvals?$`, steps.createRedemption)
	ctx.Step(`^approver "([^"]*)" approves "([^"]*)"$`, steps.approve)
	ctx.Step(`^approver "([^"]*)" rejects "([^"]*)" because "([^"]*)"$`, steps.reject)
	ctx.Step(`^"([^"]*)" is advanced to "([^"]*)"$`, steps.advance)

	ctx.Step(`^"([^"]*)" should have status "([^"]*)" with (\d+) approvals?$`, steps.shouldHaveStatus)
	ctx.Step(`^the returned events should be "([^"]*)"$`, steps.returnedEventsShouldBe)
	ctx.Step(`^the error should be "([^"]*)" with severity "([^"]*)"$`, steps.errorShouldBe)
	ctx.Step(`^the error should be "([^"]*)"$`, steps.errorCodeShouldBe)
}

type redemptionSteps struct {
	tc TestContext
}

func (s *redemptionSteps) createRedemption(ctx context.Context, alias, approvers string, required int) error {
	body := map[string]interface{}{
		"request_id":         s.tc.RequestID(alias),
		"investor_id":        "e2e-investor",
		"approvers":          strings.Split(approvers, ","),
		"required_approvals": required,
	}
	if err := s.tc.POST("/redemptions", body); err != nil {
		return err
	}
	if s.tc.GetLastStatusCode() != 201 {
		return fmt.Errorf("create %s: status %d: %s", alias, s.tc.GetLastStatusCode(), s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *redemptionSteps) approve(ctx context.Context, approver, alias string) error {
	return s.tc.POST("/redemptions/"+s.tc.RequestID(alias)+"/approve", map[string]string{"approver_id": approver})
}

func (s *redemptionSteps) reject(ctx context.Context, approver, alias, reason string) error {
	return s.tc.POST("/redemptions/"+s.tc.RequestID(alias)+"/reject", map[string]string{
		"approver_id": approver,
		"reason":      reason,
	})
}

func (s *redemptionSteps) advance(ctx context.Context, alias, status string) error {
	return s.tc.POST("/redemptions/"+s.tc.RequestID(alias)+"/advance", map[string]string{"status": status})
}

func (s *redemptionSteps) shouldHaveStatus(ctx context.Context, alias, status string, approvals int) error {
	if err := s.tc.GET("/redemptions/"+s.tc.RequestID(alias), nil); err != nil {
		return err
	}
	var resp struct {
		Status        string `json:"status"`
		ApprovedCount int    `json:"approved_count"`
	}
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &resp); err != nil {
		return err
	}
	if resp.Status != status || resp.ApprovedCount != approvals {
		return fmt.Errorf("expected %s with %d approvals, got %s with %d", status, approvals, resp.Status, resp.ApprovedCount)
	}
	return nil
}

func (s *redemptionSteps) returnedEventsShouldBe(ctx context.Context, kinds string) error {
	var resp struct {
		Events []struct {
			Kind string `json:"kind"`
		} `json:"events"`
	}
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &resp); err != nil {
		return err
	}
	got := make([]string, len(resp.Events))
	for i, ev := range resp.Events {
		got[i] = ev.Kind
	}
	if strings.Join(got, ",") != kinds {
		return fmt.Errorf("expected events %s, got %s", kinds, strings.Join(got, ","))
	}
	return nil
}

func (s *redemptionSteps) errorCodeShouldBe(ctx context.Context, code string) error {
	v, err := s.tc.GetResponseField("error")
	if err != nil {
		return err
	}
	if v != code {
		return fmt.Errorf("expected error %q, got %v", code, v)
	}
	return nil
}

func (s *redemptionSteps) errorShouldBe(ctx context.Context, code, severity string) error {
	if err := s.errorCodeShouldBe(ctx, code); err != nil {
		return err
	}
	v, err := s.tc.GetResponseField("severity")
	if err != nil {
		return err
	}
	if v != severity {
		return fmt.Errorf("expected severity %q, got %v", severity, v)
	}
	return nil
}
