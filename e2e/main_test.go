package e2e

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/cucumber/godog"
)

func TestFeatures(t *testing.T) {
	tc := NewTestContext()
	if os.Getenv("REDEEM_E2E_BASE_URL") == "" && !reachable(tc.BaseURL) {
		t.Skip("no server at " + tc.BaseURL + "; set REDEEM_E2E_BASE_URL to run e2e scenarios")
	}

	suite := godog.TestSuite{
		ScenarioInitializer: func(ctx *godog.ScenarioContext) {
			ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
				tc.Reset()
				return ctx, nil
			})
			RegisterSteps(ctx, tc)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("e2e scenarios failed")
	}
}

func reachable(base string) bool {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(base + "/healthz")
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
