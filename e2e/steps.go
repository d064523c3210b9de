package e2e

import (
	"github.com/cucumber/godog"

	"redeem/e2e/steps/common"
	"redeem/e2e/steps/redemption"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (generic requests, status assertions)
	common.RegisterSteps(ctx, tc)

	// Register redemption lifecycle steps
	redemption.RegisterSteps(ctx, tc)
}
