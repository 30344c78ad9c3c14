package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// NormalizeInput is the input for the normalisation workflow.
type NormalizeInput struct {
	RuleID string
}

// NormalizeResult reports what the workflow did.
type NormalizeResult struct {
	RuleID     string
	Changed    bool
	Normalized string
}

// NormalizeGeometryWorkflow rewrites a rule's stored geometry into canonical
// WKT and announces the change. If the announcement fails the previous
// geometry is restored (saga compensation).
func NormalizeGeometryWorkflow(ctx workflow.Context, input NormalizeInput) (NormalizeResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting normalisation workflow", "ruleID", input.RuleID)

	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)
	result := NormalizeResult{RuleID: input.RuleID}

	// Step 1: load, normalise, save
	var outcome NormalizeOutcome
	err := workflow.ExecuteActivity(ctx, "NormalizeRuleGeometry", input.RuleID).Get(ctx, &outcome)
	if err != nil {
		return result, err
	}
	result.Normalized = outcome.Normalized
	if !outcome.Changed {
		logger.Info("Geometry already canonical", "ruleID", input.RuleID)
		return result, nil
	}
	result.Changed = true

	// Step 2: publish
	err = workflow.ExecuteActivity(ctx, "AnnounceNormalized", input.RuleID).Get(ctx, nil)
	if err != nil {
		logger.Warn("announcement failed, restoring geometry", "error", err)
		// Compensate: put the previous text back
		_ = workflow.ExecuteActivity(ctx, "RestoreRuleGeometry", input.RuleID, outcome.Previous).Get(ctx, nil)
		return NormalizeResult{RuleID: input.RuleID}, err
	}

	logger.Info("Geometry normalised", "ruleID", input.RuleID)
	return result, nil
}
