package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
)

// Scheduler implements ports.NormalizationScheduler by starting
// NormalizeGeometryWorkflow on a Temporal task queue.
type Scheduler struct {
	client    client.Client
	taskQueue string
}

// NewScheduler creates a new Scheduler.
func NewScheduler(c client.Client, taskQueue string) *Scheduler {
	return &Scheduler{client: c, taskQueue: taskQueue}
}

// WorkflowID is one id per rule so concurrent edits collapse into one run.
func WorkflowID(ruleID string) string { return "normalize-" + ruleID }

// ScheduleNormalization starts the workflow, or joins the run already in progress.
func (s *Scheduler) ScheduleNormalization(ctx context.Context, ruleID string) error {
	_, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(ruleID),
		TaskQueue: s.taskQueue,
	}, NormalizeGeometryWorkflow, NormalizeInput{RuleID: ruleID})
	if err != nil {
		return fmt.Errorf("start normalisation of %s: %w", ruleID, err)
	}
	return nil
}
