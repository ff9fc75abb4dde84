package client

import (
	"context"

	"github.com/rzbill/relay/pkg/client/transports"
	"github.com/rzbill/relay/pkg/report"
)

// StepOptions configures a nested step scope.
type StepOptions struct {
	ContextKey  string
	Description string
	Parameters  []transports.Parameter
}

// Step runs fn inside a nested step: a synthetic step item without
// execution statistics is started under the current item, fn runs, and the
// step finishes with PASSED, or FAILED when fn returns an error or panics.
// The step is popped exactly once on every path; panics propagate after
// the failure is reported.
func (c *Client) Step(ctx context.Context, name string, opts StepOptions, fn func(context.Context) error) (err error) {
	h := c.StartItem(ctx, StartItemOptions{
		ContextKey:  opts.ContextKey,
		Name:        name,
		Type:        report.ItemTypeStep,
		Description: opts.Description,
		Parameters:  opts.Parameters,
		NoStats:     true,
	})

	defer func() {
		status := report.StatusPassed
		if r := recover(); r != nil {
			c.FinishItem(ctx, FinishItemOptions{
				ContextKey: opts.ContextKey,
				Item:       h,
				Status:     report.StatusFailed,
			})
			panic(r)
		}
		if err != nil {
			status = report.StatusFailed
		}
		c.FinishItem(ctx, FinishItemOptions{
			ContextKey: opts.ContextKey,
			Item:       h,
			Status:     status,
		})
	}()

	return fn(ctx)
}
