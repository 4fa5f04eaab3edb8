package tfs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// waitForServicing polls a servicing job until it finishes and fails
// unless it succeeded.
func (c *Controller) waitForServicing(ctx context.Context, job *ServicingJob) (*ServicingJob, error) {
	current := job
	b := retry.WithMaxDuration(c.opts.ServicingTimeout, retry.NewConstant(c.opts.PollInterval))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if current.Done() {
			return nil
		}
		var next *ServicingJob
		err := c.call(ctx, "GetServicingJob", func(ctx context.Context) error {
			var err error
			next, err = c.servicer.GetServicingJob(ctx, job.CollectionID, job.ID)
			return err
		})
		if err != nil {
			if permanent(err) {
				return err
			}
			return retry.RetryableError(err)
		}
		current = next
		if !current.Done() {
			c.logger.Debug("servicing job still running",
				zap.String("job", job.ID.String()),
				zap.String("status", current.Status))
			return retry.RetryableError(fmt.Errorf("servicing job %s is %s", job.ID, current.Status))
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if permanent(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: servicing job %s: %v", ErrTimeout, job.ID, err)
	}

	if !current.Succeeded() {
		return current, fmt.Errorf("%w: job %s ended %s: %s", ErrServicingFailed, current.ID, current.Result, current.Message)
	}
	return current, nil
}

// waitForOperation polls a project creation until it finishes and fails
// unless it succeeded.
func (c *Controller) waitForOperation(ctx context.Context, collection string, id uuid.UUID) error {
	var current *Operation
	b := retry.WithMaxDuration(c.opts.OperationTimeout, retry.NewConstant(c.opts.PollInterval))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := c.call(ctx, "GetOperation", func(ctx context.Context) error {
			var err error
			current, err = c.server.GetOperation(ctx, collection, id)
			return err
		})
		if err != nil {
			if permanent(err) {
				return err
			}
			return retry.RetryableError(err)
		}
		if !current.Done() {
			return retry.RetryableError(fmt.Errorf("operation %s is %s", id, current.Status))
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if permanent(err) {
			return err
		}
		return fmt.Errorf("%w: operation %s: %v", ErrTimeout, id, err)
	}

	if current.Status != OperationSucceeded {
		return fmt.Errorf("%w: operation %s %s: %s", ErrOperationFailed, id, current.Status, current.Message)
	}
	return nil
}

// permanent reports whether a polling error will not go away by asking
// again: rejected credentials, or a fault raised by the service.
func permanent(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrServicingFailed) ||
		errors.Is(err, ErrOperationFailed)
}
