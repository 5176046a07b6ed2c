package orchestrator

import (
	"context"

	"packagemanager/internal/apperrors"
)

// RestartExpectation restarts one expectation.
func (o *Orchestrator) RestartExpectation(ctx context.Context, id string) error {
	return o.manager.Restart(ctx, id)
}

// RestartAllExpectations restarts every non-terminal expectation.
func (o *Orchestrator) RestartAllExpectations(ctx context.Context) {
	o.manager.RestartAll(ctx)
}

// AbortExpectation aborts one expectation.
func (o *Orchestrator) AbortExpectation(ctx context.Context, id string) error {
	return o.manager.Abort(ctx, id)
}

// RestartPackageContainer re-runs the setup of a container expectation.
func (o *Orchestrator) RestartPackageContainer(ctx context.Context, containerID string) error {
	return o.manager.RestartContainer(ctx, containerID)
}

// KillWorkerProcess kills a worker app on whichever host runs it. The
// matcher replaces it on its next pass when it is still needed.
func (o *Orchestrator) KillWorkerProcess(ctx context.Context, appID string) error {
	if o.matcher == nil {
		return apperrors.Unsupported("kill worker process", "no workforce configured")
	}
	if err := o.matcher.KillApp(ctx, appID); err != nil {
		return err
	}
	o.logger.Info("Worker process killed", "appId", appID)
	return nil
}
