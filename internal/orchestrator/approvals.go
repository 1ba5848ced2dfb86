package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mesutfelat/cowork-oss-sub009/internal/models"
	"go.uber.org/zap"
)

type approvalOutcome struct {
	approved bool
	err      error
}

type pendingApproval struct {
	approval models.Approval
	// result is buffered so the resolver never blocks on a departed waiter.
	result chan approvalOutcome
	timer  *time.Timer
}

// RequestApproval persists a pending approval and blocks until a user
// responds, the approval times out, or ctx is done. It returns true only
// when the request was approved; denial and timeout return false with
// ErrApprovalDenied or ErrApprovalTimeout.
func (o *Orchestrator) RequestApproval(ctx context.Context, taskID, approvalType, description string, details any) (bool, error) {
	raw, err := encodePayload(details)
	if err != nil {
		return false, fmt.Errorf("encode approval details: %w", err)
	}

	a, err := o.store.CreateApproval(ctx, taskID, approvalType, description, raw)
	if err != nil {
		return false, fmt.Errorf("create approval: %w", err)
	}

	p := &pendingApproval{
		approval: *a,
		result:   make(chan approvalOutcome, 1),
	}

	o.mu.Lock()
	if o.shutdown {
		o.mu.Unlock()
		o.persistResolution(context.Background(), a.ID, models.ApprovalStatusDenied)
		return false, ErrShuttingDown
	}
	o.pending[a.ID] = p
	// Armed under the lock so expire always finds p.timer set.
	p.timer = time.AfterFunc(o.approvalTimeout, func() { o.expire(a.ID) })
	o.mu.Unlock()

	o.log.Info("approval requested",
		zap.String("task_id", taskID),
		zap.String("approval_id", a.ID),
		zap.String("type", approvalType))

	if err := o.LogEvent(ctx, taskID, models.EventApprovalRequested, models.ApprovalPayload{
		ApprovalID:  a.ID,
		Type:        approvalType,
		Description: description,
		Details:     raw,
	}); err != nil {
		o.log.Warn("log approval request", zap.String("approval_id", a.ID), zap.Error(err))
	}

	select {
	case out := <-p.result:
		return out.approved, out.err
	case <-ctx.Done():
		if o.take(a.ID) != nil {
			o.resolve(context.Background(), p, false, "request cancelled", ctx.Err())
			return false, ctx.Err()
		}
		// A response or timeout consumed the entry first and is delivering.
		out := <-p.result
		return out.approved, out.err
	}
}

// RespondToApproval resolves a pending approval. Responding to an unknown,
// already-resolved or expired approval is a silent no-op.
func (o *Orchestrator) RespondToApproval(ctx context.Context, approvalID string, approved bool) error {
	// The waiter is woken regardless of the caller going away.
	ctx = context.WithoutCancel(ctx)
	p := o.take(approvalID)
	if p == nil {
		o.log.Debug("approval response ignored", zap.String("approval_id", approvalID))
		return nil
	}

	if approved {
		o.resolve(ctx, p, true, "", nil)
	} else {
		o.resolve(ctx, p, false, "denied by user", ErrApprovalDenied)
	}
	return nil
}

// PendingApprovals returns the approvals still waiting for a response, oldest first.
func (o *Orchestrator) PendingApprovals() []models.Approval {
	o.mu.Lock()
	out := make([]models.Approval, 0, len(o.pending))
	for _, p := range o.pending {
		out = append(out, p.approval)
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}

func (o *Orchestrator) expire(approvalID string) {
	p := o.take(approvalID)
	if p == nil {
		return
	}
	o.log.Warn("approval timed out",
		zap.String("task_id", p.approval.TaskID),
		zap.String("approval_id", approvalID),
		zap.Duration("timeout", o.approvalTimeout))
	o.resolve(context.Background(), p, false, "timed out", ErrApprovalTimeout)
}

// take removes and returns the pending entry for approvalID. Exactly one
// caller can obtain a given entry, which makes resolution at-most-once.
func (o *Orchestrator) take(approvalID string) *pendingApproval {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.pending[approvalID]
	if !ok {
		return nil
	}
	delete(o.pending, approvalID)
	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}

// resolve persists and announces the outcome of an approval already taken
// from the pending index, then wakes the waiter.
func (o *Orchestrator) resolve(ctx context.Context, p *pendingApproval, approved bool, reason string, waitErr error) {
	status := models.ApprovalStatusDenied
	eventType := models.EventApprovalDenied
	if approved {
		status = models.ApprovalStatusApproved
		eventType = models.EventApprovalGranted
	}

	o.persistResolution(ctx, p.approval.ID, status)

	if err := o.LogEvent(ctx, p.approval.TaskID, eventType, models.ApprovalPayload{
		ApprovalID: p.approval.ID,
		Type:       p.approval.Type,
		Reason:     reason,
	}); err != nil {
		o.log.Warn("log approval resolution", zap.String("approval_id", p.approval.ID), zap.Error(err))
	}

	o.log.Info("approval resolved",
		zap.String("approval_id", p.approval.ID),
		zap.String("status", string(status)))

	p.result <- approvalOutcome{approved: approved, err: waitErr}
}

func (o *Orchestrator) persistResolution(ctx context.Context, approvalID string, status models.ApprovalStatus) {
	if err := o.store.ResolveApproval(ctx, approvalID, status); err != nil {
		o.log.Error("persist approval resolution",
			zap.String("approval_id", approvalID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}
