// Package apply runs reconciliations against a freshly opened device session
// and turns their outcomes into reportable results.
package apply

import (
	"context"
	"errors"
	"fmt"

	"github.com/easzlab/fbxrules/pkg/reconcile"
	"github.com/easzlab/fbxrules/pkg/rules"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Applier scopes one session to each invocation or pass and releases it on every path.
type Applier struct {
	opener     Opener
	reconciler *reconcile.Reconciler
	logger     *zap.Logger
}

// New creates an Applier.
func New(opener Opener, reconciler *reconcile.Reconciler, logger *zap.Logger) *Applier {
	return &Applier{
		opener:     opener,
		reconciler: reconciler,
		logger:     logger,
	}
}

// Lease reconciles a single static lease. The returned error, if any, is also
// carried in the result message.
func (a *Applier) Lease(ctx context.Context, rule rules.DhcpLeaseRule) (*LeaseResult, error) {
	logger := a.logger.With(zap.String("run_id", uuid.NewString()))

	outcome, err := a.ensureLease(ctx, logger, rule)
	logger.Info("static lease reconciled",
		zap.String("mac", rule.MAC),
		zap.Stringer("outcome", outcome),
		zap.Error(err),
	)
	result := newLeaseResult(rule, outcome, err)
	return &result, err
}

func (a *Applier) ensureLease(ctx context.Context, logger *zap.Logger, rule rules.DhcpLeaseRule) (reconcile.Outcome, error) {
	// Reject bad input before touching the network.
	if err := rule.Validate(); err != nil {
		return reconcile.Failed, fmt.Errorf("Error configuring DHCP: %w", err)
	}
	session, err := a.open(ctx)
	if err != nil {
		return reconcile.Failed, fmt.Errorf("Error configuring DHCP: %w", err)
	}
	defer a.release(ctx, logger, session)

	return a.reconciler.EnsureLease(ctx, session, rule)
}

// PortForward reconciles a single port forwarding rule.
func (a *Applier) PortForward(ctx context.Context, rule rules.NatRule) (*NatResult, error) {
	logger := a.logger.With(zap.String("run_id", uuid.NewString()))

	outcome, err := a.ensurePortForward(ctx, logger, rule)
	logger.Info("port forwarding rule reconciled",
		zap.Stringer("rule", rule.Key()),
		zap.Stringer("outcome", outcome),
		zap.Error(err),
	)
	result := newNatResult(rule, outcome, err)
	return &result, err
}

func (a *Applier) ensurePortForward(ctx context.Context, logger *zap.Logger, rule rules.NatRule) (reconcile.Outcome, error) {
	if err := rule.Validate(); err != nil {
		return reconcile.Failed, fmt.Errorf("Error configuring NAT: %w", err)
	}
	session, err := a.open(ctx)
	if err != nil {
		return reconcile.Failed, fmt.Errorf("Error configuring NAT: %w", err)
	}
	defer a.release(ctx, logger, session)

	return a.reconciler.EnsurePortForward(ctx, session, rule)
}

// All reconciles every lease and port forward in one session, continuing past
// individual failures. The returned error joins every rule error.
func (a *Applier) All(ctx context.Context, leases []rules.DhcpLeaseRule, redirs []rules.NatRule) (*Summary, error) {
	summary := &Summary{
		RunID:        uuid.NewString(),
		DHCPLeases:   make([]LeaseResult, 0, len(leases)),
		PortForwards: make([]NatResult, 0, len(redirs)),
	}
	logger := a.logger.With(zap.String("run_id", summary.RunID))

	session, err := a.open(ctx)
	if err != nil {
		summary.Failed = true
		summary.Errors = len(leases) + len(redirs)
		logger.Error("reconcile pass aborted", zap.Error(err))
		return summary, err
	}
	defer a.release(ctx, logger, session)

	var errs []error
	for _, rule := range leases {
		if ctx.Err() != nil {
			break
		}
		outcome, err := a.reconciler.EnsureLease(ctx, session, rule)
		if err != nil {
			errs = append(errs, err)
		}
		summary.count(outcome)
		summary.DHCPLeases = append(summary.DHCPLeases, newLeaseResult(rule, outcome, err))
	}
	for _, rule := range redirs {
		if ctx.Err() != nil {
			break
		}
		outcome, err := a.reconciler.EnsurePortForward(ctx, session, rule)
		if err != nil {
			errs = append(errs, err)
		}
		summary.count(outcome)
		summary.PortForwards = append(summary.PortForwards, newNatResult(rule, outcome, err))
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, fmt.Errorf("pass interrupted: %w", err))
	}

	joined := errors.Join(errs...)
	if joined != nil {
		summary.Failed = true
	}
	logger.Info("reconcile pass finished",
		zap.Int("created", summary.Created),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("failed", summary.Errors),
	)
	return summary, joined
}

func (a *Applier) open(ctx context.Context) (Session, error) {
	session, err := a.opener.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	return session, nil
}

// release closes session even when ctx is already canceled. A failure to close
// is logged and does not change the outcome.
func (a *Applier) release(ctx context.Context, logger *zap.Logger, session Session) {
	if err := session.Close(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("failed to close device session", zap.Error(err))
	}
}
