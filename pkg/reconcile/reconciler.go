package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/easzlab/fbxrules/pkg/freebox"
	"github.com/easzlab/fbxrules/pkg/rules"
	"go.uber.org/zap"
)

// Reconciler applies desired rules to the device: fetch, match, and create only
// when no equivalent rule exists. It never updates or deletes.
type Reconciler struct {
	logger   *zap.Logger
	recorder Recorder
}

// NewReconciler creates a Reconciler. recorder may be nil.
func NewReconciler(logger *zap.Logger, recorder Recorder) *Reconciler {
	return &Reconciler{
		logger:   logger,
		recorder: recorder,
	}
}

// EnsureLease makes sure a static lease for rule.MAC exists.
// Any returned error is prefixed with "Error configuring DHCP" and keeps the cause in its chain.
func (r *Reconciler) EnsureLease(ctx context.Context, store LeaseStore, rule rules.DhcpLeaseRule) (Outcome, error) {
	outcome, err := r.ensureLease(ctx, store, rule)
	if err != nil {
		outcome = Failed
		err = fmt.Errorf("Error configuring DHCP: %w", err)
	}
	r.record(KindDHCP, outcome)
	return outcome, err
}

func (r *Reconciler) ensureLease(ctx context.Context, store LeaseStore, rule rules.DhcpLeaseRule) (Outcome, error) {
	if err := rule.Validate(); err != nil {
		return Failed, err
	}

	leases, err := store.ListStaticLeases(ctx)
	if err != nil {
		return Failed, fmt.Errorf("failed to list static leases: %w", err)
	}

	if rules.LeaseExists(rule, leases) {
		r.logger.Debug("static lease already present",
			zap.String("mac", rule.MAC),
			zap.Int("existing_leases", len(leases)),
		)
		return Unchanged, nil
	}

	created, err := store.CreateStaticLease(ctx, rule.ToStaticLease())
	if err != nil {
		return Failed, createError("static DHCP", err)
	}
	if created == nil || created.MAC == "" {
		return Failed, fmt.Errorf("failed to configure static DHCP: %w", ErrNotAcknowledged)
	}

	r.logger.Info("created static lease",
		zap.String("mac", created.MAC),
		zap.String("ip", rule.IP),
	)
	return Created, nil
}

// EnsurePortForward makes sure a port forwarding rule with rule's identity tuple exists.
// Any returned error is prefixed with "Error configuring NAT" and keeps the cause in its chain.
func (r *Reconciler) EnsurePortForward(ctx context.Context, store PortForwardStore, rule rules.NatRule) (Outcome, error) {
	outcome, err := r.ensurePortForward(ctx, store, rule)
	if err != nil {
		outcome = Failed
		err = fmt.Errorf("Error configuring NAT: %w", err)
	}
	r.record(KindNAT, outcome)
	return outcome, err
}

func (r *Reconciler) ensurePortForward(ctx context.Context, store PortForwardStore, rule rules.NatRule) (Outcome, error) {
	if err := rule.Validate(); err != nil {
		return Failed, err
	}

	redirs, err := store.ListPortForwards(ctx)
	if err != nil {
		return Failed, fmt.Errorf("failed to list port forwarding rules: %w", err)
	}

	if rules.PortForwardExists(rule, redirs) {
		r.logger.Debug("port forwarding rule already present",
			zap.Stringer("rule", rule.Key()),
			zap.Int("existing_rules", len(redirs)),
		)
		return Unchanged, nil
	}

	created, err := store.CreatePortForward(ctx, rule.ToPortForward())
	if err != nil {
		return Failed, createError("NAT rule", err)
	}
	if created == nil || created.Enabled == nil {
		return Failed, fmt.Errorf("failed to configure NAT rule: %w", ErrNotAcknowledged)
	}

	r.logger.Info("created port forwarding rule",
		zap.Stringer("rule", rule.Key()),
		zap.Int("id", created.ID),
		zap.Bool("enabled", *created.Enabled),
	)
	return Created, nil
}

// createError separates a refusal reported by the device, which carries its own
// message, from a failed exchange.
func createError(what string, err error) error {
	var (
		transportErr *freebox.TransportError
		apiErr       *freebox.APIError
	)
	if !errors.As(err, &transportErr) && errors.As(err, &apiErr) {
		return fmt.Errorf("failed to configure %s: %w", what, err)
	}
	return fmt.Errorf("failed to create %s: %w", what, err)
}

func (r *Reconciler) record(kind string, outcome Outcome) {
	if r.recorder != nil {
		r.recorder.RecordOutcome(kind, outcome.String())
	}
}
