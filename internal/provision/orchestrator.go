// Package provision creates the pipeline's cloud resources in
// dependency order. Each provisioner owns one resource group, creates
// its resources if absent, and records the resulting identifiers in
// the state document.
package provision

import (
	"context"
	"fmt"

	"github.com/shuttlr-io/shuttlr/internal/logging"
	"github.com/shuttlr-io/shuttlr/internal/state"
)

// Provisioner creates one resource group. Provision must be
// idempotent: re-running against already-created resources records
// their identifiers and succeeds without issuing creation calls.
type Provisioner interface {
	// Name identifies the group in logs and status output.
	Name() string
	// StatusKeys lists the deployment status keys the group owns.
	StatusKeys() []string
	// Provision creates the group's resources and fills identifiers
	// into doc. On failure the owning status keys are set to failed.
	Provision(ctx context.Context, doc *state.Document) error
}

// Orchestrator runs provisioners in dependency order against a shared
// state store. Its failure policy is fail-fast: the first group error
// halts the run with the document persisted as of the failure. The
// decommissioner deliberately uses the opposite, best-effort policy.
type Orchestrator struct {
	store        *state.Store
	provisioners []Provisioner
}

// NewOrchestrator wires the standard four groups in order.
func NewOrchestrator(store *state.Store, provisioners ...Provisioner) *Orchestrator {
	return &Orchestrator{store: store, provisioners: provisioners}
}

// Deploy runs every provisioner whose status keys are not already
// completed, persisting the document after each group. Groups already
// completed are skipped without invoking their provisioner.
func (o *Orchestrator) Deploy(ctx context.Context) error {
	doc, err := o.store.Load()
	if err != nil {
		return err
	}

	if err := o.store.Lock(); err != nil {
		return err
	}
	defer o.store.Unlock()

	for _, p := range o.provisioners {
		if doc.Completed(p.StatusKeys()...) {
			logging.Info("group already completed, skipping", "group", p.Name())
			continue
		}

		logging.Info("provisioning group", "group", p.Name())
		provErr := p.Provision(ctx, doc)

		doc.TouchLastRun()
		if saveErr := o.store.Save(doc); saveErr != nil {
			if provErr != nil {
				return fmt.Errorf("%s failed (%v); saving state also failed: %w", p.Name(), provErr, saveErr)
			}
			return saveErr
		}

		if provErr != nil {
			return fmt.Errorf("provisioning %s: %w", p.Name(), provErr)
		}
		logging.Info("group completed", "group", p.Name())
	}

	doc.TouchLastRun()
	return o.store.Save(doc)
}
