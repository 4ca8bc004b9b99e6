// Package recovery restores in-process work lost when the service restarts.
// Components register as Recoverable and are run once at startup.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/TarotPipe/internal/models"
	"github.com/BTreeMap/TarotPipe/internal/store"
)

// Recoverable defines the interface for components that can recover their state
type Recoverable interface {
	// RecoverState is called during application startup to restore component state
	RecoverState(ctx context.Context, registry *Registry) error
}

// FulfillmentFunc re-arms delivery of a paid reading for state.
type FulfillmentFunc func(state *models.ConversationState) error

// Registry provides services that components can use during recovery
type Registry struct {
	store           store.ConversationStore
	fulfillmentFunc FulfillmentFunc
}

// NewRegistry creates a new recovery registry
func NewRegistry(st store.ConversationStore) *Registry {
	return &Registry{store: st}
}

// RegisterFulfillmentRecovery registers the callback that reschedules readings
func (r *Registry) RegisterFulfillmentRecovery(fn FulfillmentFunc) {
	r.fulfillmentFunc = fn
}

// RecoverFulfillment requests a new delivery of the reading for state
func (r *Registry) RecoverFulfillment(state *models.ConversationState) error {
	if r.fulfillmentFunc == nil {
		return fmt.Errorf("no fulfillment recovery handler registered")
	}
	return r.fulfillmentFunc(state)
}

// Store provides access to the conversation store for recovery operations
func (r *Registry) Store() store.ConversationStore {
	return r.store
}

// Manager orchestrates recovery of all registered components
type Manager struct {
	registry     *Registry
	recoverables []Recoverable
}

// NewManager creates a new recovery manager
func NewManager(st store.ConversationStore) *Manager {
	return &Manager{registry: NewRegistry(st)}
}

// RegisterRecoverable adds a component that can be recovered
func (m *Manager) RegisterRecoverable(r Recoverable) {
	m.recoverables = append(m.recoverables, r)
}

// RegisterFulfillmentRecovery registers the fulfillment recovery infrastructure
func (m *Manager) RegisterFulfillmentRecovery(fn FulfillmentFunc) {
	m.registry.RegisterFulfillmentRecovery(fn)
}

// RecoverAll runs every registered component. A failing component does not
// stop the others.
func (m *Manager) RecoverAll(ctx context.Context) error {
	slog.Info("Recovery.RecoverAll: starting", "components", len(m.recoverables))

	recovered, failed := 0, 0
	for _, r := range m.recoverables {
		if err := r.RecoverState(ctx, m.registry); err != nil {
			slog.Error("Recovery.RecoverAll: component failed", "error", err, "component", fmt.Sprintf("%T", r))
			failed++
			continue
		}
		recovered++
	}

	slog.Info("Recovery.RecoverAll: completed", "recovered", recovered, "errors", failed)
	if failed > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", failed, len(m.recoverables))
	}
	return nil
}

// Registry provides access to the recovery registry for infrastructure setup
func (m *Manager) Registry() *Registry {
	return m.registry
}
