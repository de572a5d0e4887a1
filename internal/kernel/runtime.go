package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"msgwatch/pkg/msgwatch"
)

// moduleRecord stores a registered module and the subscriptions it owns.
type moduleRecord struct {
	name          string
	module        msgwatch.Module
	subscriptions []msgwatch.Subscription
	subMu         sync.Mutex
}

func (m *moduleRecord) addSubscription(subscription msgwatch.Subscription) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subscriptions = append(m.subscriptions, subscription)
}

// closeSubscriptions closes all tracked subscriptions and aggregates close errors.
// The slice is cleared first so repeated shutdown paths are idempotent.
func (m *moduleRecord) closeSubscriptions(ctx context.Context) error {
	m.subMu.Lock()
	subscriptions := m.subscriptions
	m.subscriptions = nil
	m.subMu.Unlock()

	var closeErr error
	for _, subscription := range subscriptions {
		if err := subscription.Close(ctx); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close subscription %s: %w", subscription.Name(), err))
		}
	}

	return closeErr
}

// moduleRuntime is the kernel-owned implementation of msgwatch.ModuleRuntime.
type moduleRuntime struct {
	moduleName string
	services   msgwatch.ServiceRegistry
	bus        msgwatch.EventBus
	record     *moduleRecord
}

// Services returns the kernel service registry visible to the module.
func (r *moduleRuntime) Services() msgwatch.ServiceRegistry {
	return r.services
}

// Subscribe registers a module-owned subscription that is closed on module shutdown.
func (r *moduleRuntime) Subscribe(
	ctx context.Context,
	spec msgwatch.SubscriptionSpec,
	handler msgwatch.EventHandler,
) (msgwatch.Subscription, error) {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("%s-subscription-%d", r.moduleName, r.record.subscriptionCount()+1)
	}

	subscription, err := r.bus.Subscribe(ctx, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, err)
	}

	r.record.addSubscription(subscription)

	return subscription, nil
}

func (m *moduleRecord) subscriptionCount() int {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	return len(m.subscriptions)
}
