package driving

import "context"

// ConnectivityMonitor tracks device reachability and notifies listeners on
// transitions only.
type ConnectivityMonitor interface {
	// Initialize reads the current reachability and subscribes to changes.
	// Calling it again replaces the previous subscription.
	Initialize(ctx context.Context) error

	// Cleanup removes the platform subscription. Safe when not initialized.
	Cleanup()

	// AddListener registers fn, calls it once with the current state and
	// returns a function that removes it.
	AddListener(fn func(connected bool)) (unsubscribe func())

	// IsNetworkConnected returns the last known state without probing.
	IsNetworkConnected() bool
}
