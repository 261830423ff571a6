package driven

import "context"

// NetworkSource is the platform's reachability event source.
type NetworkSource interface {
	// Current returns the reachability at this instant.
	Current(ctx context.Context) (connected bool, err error)

	// Subscribe registers fn for reachability reports. Reports may repeat
	// the same value; deduplication is the caller's job.
	// The returned function removes the subscription.
	Subscribe(fn func(connected bool)) (unsubscribe func(), err error)
}

// ConnectivityReader is a synchronous view of the last known reachability.
type ConnectivityReader interface {
	IsNetworkConnected() bool
}
