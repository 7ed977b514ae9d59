// Package connectivity supplies the connected/restored signal that gates
// cache warm cycles. The cache core consumes the Gate interface; Watcher
// is the probe-based implementation wired in by the composition root.
package connectivity

// Gate answers synchronous connectivity queries and delivers restoration
// notifications. Implementations must never block the subscriber: callbacks
// run on their own goroutine.
type Gate interface {
	// Connected reports whether the network is currently reachable
	Connected() bool

	// OnRestored registers a one-shot callback fired the next time
	// connectivity is restored. The returned subscription revokes it.
	OnRestored(fn func()) Subscription
}

// Subscription is a cancellable handle for a restoration callback.
// Cancel is idempotent and safe after the callback has fired.
type Subscription interface {
	Cancel()
}
