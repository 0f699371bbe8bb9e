package ports

import "context"

// Notifier delivers an alert for a hit to an external channel (chat webhook).
// Implementations own their retry policy; a returned error means delivery
// was abandoned.
type Notifier interface {
	Notify(ctx context.Context, hit *Hit) error
}
