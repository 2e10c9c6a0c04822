package publish

import "context"

// Observer is notified as each item's upload resolves. Implementations must
// be safe for concurrent use.
type Observer interface {
	Uploaded(ctx context.Context, key string, size int64)
	Failed(ctx context.Context, key string, err error)
}

// Observers fans notifications out to every observer in order.
type Observers []Observer

func (o Observers) Uploaded(ctx context.Context, key string, size int64) {
	for _, obs := range o {
		obs.Uploaded(ctx, key, size)
	}
}

func (o Observers) Failed(ctx context.Context, key string, err error) {
	for _, obs := range o {
		obs.Failed(ctx, key, err)
	}
}

type nopObserver struct{}

func (nopObserver) Uploaded(context.Context, string, int64) {}
func (nopObserver) Failed(context.Context, string, error)   {}
