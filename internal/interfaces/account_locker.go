package interfaces

import "context"

// AccountLocker serializes work on a single key. Work on different keys runs
// concurrently.
type AccountLocker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
