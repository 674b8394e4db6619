// Package redis serializes per-account work across service instances with a
// Redlock mutex stored in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	redsyncgoredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredis "github.com/redis/go-redis/v9"
	interfaces "github.com/sheikh-saqib/derived-accounts-ledger/internal/interfaces"
	"go.uber.org/zap"
)

const keyPrefix = "lock:ledger:"

var (
	ErrEmptyLockKey = errors.New("lock key cannot be empty")
	// ErrLockLost is the cancel cause handed to fn when the lock could not
	// be extended.
	ErrLockLost = errors.New("lock lost before work finished")
)

// LockOptions mirrors the redsync mutex options.
type LockOptions struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

func DefaultLockOptions() LockOptions {
	return LockOptions{
		Expiry:     10 * time.Second,
		Tries:      32,
		RetryDelay: 50 * time.Millisecond,
	}
}

type Locker struct {
	redsync *redsync.Redsync
	opts    LockOptions
	logger  *zap.Logger
}

func NewLocker(client goredis.UniversalClient, opts LockOptions, logger *zap.Logger) *Locker {
	return &Locker{
		redsync: redsync.New(redsyncgoredis.NewPool(client)),
		opts:    opts,
		logger:  logger,
	}
}

// WithLock runs fn while holding the distributed lock for key. The lock is
// extended every third of its expiry until fn returns, then released. If an
// extension fails, fn's context is canceled with ErrLockLost.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyLockKey
	}

	mutex := l.redsync.NewMutex(
		keyPrefix+key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}

	defer func() {
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
			l.logger.Error("failed to release lock",
				zap.String("lock_key", key),
				zap.Bool("unlock_ok", ok),
				zap.Error(err),
			)
		}
	}()

	fnCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.keepAlive(fnCtx, mutex, key, cancel, stop, stopped)

	err := fn(fnCtx)
	close(stop)
	<-stopped
	return err
}

func (l *Locker) keepAlive(ctx context.Context, mutex *redsync.Mutex, key string, cancel context.CancelCauseFunc, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	interval := l.opts.Expiry / 3
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ok, err := mutex.ExtendContext(ctx); !ok || err != nil {
				l.logger.Error("failed to extend lock",
					zap.String("lock_key", key),
					zap.Bool("extend_ok", ok),
					zap.Error(err),
				)
				cancel(ErrLockLost)
				return
			}
		}
	}
}

var _ interfaces.AccountLocker = (*Locker)(nil)
