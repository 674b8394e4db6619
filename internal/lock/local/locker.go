package local

import (
	"context"
	"sync"

	interfaces "github.com/sheikh-saqib/derived-accounts-ledger/internal/interfaces"
)

type keyLock struct {
	mu   sync.Mutex
	refs int // goroutines holding or waiting for mu
}

// Locker serializes work per key within one process.
type Locker struct {
	muMap map[string]*keyLock // stores the lock for each key while it is in use
	mapMu sync.Mutex          // protects the muMap itself
}

func NewLocker() *Locker {
	return &Locker{
		muMap: make(map[string]*keyLock),
	}
}

func (l *Locker) acquire(key string) *keyLock {

	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	if _, exists := l.muMap[key]; !exists {
		l.muMap[key] = &keyLock{}
	}
	kl := l.muMap[key]
	kl.refs++
	return kl
}

func (l *Locker) release(key string, kl *keyLock) {

	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	kl.refs--
	if kl.refs == 0 {
		delete(l.muMap, key)
	}
}

// WithLock runs fn while holding the lock for key.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	kl := l.acquire(key)
	defer l.release(key, kl)

	kl.mu.Lock()
	defer kl.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

var _ interfaces.AccountLocker = (*Locker)(nil)
