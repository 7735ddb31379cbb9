package fleet

import (
	"errors"
	"log"
	"sync"
	"time"
)

// ErrLockTimeout is returned when lock acquisition times out.
var ErrLockTimeout = errors.New("player lock timeout")

const defaultLockTimeout = 30 * time.Second

// playerLocks serializes listener start/stop per player so an overdue
// stop never races a fresh start on the same device.
type playerLocks struct {
	mu      sync.Mutex
	mutexes map[string]*sync.Mutex
	logger  *log.Logger
}

func newPlayerLocks(logger *log.Logger) *playerLocks {
	if logger == nil {
		logger = log.Default()
	}
	return &playerLocks{mutexes: make(map[string]*sync.Mutex), logger: logger}
}

// WithLock runs fn while holding the player's lock. ErrLockTimeout is
// returned if the lock cannot be acquired within timeout; in that case
// fn never runs.
func (pl *playerLocks) WithLock(uuid string, timeout time.Duration, fn func() error) error {
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	mu := pl.get(uuid)

	acquired := make(chan struct{})
	go func() {
		mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(timeout):
		// The helper goroutine will eventually take the lock; release
		// it again so the holder queue keeps moving.
		go func() {
			<-acquired
			mu.Unlock()
		}()
		pl.logger.Printf("FLEET: lock timeout for player %s", uuid)
		return ErrLockTimeout
	}
	defer mu.Unlock()

	return fn()
}

func (pl *playerLocks) get(uuid string) *sync.Mutex {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	mu, ok := pl.mutexes[uuid]
	if !ok {
		mu = &sync.Mutex{}
		pl.mutexes[uuid] = mu
	}
	return mu
}
