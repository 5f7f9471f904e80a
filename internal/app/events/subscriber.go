package events

import (
	"sync"
	"sync/atomic"

	"zhatRelay/internal/domain"
)

type subscriber struct {
	id         int
	kind       domain.Kind
	name       string
	handler    Handler
	policy     OverflowPolicy
	bufferSize int
	localOnly  bool

	queue chan delivery
	done  chan struct{}

	// enqMu keeps concurrent publishers from interleaving a DropOldest
	// eviction with another send.
	enqMu    sync.Mutex
	stopOnce sync.Once
	drops    atomic.Uint64
}

// enqueue reports false when d, or an older queued event, was dropped.
func (s *subscriber) enqueue(d delivery) bool {
	s.enqMu.Lock()
	defer s.enqMu.Unlock()

	select {
	case <-s.done:
		return true
	default:
	}

	select {
	case s.queue <- d:
		return true
	default:
	}

	if s.policy == DropOldest {
		select {
		case <-s.queue:
		default:
		}
		select {
		case s.queue <- d:
		default:
		}
	}
	return false
}

func (s *subscriber) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}
