package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultSubscriberBuffer = 256
	dropLogInterval         = 5 * time.Second
)

// CancelFunc removes a subscription and closes its channel. It is safe to
// call more than once; only the first call has any effect.
type CancelFunc func()

// Bus is an in-memory, per-key publish/subscribe multiplexer. It holds no
// history: a subscriber only sees chunks published after Subscribe returns.
// Publish never blocks; a subscriber whose buffer is full misses that chunk
// and only that subscriber is affected.
//
// A single Bus instance is owned by the process entry point and passed to
// every component that needs it. It is safe for concurrent use.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]*subscription
	nextID  uint64
	bufSize int
	logger  *zap.Logger

	dropped     atomic.Int64
	dropLimiter rateLimiter
}

type subscription struct {
	id uint64
	ch chan Chunk
}

// NewBus constructs a Bus. bufSize controls the per-subscriber channel
// buffer; values <= 0 select a default.
func NewBus(bufSize int, logger *zap.Logger) *Bus {
	if bufSize <= 0 {
		bufSize = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:        make(map[string][]*subscription),
		bufSize:     bufSize,
		logger:      logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
}

// Subscribe registers a listener for key and returns its receive channel
// along with a cancel function. The channel is closed by the cancel
// function, never by Publish. Cancel is idempotent.
func (b *Bus) Subscribe(key string) (<-chan Chunk, CancelFunc) {
	b.mu.Lock()
	sub := &subscription{
		id: b.nextID,
		ch: make(chan Chunk, b.bufSize),
	}
	b.nextID++
	b.subs[key] = append(b.subs[key], sub)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.remove(key, sub.id)
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish fans chunk out to every current subscriber for key, in
// registration order. Delivery is best effort: a full subscriber buffer
// drops the chunk for that subscriber only.
func (b *Bus) Publish(key string, chunk Chunk) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[key] {
		select {
		case sub.ch <- chunk:
		default:
			b.dropped.Add(1)
			if b.dropLimiter.Allow(time.Now()) {
				count := b.dropped.Swap(0)
				b.logger.Warn("live chunks dropped for slow subscribers",
					zap.String("stream_key", key),
					zap.Int64("dropped", count),
				)
			}
		}
	}
}

// Subscribers reports the number of active subscriptions for key.
func (b *Bus) Subscribers(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[key])
}

func (b *Bus) remove(key string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[key]
	for i, sub := range subs {
		if sub.id == id {
			b.subs[key] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[key]) == 0 {
		delete(b.subs, key)
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
