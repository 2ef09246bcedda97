package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aditya/campus-rides/internal/models"
)

// Feed carries committed ride snapshots to subscribers.
type Feed interface {
	Publish(ctx context.Context, ride *models.Ride) error
	// Subscribe registers fn for one ride, or for every ride when rideID is empty.
	Subscribe(rideID string, fn func(*models.Ride)) *Subscription
	Close() error
}

// Hub fans snapshots out inside one process. Every subscription owns a
// mailbox and a goroutine, so a subscriber sees its snapshots one at a time
// and in version order per ride, and a slow subscriber never blocks Publish.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[uint64]*Subscription),
		logger: logger,
	}
}

type envelope struct {
	ride *models.Ride
}

type Subscription struct {
	id     uint64
	rideID string
	fn     func(*models.Ride)
	hub    *Hub

	mu      sync.Mutex
	pending []envelope
	wake    chan struct{}
	stop    chan struct{}
	once    sync.Once

	// seen holds the last delivered version per ride, guarded by mu.
	seen map[string]int64
}

func (h *Hub) Subscribe(rideID string, fn func(*models.Ride)) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	s := &Subscription{
		id:     h.nextID,
		rideID: rideID,
		fn:     fn,
		hub:    h,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		seen:   make(map[string]int64),
	}
	if h.closed {
		close(s.stop)
		return s
	}
	h.subs[s.id] = s
	go s.run()
	return s
}

func (h *Hub) Publish(ctx context.Context, ride *models.Ride) error {
	if ride == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.subs {
		if s.rideID == "" || s.rideID == ride.ID {
			s.push(envelope{ride: ride.Clone()})
		}
	}
	return nil
}

// Subscribers reports how many subscriptions are live.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Close() error {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uint64]*Subscription)
	h.closed = true
	h.mu.Unlock()

	for _, s := range subs {
		s.halt()
	}
	return nil
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// Inject queues a snapshot for this subscriber only. A nil ride is delivered
// as-is and means "nothing stored yet".
func (s *Subscription) Inject(ride *models.Ride) {
	s.push(envelope{ride: ride.Clone()})
}

// Cancel stops delivery. It is safe to call from inside the callback.
func (s *Subscription) Cancel() {
	s.halt()
	s.hub.remove(s.id)
}

func (s *Subscription) halt() {
	s.once.Do(func() { close(s.stop) })
}

func (s *Subscription) push(e envelope) {
	select {
	case <-s.stop:
		return
	default:
	}

	s.mu.Lock()
	s.pending = append(s.pending, e)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			batch := s.pending
			s.pending = nil
			s.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, e := range batch {
				select {
				case <-s.stop:
					return
				default:
				}
				if e.ride != nil && !s.advance(e.ride) {
					continue
				}
				s.deliver(e.ride)
			}
		}
	}
}

// advance reports whether ride is newer than anything delivered so far. A
// subscription to all rides forgets a ride once it reaches a terminal status.
func (s *Subscription) advance(ride *models.Ride) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ride.Version <= s.seen[ride.ID] {
		return false
	}
	if s.rideID == "" && ride.Status.IsTerminal() {
		delete(s.seen, ride.ID)
	} else {
		s.seen[ride.ID] = ride.Version
	}
	return true
}

func (s *Subscription) tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *Subscription) deliver(ride *models.Ride) {
	defer func() {
		if r := recover(); r != nil {
			s.hub.logger.Error("ride subscriber panicked", "ride_id", s.rideID, "panic", r)
		}
	}()
	s.fn(ride)
}
