// Package feed fans committed slot changes out to live subscribers.
package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/m3xD/parkus/internal/domain"
	"github.com/m3xD/parkus/internal/repository"
)

var (
	// ErrSubscriberLagging closes a subscription whose buffer filled up. Skipping events would
	// break per-slot ordering, so the subscriber is dropped and must reconnect.
	ErrSubscriberLagging = errors.New("subscriber fell behind the change feed")
	ErrHubClosed         = errors.New("change feed stopped")
	errSourceStopped     = errors.New("change source stopped")
)

// Hub owns the subscriber set. A single goroutine assigns sequence numbers and delivers, so every
// subscriber sees events in the order the source produced them.
type Hub struct {
	clients    map[*Subscription]bool
	register   chan *Subscription
	unregister chan *Subscription
	broadcast  chan domain.ChangeEvent
	done       chan struct{}
	bufferSize int
	sequence   uint64
	logger     *zap.Logger
}

func NewHub(bufferSize int, logger *zap.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Hub{
		clients:    make(map[*Subscription]bool),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		broadcast:  make(chan domain.ChangeEvent),
		done:       make(chan struct{}),
		bufferSize: bufferSize,
		logger:     logger.Named("feed"),
	}
}

// Run streams source into the hub until ctx is done or source fails. Subscriptions still open when
// Run returns are closed with ErrHubClosed.
func (h *Hub) Run(ctx context.Context, source repository.ChangeStream) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := source.Stream(gctx, h.Publish)
		if err == nil && gctx.Err() == nil {
			err = errSourceStopped
		}
		return err
	})
	g.Go(func() error {
		h.loop(gctx)
		return nil
	})
	return g.Wait()
}

// Publish hands one event to the hub. It blocks only while the hub loop is busy and returns
// immediately once the hub has stopped.
func (h *Hub) Publish(ev domain.ChangeEvent) {
	select {
	case h.broadcast <- ev:
	case <-h.done:
	}
}

// Subscribe registers a subscriber that receives every event published after it returns.
// The subscription is closed when ctx is done.
func (h *Hub) Subscribe(ctx context.Context) (*Subscription, error) {
	sub := &Subscription{
		events: make(chan domain.ChangeEvent, h.bufferSize),
		hub:    h,
		closed: make(chan struct{}),
	}
	select {
	case h.register <- sub:
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closed:
		}
	}()
	return sub, nil
}

// Done is closed once the hub has stopped.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) loop(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return

		case sub := <-h.register:
			h.clients[sub] = true
			h.logger.Info("feed subscriber connected", zap.Int("subscribers", len(h.clients)))

		case sub := <-h.unregister:
			if h.clients[sub] {
				delete(h.clients, sub)
				close(sub.events)
				h.logger.Info("feed subscriber disconnected", zap.Int("subscribers", len(h.clients)))
			}

		case ev := <-h.broadcast:
			h.sequence++
			ev.Sequence = h.sequence
			if ev.ID == "" {
				ev.ID = uuid.NewString()
			}
			for sub := range h.clients {
				select {
				case sub.events <- ev:
				default:
					delete(h.clients, sub)
					sub.fail(ErrSubscriberLagging)
					h.logger.Warn("dropping lagging feed subscriber",
						zap.Uint64("sequence", ev.Sequence),
						zap.Int("buffer", h.bufferSize))
				}
			}
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	for sub := range h.clients {
		delete(h.clients, sub)
		sub.fail(ErrHubClosed)
	}
	h.logger.Info("change feed stopped")
}

// Subscription is one consumer's view of the feed.
type Subscription struct {
	events chan domain.ChangeEvent
	hub    *Hub
	once   sync.Once
	closed chan struct{}

	mu  sync.Mutex
	err error
}

// Events is closed when the subscription ends; Err then reports why.
func (s *Subscription) Events() <-chan domain.ChangeEvent {
	return s.events
}

// Err is nil after a Close by the subscriber, ErrSubscriberLagging or ErrHubClosed otherwise.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.closed)
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
	})
}

// fail is called from the hub loop only.
func (s *Subscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.events)
}
