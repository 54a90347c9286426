package postgresql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/m3xD/parkus/internal/domain"
	"github.com/m3xD/parkus/internal/repository"
	"go.uber.org/zap"
)

// ChangeChannel is the NOTIFY channel the parking_slots trigger publishes on.
const ChangeChannel = "parking_slot_changes"

const listenerPingInterval = 90 * time.Second

// changeNotification is the payload built by notify_parking_slot_change().
type changeNotification struct {
	Op  string    `json:"op"`
	At  time.Time `json:"at"`
	Old *slotRow  `json:"old"`
	New *slotRow  `json:"new"`
}

// ChangeListener turns NOTIFY traffic on ChangeChannel into change events.
type ChangeListener struct {
	dsn          string
	minReconnect time.Duration
	maxReconnect time.Duration
	logger       *zap.Logger
}

func NewChangeListener(dsn string, minReconnect, maxReconnect time.Duration, logger *zap.Logger) *ChangeListener {
	return &ChangeListener{
		dsn:          dsn,
		minReconnect: minReconnect,
		maxReconnect: maxReconnect,
		logger:       logger.Named("change_listener"),
	}
}

var _ repository.ChangeStream = (*ChangeListener)(nil)

// Stream listens until ctx is done. Notifications issued while the listener connection is down are
// lost; the loss is logged when the connection comes back.
func (l *ChangeListener) Stream(ctx context.Context, sink func(domain.ChangeEvent)) error {
	listener := pq.NewListener(l.dsn, l.minReconnect, l.maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed:
			l.logger.Warn("change feed connection attempt failed", zap.Error(err))
		case pq.ListenerEventDisconnected:
			l.logger.Warn("change feed disconnected", zap.Error(err))
		case pq.ListenerEventReconnected:
			l.logger.Info("change feed reconnected")
		}
	})
	defer listener.Close()

	if err := listener.Listen(ChangeChannel); err != nil {
		return fmt.Errorf("%w: listen %s: %v", repository.ErrStoreUnavailable, ChangeChannel, err)
	}
	l.logger.Info("listening for slot changes", zap.String("channel", ChangeChannel))

	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			if n == nil {
				l.logger.Warn("change feed connection was re-established; changes made meanwhile were not delivered")
				continue
			}
			ev, err := decodeNotification(n.Extra)
			if err != nil {
				l.logger.Error("dropping undecodable change notification", zap.Error(err), zap.String("payload", n.Extra))
				continue
			}
			sink(ev)
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					l.logger.Warn("change feed ping failed", zap.Error(err))
				}
			}()
		}
	}
}

func decodeNotification(payload string) (domain.ChangeEvent, error) {
	var n changeNotification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("decode notification: %w", err)
	}
	var before, after *domain.ParkingSlot
	if n.Old != nil {
		before = n.Old.toDomain()
	}
	if n.New != nil {
		after = n.New.toDomain()
	}
	ev, err := domain.NewChangeEvent(before, after, n.At)
	if err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("notification %q: %w", n.Op, err)
	}
	return ev, nil
}
