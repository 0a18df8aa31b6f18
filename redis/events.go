package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/armonempire/portal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AppointmentEvent is the payload pushed to members, one per change.
type AppointmentEvent struct {
	Appointment models.Appointment `json:"appointment"`
}

func appointmentChannel(userID uint) string {
	return fmt.Sprintf("appointments:%d", userID)
}

// Broker fans appointment changes out to every server instance over pub/sub.
type Broker struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewBroker(rdb *redis.Client, log *zap.Logger) *Broker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broker{rdb: rdb, log: log}
}

// Publish sends a change to the member's channel.
func (b *Broker) Publish(ctx context.Context, userID uint, a models.Appointment) error {
	payload, err := json.Marshal(AppointmentEvent{Appointment: a})
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}
	if err := b.rdb.Publish(ctx, appointmentChannel(userID), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	return nil
}

// Subscription delivers raw event payloads for one member.
type Subscription struct {
	ps *redis.PubSub
	C  <-chan []byte
}

// Close stops delivery and releases the connection.
func (s *Subscription) Close() error {
	return s.ps.Close()
}

// Subscribe listens on the member's channel until ctx ends or Close is called.
func (b *Broker) Subscribe(ctx context.Context, userID uint) (*Subscription, error) {
	ps := b.rdb.Subscribe(ctx, appointmentChannel(userID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis: subscribe: %w", err)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(m.Payload):
				case <-ctx.Done():
					return
				default:
					b.log.Warn("dropping appointment event for slow subscriber", zap.Uint("user_id", userID))
				}
			}
		}
	}()
	return &Subscription{ps: ps, C: out}, nil
}
