package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	RedisBusChannel = "chorus:broadcast"
	NatsBusSubject  = "chorus.broadcast"
)

// Envelope carries one room broadcast between instances.
type Envelope struct {
	Origin     string          `json:"origin"`
	Room       string          `json:"room"`
	Event      string          `json:"event"`
	Data       json.RawMessage `json:"data"`
	ExceptUser *uuid.UUID      `json:"exceptUser,omitempty"`
}

// Bus fans broadcasts out to every other instance. Subscribe returns once
// the subscription is live and delivers on its own goroutine until ctx is
// cancelled or the bus is closed.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, handle func(Envelope)) error
	Close() error
	// CrossInstance is false for the local bus.
	CrossInstance() bool
}

// LocalBus drops everything. With it, broadcasts only reach connections on
// this instance.
type LocalBus struct{}

func (LocalBus) Publish(context.Context, Envelope) error { return nil }

func (LocalBus) Subscribe(context.Context, func(Envelope)) error { return nil }

func (LocalBus) Close() error { return nil }

func (LocalBus) CrossInstance() bool { return false }

type RedisBus struct {
	rdb    *redis.Client
	logger *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

func NewRedisBus(rdb *redis.Client, logger *zap.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, logger: logger.Named("bus.redis")}
}

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.rdb.Publish(ctx, RedisBusChannel, body).Err(); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, handle func(Envelope)) error {
	ps := b.rdb.Subscribe(ctx, RedisBusChannel)
	// Wait for the subscribe confirmation so nothing published after we
	// return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", RedisBusChannel, err)
	}

	b.mu.Lock()
	b.pubsub = ps
	b.mu.Unlock()

	ch := ps.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.logger.Warn("dropping malformed envelope", zap.Error(err))
					continue
				}
				handle(env)
			}
		}
	}()
	return nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub == nil {
		return nil
	}
	err := b.pubsub.Close()
	b.pubsub = nil
	return err
}

func (b *RedisBus) CrossInstance() bool { return true }

type NatsBus struct {
	nc     *nats.Conn
	logger *zap.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

func NewNatsBus(url, name string, logger *zap.Logger) (*NatsBus, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NatsBus{nc: nc, logger: logger.Named("bus.nats")}, nil
}

func (b *NatsBus) Publish(_ context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.nc.Publish(NatsBusSubject, body); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}

func (b *NatsBus) Subscribe(ctx context.Context, handle func(Envelope)) error {
	sub, err := b.nc.Subscribe(NatsBusSubject, func(m *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			b.logger.Warn("dropping malformed envelope", zap.Error(err))
			return
		}
		handle(env)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", NatsBusSubject, err)
	}
	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush subscription: %w", err)
	}

	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

func (b *NatsBus) Close() error {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			b.logger.Warn("unsubscribe failed", zap.Error(err))
		}
	}
	return b.nc.Drain()
}

func (b *NatsBus) CrossInstance() bool { return true }
