package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannel is the Redis channel events are relayed on.
const DefaultChannel = "invoice-verifier:activity"

// RedisRelay republishes hub events on a Redis channel so other processes
// can follow the activity feed.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	log     zerolog.Logger
}

// NewRedisClient connects to a single Redis node.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), nil
}

// NewRedisRelay creates a relay publishing to channel.
func NewRedisRelay(client redis.UniversalClient, channel string, log zerolog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{client: client, channel: channel, log: log}
}

// Forward publishes one event.
func (r *RedisRelay) Forward(ctx context.Context, e domain.ProcessingEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

// Run forwards events from sub until ctx is done or sub is closed.
// Forwarding errors are logged and the event is dropped.
func (r *RedisRelay) Run(ctx context.Context, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := r.Forward(ctx, e); err != nil {
				r.log.Warn().Err(err).Uint64("seq", e.Seq).Msg("Failed to relay activity event")
			}
		}
	}
}

// Follow subscribes to a relay channel and decodes events until ctx is
// done. The returned channel is closed when the subscription ends.
func Follow(ctx context.Context, client redis.UniversalClient, channel string, log zerolog.Logger) (<-chan domain.ProcessingEvent, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	ps := client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan domain.ProcessingEvent, DefaultBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var e domain.ProcessingEvent
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					log.Warn().Err(err).Msg("Ignoring malformed activity event")
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
