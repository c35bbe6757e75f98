package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisBroker fans envelopes out through a Redis pub/sub channel so that a
// message sent on one instance reaches connections held by every instance.
type RedisBroker struct {
	rdb     *redis.Client
	channel string
	sub     *redis.PubSub
}

// NewRedisBroker connects to redisURL (redis://:pass@host:6379/0) and pings
// it once so misconfiguration fails at startup.
func NewRedisBroker(ctx context.Context, redisURL, channel string) (*RedisBroker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	if channel == "" {
		channel = "casasegura:chat"
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBroker{rdb: rdb, channel: channel}, nil
}

func (b *RedisBroker) Start(ctx context.Context, deliver func(Envelope)) error {
	b.sub = b.rdb.Subscribe(ctx, b.channel)
	if _, err := b.sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	ch := b.sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				env, err := decodeEnvelope(m.Payload)
				if err != nil {
					log.Warn().Err(err).Msg("dropping malformed envelope")
					continue
				}
				deliver(env)
			}
		}
	}()
	return nil
}

func (b *RedisBroker) Publish(ctx context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *RedisBroker) Close() error {
	if b.sub != nil {
		_ = b.sub.Close()
	}
	return b.rdb.Close()
}

func decodeEnvelope(payload string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return Envelope{}, err
	}
	if len(env.Frame) == 0 || (env.Room == "" && env.User == "") {
		return Envelope{}, fmt.Errorf("envelope without target or frame")
	}
	return env, nil
}
