package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/diffuse/pkg/domain"
)

// DefaultPrefix namespaces every key written by the slot.
const DefaultPrefix = "diffuse:"

// Slot implements ports.ScheduleSlot using Redis, so replicas behind a load balancer share
// one diagnostic slot. Values are zstd-compressed JSON.
type Slot struct {
	client *backend.Client
	prefix string
	ttl    time.Duration

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Option configures a Slot.
type Option func(*Slot)

// WithTTL sets the expiration of the stored snapshot.
func WithTTL(ttl time.Duration) Option {
	return func(s *Slot) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Slot) {
		s.prefix = prefix
	}
}

// New creates a Redis slot with its own client.
func New(address, password string, db int, opts ...Option) (*Slot, error) {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Redis slot from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) (*Slot, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	slot := &Slot{
		client: client,
		prefix: DefaultPrefix,
		ttl:    0, // No expiration by default
		enc:    enc,
		dec:    dec,
	}
	for _, opt := range opts {
		opt(slot)
	}
	return slot, nil
}

// Key returns the Redis key holding the snapshot.
func (s *Slot) Key() string {
	return s.prefix + "schedule:last"
}

// Put overwrites the stored snapshot.
func (s *Slot) Put(ctx context.Context, snap domain.ScheduleSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}
	payload := s.enc.EncodeAll(data, nil)

	if err := s.client.Set(ctx, s.Key(), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Get loads the stored snapshot.
func (s *Slot) Get(ctx context.Context) (domain.ScheduleSnapshot, error) {
	payload, err := s.client.Get(ctx, s.Key()).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return domain.ScheduleSnapshot{}, domain.ErrScheduleNotRecorded
		}
		return domain.ScheduleSnapshot{}, fmt.Errorf("failed to get from redis: %w", err)
	}

	data, err := s.dec.DecodeAll(payload, nil)
	if err != nil {
		return domain.ScheduleSnapshot{}, fmt.Errorf("zstd decode: %w", err)
	}
	var snap domain.ScheduleSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.ScheduleSnapshot{}, fmt.Errorf("failed to unmarshal schedule: %w", err)
	}
	return snap, nil
}

// Ping checks connectivity.
func (s *Slot) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the codec and closes the redis client.
func (s *Slot) Close() error {
	s.dec.Close()
	_ = s.enc.Close()
	return s.client.Close()
}
