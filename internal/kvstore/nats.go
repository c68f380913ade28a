package kvstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStore keeps entries in JetStream key-value buckets. JetStream expiry is
// configured per bucket, so each distinct TTL gets its own bucket derived
// from the base name. Keys are base64url encoded because KV keys only allow
// a restricted alphabet.
type NATSStore struct {
	js     jetstream.JetStream
	conn   *nats.Conn
	base   string
	logger *slog.Logger

	mu      sync.Mutex
	buckets map[time.Duration]jetstream.KeyValue
}

// NATSOption configures a NATSStore.
type NATSOption func(*NATSStore)

// WithNATSLogger sets the logger.
func WithNATSLogger(logger *slog.Logger) NATSOption {
	return func(s *NATSStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewNATSStore creates the base bucket plus one bucket for every TTL in
// ttls. Further TTLs are created lazily on first Put.
func NewNATSStore(ctx context.Context, js jetstream.JetStream, base string, ttls []time.Duration, opts ...NATSOption) (*NATSStore, error) {
	s := &NATSStore{
		js:      js,
		base:    base,
		logger:  slog.Default(),
		buckets: make(map[time.Duration]jetstream.KeyValue),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := s.bucket(ctx, 0); err != nil {
		return nil, err
	}
	for _, ttl := range ttls {
		if _, err := s.bucket(ctx, ttl); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// OpenNATS connects to url and returns a store that owns the connection.
func OpenNATS(ctx context.Context, url, base string, ttls []time.Duration, opts ...NATSOption) (*NATSStore, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("get jetstream: %w", err)
	}
	s, err := NewNATSStore(ctx, js, base, ttls, opts...)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.conn = nc
	return s, nil
}

func (s *NATSStore) bucketName(ttl time.Duration) string {
	if ttl <= 0 {
		return s.base
	}
	return fmt.Sprintf("%s_TTL_%ds", s.base, int64(ttl/time.Second))
}

func (s *NATSStore) bucket(ctx context.Context, ttl time.Duration) (jetstream.KeyValue, error) {
	if ttl < 0 {
		ttl = 0
	}
	// Bucket TTLs have second granularity.
	if ttl > 0 && ttl < time.Second {
		ttl = time.Second
	}
	ttl = ttl.Truncate(time.Second)

	s.mu.Lock()
	defer s.mu.Unlock()
	if kv, ok := s.buckets[ttl]; ok {
		return kv, nil
	}

	// CreateOrUpdateKeyValue is idempotent across processes.
	kv, err := s.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      s.bucketName(ttl),
		Description: "Diet planner key-value entries",
		TTL:         ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update kv bucket %s: %w", s.bucketName(ttl), err)
	}
	s.buckets[ttl] = kv
	return kv, nil
}

func (s *NATSStore) snapshot() []jetstream.KeyValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	ttls := make([]time.Duration, 0, len(s.buckets))
	for ttl := range s.buckets {
		ttls = append(ttls, ttl)
	}
	sort.Slice(ttls, func(i, j int) bool { return ttls[i] < ttls[j] })
	out := make([]jetstream.KeyValue, 0, len(ttls))
	for _, ttl := range ttls {
		out = append(out, s.buckets[ttl])
	}
	return out
}

func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func isMissing(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}

func (s *NATSStore) Get(ctx context.Context, key string) ([]byte, error) {
	k := encodeKey(key)
	for _, kv := range s.snapshot() {
		entry, err := kv.Get(ctx, k)
		if isMissing(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		return entry.Value(), nil
	}
	return nil, ErrNotFound
}

func (s *NATSStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	target, err := s.bucket(ctx, ttl)
	if err != nil {
		return err
	}
	k := encodeKey(key)
	if _, err := target.Put(ctx, k, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	// A key lives in exactly one bucket; drop copies left under another TTL.
	for _, kv := range s.snapshot() {
		if kv.Bucket() == target.Bucket() {
			continue
		}
		if err := kv.Delete(ctx, k); err != nil && !isMissing(err) {
			s.logger.Warn("failed to drop stale kv copy", "bucket", kv.Bucket(), "key", key, "error", err)
		}
	}
	return nil
}

func (s *NATSStore) Delete(ctx context.Context, key string) error {
	k := encodeKey(key)
	for _, kv := range s.snapshot() {
		if err := kv.Delete(ctx, k); err != nil && !isMissing(err) {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return nil
}

// Close drains the connection when the store created it.
func (s *NATSStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
