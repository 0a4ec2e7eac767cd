package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"skyassist-backend/lib/chrono"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("skyassist.lib.cache")
var meter = otel.Meter("skyassist.lib.cache")
var hitCounter, _ = meter.Int64Counter("cache_hits")
var missCounter, _ = meter.Int64Counter("cache_misses")

// Backend is raw byte storage the cache writes its entries into.
type Backend interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	// CompareAndDelete removes key only while it still holds expected and
	// reports whether it did.
	CompareAndDelete(key string, expected []byte) (bool, error)
	Keys() ([]string, error)
	Clear() error
}

// entry is the persisted wrapper around a cached payload, timestamps and ttl
// are in milliseconds.
type entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	TTL       int64           `json:"ttl"`
}

func (e entry) expired(now time.Time) bool {
	return now.UnixMilli()-e.Timestamp >= e.TTL
}

// Cache stores payloads under string keys with a per-entry ttl. Expiry is only
// checked lazily on read or by an explicit Cleanup call, there is no
// background sweep.
type Cache struct {
	backend Backend
	time    chrono.API
}

func New(backend Backend, time chrono.API) Cache {
	return Cache{backend: backend, time: time}
}

func (c Cache) Set(ctx context.Context, key string, data any, ttl time.Duration) error {
	_, span := tracer.Start(ctx, "cache:Set")
	defer span.End()
	span.SetAttributes(attribute.String("cache_key", key))

	encoded, err := json.Marshal(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize cache payload")
		return fmt.Errorf("serialize %s: %w", key, err)
	}
	serialized, err := json.Marshal(entry{
		Data:      encoded,
		Timestamp: c.time.Now().UnixMilli(),
		TTL:       ttl.Milliseconds(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize cache entry")
		return err
	}

	err = c.backend.Set(key, serialized)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write cache entry")
		return err
	}
	return nil
}

// decode reports false for unreadable or expired entries.
func (c Cache) decode(serialized []byte) (entry, bool) {
	var cached entry
	err := json.Unmarshal(serialized, &cached)
	if err != nil {
		return entry{}, false
	}
	if cached.expired(c.time.Now()) {
		return entry{}, false
	}
	return cached, true
}

// lookup reads an entry, evicting it when it has expired. A Set racing the
// eviction wins since only the bytes that were read get deleted.
func (c Cache) lookup(key string) (entry, bool, error) {
	serialized, ok, err := c.backend.Get(key)
	if err != nil || !ok {
		return entry{}, false, err
	}
	cached, fresh := c.decode(serialized)
	if !fresh {
		_, err = c.backend.CompareAndDelete(key, serialized)
		return entry{}, false, err
	}
	return cached, true, nil
}

// Get decodes the payload stored under key into out, it returns false on a
// miss or an expired hit.
func (c Cache) Get(ctx context.Context, key string, out any) (bool, error) {
	ctx, span := tracer.Start(ctx, "cache:Get")
	defer span.End()
	span.SetAttributes(attribute.String("cache_key", key))

	cached, ok, err := c.lookup(key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read cache entry")
		return false, err
	}
	if !ok {
		missCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("cache_key", key)))
		return false, nil
	}

	err = json.Unmarshal(cached.Data, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deserialize cache payload")
		return false, fmt.Errorf("deserialize %s: %w", key, err)
	}

	hitCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("cache_key", key)))
	span.SetStatus(codes.Ok, "CACHE HIT")
	return true, nil
}

func (c Cache) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.lookup(key)
	return ok, err
}

func (c Cache) Delete(ctx context.Context, key string) error {
	return c.backend.Delete(key)
}

func (c Cache) Clear(ctx context.Context) error {
	return c.backend.Clear()
}

// Cleanup removes every expired entry and returns how many were removed.
func (c Cache) Cleanup(ctx context.Context) (int, error) {
	_, span := tracer.Start(ctx, "cache:Cleanup")
	defer span.End()

	keys, err := c.backend.Keys()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list cache keys")
		return 0, err
	}

	removed := 0
	for _, k := range keys {
		serialized, ok, err := c.backend.Get(k)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to read cache entry")
			return removed, err
		}
		if !ok {
			continue
		}
		if _, fresh := c.decode(serialized); fresh {
			continue
		}
		deleted, err := c.backend.CompareAndDelete(k, serialized)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to evict cache entry")
			return removed, err
		}
		if deleted {
			removed++
		}
	}
	span.SetAttributes(attribute.Int("removed", removed))
	return removed, nil
}
