package queries

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
)

// interfaceRecord is InterfaceRow's JSON-stable wire shape for the Redis
// cache; model.EndpointsAutomaton is rebuilt from Mappings on load rather
// than serialized, since it's a derived index.
type interfaceRecord struct {
	InterfaceID  [16]byte
	Name         string
	MajorVersion int
	MinorVersion int
	Type         model.InterfaceType
	Aggregation  model.Aggregation
	Ownership    model.Ownership
	Storage      string
	StorageType  model.StorageType
	Mappings     []model.Mapping
}

// InterfaceCache is the read-through cache fronting LoadInterface, the same
// cache-aside shape the teacher's ItemCache uses: miss falls through to the
// Store, a hit decodes straight from Redis.
type InterfaceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewInterfaceCache dials Redis the way the teacher's NewItemCache does,
// failing fast if the connection doesn't come up.
func NewInterfaceCache(addr string, ttl time.Duration) (*InterfaceCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("queries: connect to redis: %w", err)
	}

	return &InterfaceCache{client: client, ttl: ttl}, nil
}

func (c *InterfaceCache) Close() error { return c.client.Close() }

func cacheKey(name string, major int) string {
	return fmt.Sprintf("interface:%s:%d", name, major)
}

// Get returns the cached interface row, or nil on a cache miss.
func (c *InterfaceCache) Get(ctx context.Context, name string, major int) (*InterfaceRow, error) {
	data, err := c.client.Get(ctx, cacheKey(name, major)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queries: redis get: %w", err)
	}

	var rec interfaceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("queries: unmarshal cached interface: %w", err)
	}

	row := &InterfaceRow{
		InterfaceDescriptor: model.InterfaceDescriptor{
			InterfaceID:  rec.InterfaceID,
			Name:         rec.Name,
			MajorVersion: rec.MajorVersion,
			MinorVersion: rec.MinorVersion,
			Type:         rec.Type,
			Aggregation:  rec.Aggregation,
			Ownership:    rec.Ownership,
			Storage:      rec.Storage,
			StorageType:  rec.StorageType,
		},
		Mappings: rec.Mappings,
	}
	row.Automaton = model.NewEndpointsAutomaton(rec.Mappings)
	return row, nil
}

// Set stores row under (name, major), overwriting any existing entry.
func (c *InterfaceCache) Set(ctx context.Context, row *InterfaceRow) error {
	rec := interfaceRecord{
		InterfaceID:  row.InterfaceID,
		Name:         row.Name,
		MajorVersion: row.MajorVersion,
		MinorVersion: row.MinorVersion,
		Type:         row.Type,
		Aggregation:  row.Aggregation,
		Ownership:    row.Ownership,
		Storage:      row.Storage,
		StorageType:  row.StorageType,
		Mappings:     row.Mappings,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("queries: marshal interface for cache: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(row.Name, row.MajorVersion), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("queries: redis set: %w", err)
	}
	return nil
}

// Invalidate drops a cached entry. Introspection handling does not call
// it, so a cached descriptor otherwise stays until its TTL runs out.
func (c *InterfaceCache) Invalidate(ctx context.Context, name string, major int) error {
	return c.client.Del(ctx, cacheKey(name, major)).Err()
}
