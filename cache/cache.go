package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"oddsharvest/models"
)

// MarketOdds is the cached view of one market: its key, result and per-book normalized odds
type MarketOdds struct {
	Key       models.MarketKey     `json:"key"`
	Coverage  models.Coverage      `json:"coverage"`
	Result    *models.MarketResult `json:"result,omitempty"`
	Books     []models.BookOdds    `json:"books"`
	UpdatedAt time.Time            `json:"updated_at"`
}

type FixtureOdds struct {
	FixtureID string       `json:"fixture_id"`
	CachedAt  time.Time    `json:"cached_at"`
	Markets   []MarketOdds `json:"markets"`
}

// Cache holds the latest odds per fixture
type Cache struct {
	R   *redis.Client
	TTL time.Duration
}

func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return rdb, nil
}

func New(r *redis.Client, ttl time.Duration) *Cache { return &Cache{R: r, TTL: ttl} }

func keyFixture(fixtureID string) string { return "odds:fixture:" + fixtureID }

// FromFixture builds the cached view of a fixture
func FromFixture(fx *models.Fixture, now time.Time) FixtureOdds {
	out := FixtureOdds{FixtureID: fx.ID, CachedAt: now, Markets: make([]MarketOdds, 0, len(fx.Markets))}
	for _, m := range fx.Markets {
		out.Markets = append(out.Markets, MarketOdds{
			Key:       m.Key,
			Coverage:  m.Coverage,
			Result:    m.Result,
			Books:     m.Books,
			UpdatedAt: m.UpdatedAt,
		})
	}
	return out
}

func (c *Cache) GetOdds(ctx context.Context, fixtureID string) (*FixtureOdds, bool, error) {
	b, err := c.R.Get(ctx, keyFixture(fixtureID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var v FixtureOdds
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, false, err
	}
	return &v, true, nil
}

func (c *Cache) SetOdds(ctx context.Context, v FixtureOdds) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, keyFixture(v.FixtureID), b, c.TTL).Err()
}

func (c *Cache) Evict(ctx context.Context, fixtureID string) error {
	return c.R.Del(ctx, keyFixture(fixtureID)).Err()
}
