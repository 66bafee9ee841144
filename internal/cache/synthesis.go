package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "tts:"
	DefaultTTL = time.Hour
)

type Key struct {
	Text             string
	VoiceDescription string
	Format           string
	SampleRate       int
}

// String returns the redis key for k. The text is hashed so keys stay short.
func (k Key) String() string {
	h := sha256.New()
	for _, part := range []string{k.Text, k.VoiceDescription, k.Format, strconv.Itoa(k.SampleRate)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

type Entry struct {
	Data        []byte `json:"data"`
	ContentType string `json:"content_type"`
	SampleRate  int    `json:"sample_rate"`
}

// SynthesisCache stores rendered batch synthesis results. A nil cache is
// valid and never hits.
type SynthesisCache struct {
	redis    *redis.Client
	ttl      time.Duration
	onLookup func(hit bool)
	logger   *slog.Logger
}

func NewSynthesisCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *SynthesisCache {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SynthesisCache{
		redis:  client,
		ttl:    ttl,
		logger: logger.With("component", "synthesis_cache"),
	}
}

// OnLookup registers fn to observe every lookup result.
func (c *SynthesisCache) OnLookup(fn func(hit bool)) {
	if c != nil {
		c.onLookup = fn
	}
}

func (c *SynthesisCache) Get(ctx context.Context, key Key) (*Entry, bool, error) {
	if c == nil {
		return nil, false, nil
	}

	data, err := c.redis.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		c.observe(false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached synthesis: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("dropping corrupt cache entry", "error", err)
		_ = c.redis.Del(ctx, key.String()).Err()
		c.observe(false)
		return nil, false, nil
	}
	c.observe(true)
	return &entry, true, nil
}

func (c *SynthesisCache) Put(ctx context.Context, key Key, entry Entry) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.redis.Set(ctx, key.String(), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("store cached synthesis: %w", err)
	}
	return nil
}

func (c *SynthesisCache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}

func (c *SynthesisCache) observe(hit bool) {
	if c.onLookup != nil {
		c.onLookup(hit)
	}
}
