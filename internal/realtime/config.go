package realtime

import "time"

type Config struct {
	ChunkSeconds    float64
	OverlapSeconds  float64
	InterimBeamSize int
	FinalBeamSize   int
	BufferSizes     BufferSizes
	PongWait        time.Duration
	MaxMessageSize  int64
	RateLimit       RateLimiterConfig
}

type BufferSizes struct {
	Outbound int
	Jobs     int
}

func DefaultConfig() Config {
	return Config{
		ChunkSeconds:    2.0,
		OverlapSeconds:  0.5,
		InterimBeamSize: 3,
		FinalBeamSize:   5,
		BufferSizes:     BufferSizes{Outbound: 128, Jobs: 32},
		PongWait:        60 * time.Second,
		MaxMessageSize:  4 * 1024 * 1024,
		RateLimit:       DefaultRateLimiterConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ChunkSeconds <= 0 {
		c.ChunkSeconds = d.ChunkSeconds
	}
	if c.OverlapSeconds < 0 || c.OverlapSeconds >= c.ChunkSeconds {
		c.OverlapSeconds = d.OverlapSeconds
		if c.OverlapSeconds >= c.ChunkSeconds {
			c.OverlapSeconds = 0
		}
	}
	if c.InterimBeamSize <= 0 {
		c.InterimBeamSize = d.InterimBeamSize
	}
	if c.FinalBeamSize <= 0 {
		c.FinalBeamSize = d.FinalBeamSize
	}
	if c.BufferSizes.Outbound <= 0 {
		c.BufferSizes.Outbound = d.BufferSizes.Outbound
	}
	if c.BufferSizes.Jobs <= 0 {
		c.BufferSizes.Jobs = d.BufferSizes.Jobs
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	return c
}
