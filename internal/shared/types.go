package shared

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

func NewID(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

type BackoffConfig struct {
	Initial     time.Duration
	MaxAttempts int
	MaxDelay    time.Duration
}

func (b BackoffConfig) Normalize() BackoffConfig {
	if b.Initial <= 0 {
		b.Initial = 100 * time.Millisecond
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = 5
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = 2 * time.Second
	}
	return b
}

// Next returns the delay that follows d, doubling up to MaxDelay.
func (b BackoffConfig) Next(d time.Duration) time.Duration {
	d *= 2
	if d > b.MaxDelay {
		return b.MaxDelay
	}
	return d
}

type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

func (t Task) String() string {
	return string(t)
}

func (t Task) Valid() bool {
	return t == TaskTranscribe || t == TaskTranslate
}
