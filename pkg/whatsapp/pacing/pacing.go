// Package pacing computes a human-looking typing delay for replies.
package pacing

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMin            = 2 * time.Second
	DefaultMax            = 8 * time.Second
	DefaultWordsPerMinute = 40
	DefaultJitter         = time.Second
)

type Config struct {
	Min            time.Duration
	Max            time.Duration
	WordsPerMinute int
	Jitter         time.Duration
}

func DefaultConfig() Config {
	return Config{Min: DefaultMin, Max: DefaultMax, WordsPerMinute: DefaultWordsPerMinute, Jitter: DefaultJitter}
}

// Source returns a value in [0, n). *rand.Rand satisfies it.
type Source interface {
	Int63n(n int64) int64
}

type Controller struct {
	cfg Config

	mu  sync.Mutex
	src Source
}

// New normalises cfg: Max below Min is raised to Min and a non-positive
// rate falls back to the default. src may be nil.
func New(cfg Config, src Source) *Controller {
	if cfg.Min < 0 {
		cfg.Min = 0
	}
	if cfg.Max < cfg.Min {
		cfg.Max = cfg.Min
	}
	if cfg.WordsPerMinute <= 0 {
		cfg.WordsPerMinute = DefaultWordsPerMinute
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if src == nil {
		src = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Controller{cfg: cfg, src: src}
}

func (c *Controller) Config() Config { return c.cfg }

// Delay is clamp(words/rate, min, max) plus jitter, clamped again so the
// result never leaves [min, max].
func (c *Controller) Delay(reply string) time.Duration {
	words := len(strings.Fields(reply))
	base := time.Duration(words) * time.Minute / time.Duration(c.cfg.WordsPerMinute)
	d := clamp(base, c.cfg.Min, c.cfg.Max)

	if c.cfg.Jitter > 0 {
		c.mu.Lock()
		j := time.Duration(c.src.Int63n(int64(c.cfg.Jitter) + 1))
		c.mu.Unlock()
		d += j
	}
	return clamp(d, c.cfg.Min, c.cfg.Max)
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
