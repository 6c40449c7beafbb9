// Package sysinfo samples host CPU usage for the dashboard. It is
// observational only: nothing in MyMQ's admission path reads it, since
// MyMQ has no CPU-backpressure requirement.
package sysinfo

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
)

// Sampler periodically measures host CPU usage and exposes the last
// reading lock-free.
type Sampler struct {
	logger     zerolog.Logger
	interval   time.Duration
	cpuPercent atomic.Value // float64
}

// NewSampler builds a Sampler with the given refresh interval.
func NewSampler(interval time.Duration, logger zerolog.Logger) *Sampler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	s := &Sampler{
		logger:   logger.With().Str("component", "sysinfo").Logger(),
		interval: interval,
	}
	s.cpuPercent.Store(0.0)
	return s
}

// Start launches the background sampling loop. It stops when ctx is done.
func (s *Sampler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sample()
			}
		}
	}()
}

func (s *Sampler) sample() {
	// Zero duration has no baseline on first call and returns invalid data;
	// a short blocking sample is fine since the ticker already gates cadence.
	percents, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(percents) == 0 {
		s.logger.Debug().Err(err).Msg("cpu sample failed")
		return
	}
	s.cpuPercent.Store(percents[0])
}

// CPUPercent returns the last sampled host CPU usage percentage. A nil
// Sampler (sampling disabled) reports 0.
func (s *Sampler) CPUPercent() float64 {
	if s == nil {
		return 0
	}
	return s.cpuPercent.Load().(float64)
}
