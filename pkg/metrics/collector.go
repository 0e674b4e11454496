// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-quickauth.
//
// go-quickauth is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package metrics

import (
	"context"
	"runtime"
	"time"
)

const defaultSampleInterval = 30 * time.Second

// Probe refreshes one gauge from live state. Probes run on the
// collector goroutine and must not block.
type Probe func()

// ResourceCollector refreshes gauges on a fixed interval: the process
// gauges plus any probes supplied by the caller.
type ResourceCollector struct {
	ctx      context.Context
	cancel   context.CancelFunc
	interval time.Duration
	started  time.Time
	probes   []Probe
}

// NewResourceCollector returns a stopped collector. A non-positive
// interval falls back to 30s.
func NewResourceCollector(ctx context.Context, interval time.Duration, probes ...Probe) *ResourceCollector {
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	runCtx, cancel := context.WithCancel(ctx)
	return &ResourceCollector{
		ctx:      runCtx,
		cancel:   cancel,
		interval: interval,
		started:  time.Now(),
		probes:   probes,
	}
}

// Start samples once and then on every tick until Stop is called or the
// parent context ends. It blocks.
func (rc *ResourceCollector) Start() {
	rc.collect()

	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rc.collect()
		case <-rc.ctx.Done():
			return
		}
	}
}

// Stop ends a running Start. Safe to call more than once.
func (rc *ResourceCollector) Stop() {
	rc.cancel()
}

func (rc *ResourceCollector) collect() {
	if !IsEnabled() {
		return
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	MemoryAllocBytes.Set(float64(ms.Alloc))
	Goroutines.Set(float64(runtime.NumGoroutine()))
	ServerUptime.Set(time.Since(rc.started).Seconds())

	for _, probe := range rc.probes {
		probe()
	}
}

// StartResourceCollector runs a new collector on its own goroutine.
func StartResourceCollector(ctx context.Context, interval time.Duration, probes ...Probe) *ResourceCollector {
	rc := NewResourceCollector(ctx, interval, probes...)
	go rc.Start()
	return rc
}

// ChallengeProbe reports the size of an in-memory challenge store.
func ChallengeProbe(size func() int) Probe {
	return func() { PendingChallenges.Set(float64(size())) }
}
