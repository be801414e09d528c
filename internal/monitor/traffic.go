package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tomek7667/rendermon/internal/counter"
)

// Bootstrap seeds the counter baseline. If the counters cannot be read the
// baseline is zero and the first rate computed afterwards covers the whole
// counter value.
func (m *LinkMonitor) Bootstrap(ctx context.Context) {
	if m.probes.Counters == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	octets, err := m.probes.Counters.ReadOctets(ctx)
	if err != nil {
		m.log.Warn("failed to bootstrap link counters, starting from zero", zap.Error(err))
	}
	m.prevIn, m.prevOut = octets.In, octets.Out
	m.lastSample = m.clock.Now()
	m.bootstrapped = true
}

// TickCounters samples the counters once and publishes the rates since the
// last successful sample. On error nothing is published and the baseline
// is kept, so the next successful tick measures across the gap.
func (m *LinkMonitor) TickCounters(ctx context.Context) error {
	if m.probes.Counters == nil {
		return nil
	}
	if !m.bootstrapped {
		m.Bootstrap(ctx)
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	octets, err := m.probes.Counters.ReadOctets(pctx)
	if err != nil {
		return fmt.Errorf("read link counters: %w", err)
	}

	now := m.clock.Now()
	elapsed := now.Sub(m.lastSample)
	width := m.probes.Counters.Width()

	rateIn, err := counter.Rate(counter.Delta(m.prevIn, octets.In, width), elapsed)
	if err != nil {
		return err
	}
	rateOut, err := counter.Rate(counter.Delta(m.prevOut, octets.Out, width), elapsed)
	if err != nil {
		return err
	}

	m.prevIn, m.prevOut = octets.In, octets.Out
	m.lastSample = now
	m.store.UpdateTraffic(counter.Round(rateIn, 2), counter.Round(rateOut, 2), now)
	return nil
}

// RunCounters bootstraps and then samples every CounterInterval until ctx
// is cancelled.
func (m *LinkMonitor) RunCounters(ctx context.Context) error {
	if m.probes.Counters == nil {
		m.log.Info("no link counter source configured, traffic disabled")
		return nil
	}
	m.Bootstrap(ctx)

	ticker := time.NewTicker(m.cfg.CounterInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return nil
		}
		m.reportCounterResult(m.TickCounters(ctx))
	}
}

// reportCounterResult logs transitions between failing and healthy rather
// than every failed sample of a fast loop.
func (m *LinkMonitor) reportCounterResult(err error) {
	switch {
	case err != nil && errors.Is(err, counter.ErrNoElapsed):
		m.log.Debug("skipping counter sample", zap.Error(err))
	case err != nil && !m.failing:
		m.failing = true
		m.log.Warn("link counter sampling failed", zap.Error(err))
	case err != nil:
		m.log.Debug("link counter sampling still failing", zap.Error(err))
	case m.failing:
		m.failing = false
		m.log.Info("link counter sampling recovered")
	}
}
