// Package gate implements the per-channel deliverability breaker.
//
// A channel is unhealthy when, over the trailing window, the share of failed
// outbound attempts reaches the configured maximum. Small samples are always
// healthy. The breaker is binary and recomputed on every run, so recovery is
// automatic once old failures age out of the window.
package gate

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/callcatcherops/autonomy/internal/config"
	"github.com/callcatcherops/autonomy/internal/store"
)

// StatsSource is implemented by *store.Store.
type StatsSource interface {
	ChannelStats(ctx context.Context, ch store.Channel, since time.Time, failureOutcomes []string) (store.ChannelStats, error)
}

// FailureOutcomes returns the outbound outcomes that count against a channel.
// Inbound bounces always count and are added by the store.
func FailureOutcomes(ch store.Channel) []string {
	switch ch {
	case store.ChannelVoice:
		return []string{store.OutcomeFailed}
	case store.ChannelEmail:
		return []string{store.OutcomeFailed, store.OutcomeError, store.OutcomeBounced}
	default:
		return []string{store.OutcomeFailed, store.OutcomeError}
	}
}

// Status is the evaluated health of one channel.
type Status struct {
	Channel   store.Channel `json:"channel"`
	Healthy   bool          `json:"healthy"`
	Outbound  int           `json:"outbound"`
	Failures  int           `json:"failures"`
	Rate      float64       `json:"rate"`
	Threshold float64       `json:"threshold"`
	MinSample int           `json:"min_sample"`
}

// Healthy applies the breaker rule to raw counts.
func Healthy(outbound, failures, minSample int, maxFailureRate float64) bool {
	if outbound < minSample || outbound == 0 {
		return true
	}
	return big.NewRat(int64(failures), int64(outbound)).Cmp(threshold(maxFailureRate)) < 0
}

// threshold reads the configured rate as the decimal it was written as, so
// 0.1 means exactly 1/10 rather than its binary approximation.
func threshold(maxFailureRate float64) *big.Rat {
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(maxFailureRate, 'g', -1, 64))
	if !ok {
		r = new(big.Rat)
		if maxFailureRate > 0 {
			r.SetInt64(1 << 62)
		}
	}
	return r
}

// Gate evaluates channel health from store history.
type Gate struct {
	stats StatsSource
	now   func() time.Time
}

// New returns a Gate reading from stats.
func New(stats StatsSource) *Gate {
	return &Gate{stats: stats, now: time.Now}
}

// SetClock overrides the time source for window computation.
func (g *Gate) SetClock(now func() time.Time) { g.now = now }

// IsChannelHealthy reports whether sends on ch are currently allowed.
func (g *Gate) IsChannelHealthy(ctx context.Context, ch store.Channel, windowDays, minSample int, maxFailureRate float64) (bool, error) {
	st, err := g.check(ctx, ch, windowDays, minSample, maxFailureRate)
	if err != nil {
		return false, err
	}
	return st.Healthy, nil
}

// Check evaluates one channel against its policy.
func (g *Gate) Check(ctx context.Context, ch store.Channel, p config.ChannelPolicy) (Status, error) {
	return g.check(ctx, ch, p.WindowDays, p.MinSample, p.MaxFailureRate)
}

func (g *Gate) check(ctx context.Context, ch store.Channel, windowDays, minSample int, maxFailureRate float64) (Status, error) {
	since := g.now().Add(-time.Duration(windowDays) * 24 * time.Hour)
	stats, err := g.stats.ChannelStats(ctx, ch, since, FailureOutcomes(ch))
	if err != nil {
		return Status{}, fmt.Errorf("gate %s: %w", ch, err)
	}
	st := Status{
		Channel:   ch,
		Outbound:  stats.Outbound,
		Failures:  stats.Failures,
		Threshold: maxFailureRate,
		MinSample: minSample,
	}
	if stats.Outbound > 0 {
		st.Rate = float64(stats.Failures) / float64(stats.Outbound)
	}
	st.Healthy = Healthy(stats.Outbound, stats.Failures, minSample, maxFailureRate)
	return st, nil
}

// Evaluate checks every enabled channel. Disabled channels are omitted.
func (g *Gate) Evaluate(ctx context.Context, cfg *config.Config) (map[store.Channel]Status, error) {
	out := make(map[store.Channel]Status, len(store.Channels))
	for _, ch := range store.Channels {
		p, _ := cfg.Policy(string(ch))
		if !p.Enabled {
			continue
		}
		st, err := g.Check(ctx, ch, p)
		if err != nil {
			return nil, err
		}
		out[ch] = st
	}
	return out, nil
}
