// Package scheduler runs proxy sessions in sequential batches of concurrent
// sessions with a fixed pause between batches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mgruener/proxybatch/pkg/proxylist"
	"github.com/mgruener/proxybatch/pkg/runner"
)

var ErrInvalidRange = errors.New("invalid batch size range")

// SessionRunner runs one session. Implementations must not panic and must
// report failures in the returned Outcome.
type SessionRunner interface {
	Run(ctx context.Context, rec proxylist.Record) runner.Outcome
}

type Config struct {
	MinPerBatch int
	MaxPerBatch int
	Delay       time.Duration
}

func (c Config) validate() error {
	if c.MinPerBatch < 1 || c.MaxPerBatch < c.MinPerBatch {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, c.MinPerBatch, c.MaxPerBatch)
	}
	return nil
}

// Summary counts what a run did.
type Summary struct {
	Batches   int
	Sizes     []int
	Total     int
	Succeeded int
	Failed    int
	Leaked    int
}

type Scheduler struct {
	cfg    Config
	runner SessionRunner
	logger zerolog.Logger
	rng    *rand.Rand
	sleep  func(ctx context.Context, d time.Duration) error
}

type Option func(*Scheduler)

func WithRand(rng *rand.Rand) Option {
	return func(s *Scheduler) { s.rng = rng }
}

// WithSleep replaces the inter-batch pause.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

func New(cfg Config, r SessionRunner, logger zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:    cfg,
		runner: r,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run processes records in order, one batch at a time. Every session of a
// batch has returned before the next batch starts. Run only returns an
// error for an invalid configuration or when ctx is cancelled between
// batches; session failures are counted in the Summary.
func (s *Scheduler) Run(ctx context.Context, records []proxylist.Record) (Summary, error) {
	summary := Summary{Total: len(records)}
	if err := s.cfg.validate(); err != nil {
		return summary, err
	}

	total := len(records)
	s.logger.Info().Int("proxies", total).Msgf("Starting proxy automation for %d proxies in sequential batches", total)

	processed := 0
	for processed < total {
		size := nextSize(s.rng, s.cfg.MinPerBatch, s.cfg.MaxPerBatch, total-processed)
		start, end := processed, processed+size
		batch := records[start:end]

		summary.Batches++
		summary.Sizes = append(summary.Sizes, size)
		l := s.logger.With().Int("batch", summary.Batches).Logger()
		l.Info().Int("size", size).Msgf("Starting batch %d with %d sessions (proxies %d to %d)", summary.Batches, size, start+1, end)

		batchStart := time.Now()
		outcomes := s.runBatch(ctx, batch)

		ok, failed, leaked := 0, 0, 0
		for _, o := range outcomes {
			if o.OK() {
				ok++
			} else {
				failed++
			}
			if o.Leaked {
				leaked++
			}
		}
		summary.Succeeded += ok
		summary.Failed += failed
		summary.Leaked += leaked
		l.Info().Int("ok", ok).Int("failed", failed).Dur("elapsed", time.Since(batchStart)).Msgf("Batch %d finished", summary.Batches)

		processed = end
		if processed < total {
			l.Info().Dur("delay", s.cfg.Delay).Msgf("Waiting %s before next batch", s.cfg.Delay)
			if err := s.sleep(ctx, s.cfg.Delay); err != nil {
				l.Warn().Err(err).Int("remaining", total-processed).Msg("Run cancelled between batches")
				return summary, err
			}
		}
	}

	s.logger.Info().Int("ok", summary.Succeeded).Int("failed", summary.Failed).Msg("All proxies have been processed")
	return summary, nil
}

// runBatch starts one goroutine per record and waits for all of them.
// Outcomes are returned in batch order.
func (s *Scheduler) runBatch(ctx context.Context, batch []proxylist.Record) []runner.Outcome {
	outcomes := make([]runner.Outcome, len(batch))
	var wg sync.WaitGroup
	for i, rec := range batch {
		wg.Add(1)
		go func(i int, rec proxylist.Record) {
			defer wg.Done()
			outcomes[i] = s.runner.Run(ctx, rec)
		}(i, rec)
	}
	wg.Wait()
	return outcomes
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
