package lapi

import (
	"context"
	"iter"
	"time"

	"github.com/fbonalair/crowdsec-stream-bouncer/model"
	"github.com/rs/zerolog/log"
)

type streamConfig struct {
	haltOnError bool
}

type StreamOption func(*streamConfig)

// ContinueOnError keeps polling after a failed fetch instead of ending the stream.
// The minimum interval still applies between attempts.
func ContinueOnError() StreamOption {
	return func(cfg *streamConfig) {
		cfg.haltOnError = false
	}
}

// HaltOnError ends the stream right after yielding the first error. This is the default.
func HaltOnError() StreamOption {
	return func(cfg *streamConfig) {
		cfg.haltOnError = true
	}
}

/*
StreamDecisions polls LAPI forever, never issuing two fetches closer than minInterval apart.
The first fetch goes out immediately. When opts.Startup is set, only the first successful fetch carries it:
the change is made on a private copy, the caller's options are left alone.

The gap is measured from the previous fetch start, so a slow fetch eats into the wait instead of adding to it.

Nothing runs in the background. Breaking out of the range loop stops the stream, cancelling ctx
interrupts a pending wait or an in-flight request and ends the stream without a last element.
A deadline on ctx ends the stream when it passes, not before, even if the next fetch would come later.
*/
func (c *Client) StreamDecisions(ctx context.Context, opts model.StreamOptions, minInterval time.Duration, streamOpts ...StreamOption) iter.Seq2[model.DecisionsResponse, error] {
	cfg := streamConfig{haltOnError: true}
	for _, opt := range streamOpts {
		opt(&cfg)
	}

	return func(yield func(model.DecisionsResponse, error) bool) {
		opts := opts.Clone()
		var lastFetch time.Time

		for {
			if !lastFetch.IsZero() {
				if err := sleep(ctx, throttleDelay(lastFetch, time.Now(), minInterval)); err != nil {
					log.Debug().Err(err).Msg("Decisions stream cancelled while waiting")
					return
				}
			}
			lastFetch = time.Now()

			decisions, err := c.FetchDecisions(ctx, opts)
			if err != nil {
				if ctx.Err() != nil {
					log.Debug().Err(err).Msg("Decisions stream cancelled during fetch")
					return
				}
				if !yield(model.DecisionsResponse{}, err) || cfg.haltOnError {
					return
				}
				continue
			}

			if !yield(decisions, nil) {
				return
			}
			opts.Startup = false
		}
	}
}

// throttleDelay is how long to wait at now so that the next fetch starts minInterval after lastFetch.
func throttleDelay(lastFetch time.Time, now time.Time, minInterval time.Duration) time.Duration {
	elapsed := now.Sub(lastFetch)
	if elapsed >= minInterval {
		return 0
	}
	return minInterval - elapsed
}

func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
