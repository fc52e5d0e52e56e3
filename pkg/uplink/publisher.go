package uplink

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sethvargo/go-retry"
	log "github.com/sirupsen/logrus"
)

// Join defaults: ten attempts, eight seconds apart.
const (
	DefaultJoinAttempts = 10
	DefaultJoinDelay    = 8 * time.Second
)

// Publisher fans a message out to every sink, retrying each with
// exponential backoff.
type Publisher struct {
	sinks           []Sink
	maxRetries      uint64
	initialInterval time.Duration

	published atomic.Uint64
	failed    atomic.Uint64
}

func NewPublisher(sinks ...Sink) *Publisher {
	return &Publisher{
		sinks:           sinks,
		maxRetries:      3,
		initialInterval: 200 * time.Millisecond,
	}
}

// WithRetry overrides the per-sink retry policy.
func (p *Publisher) WithRetry(maxRetries uint64, initial time.Duration) *Publisher {
	p.maxRetries = maxRetries
	p.initialInterval = initial
	return p
}

// Sinks returns the configured sinks.
func (p *Publisher) Sinks() []Sink {
	return p.sinks
}

// Publish delivers msg to all sinks and joins the errors of those that
// still failed after retrying.
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	var errs []error
	for _, sink := range p.sinks {
		operation := func() error {
			return sink.Publish(ctx, msg)
		}

		expo := backoff.NewExponentialBackOff()
		expo.InitialInterval = p.initialInterval
		policy := backoff.WithContext(backoff.WithMaxRetries(expo, p.maxRetries), ctx)

		if err := backoff.Retry(operation, policy); err != nil {
			p.failed.Add(1)
			log.WithError(err).WithFields(log.Fields{
				"sink":       sink.Name(),
				"message_id": msg.ID.String(),
			}).Warn("[UPLINK] publish failed")
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			continue
		}
		p.published.Add(1)
	}
	return errors.Join(errs...)
}

func (p *Publisher) GetStats() map[string]interface{} {
	names := make([]string, 0, len(p.sinks))
	for _, s := range p.sinks {
		names = append(names, s.Name())
	}
	return map[string]interface{}{
		"sinks":     names,
		"published": p.published.Load(),
		"failed":    p.failed.Load(),
	}
}

// Join establishes the session of j, retrying a fixed number of times with
// a constant delay.
func Join(ctx context.Context, j Joiner, attempts uint64, delay time.Duration) error {
	if attempts == 0 {
		attempts = DefaultJoinAttempts
	}
	policy := retry.WithMaxRetries(attempts-1, retry.NewConstant(delay))

	tries := 0
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		tries++
		if err := j.Join(ctx); err != nil {
			log.WithError(err).WithField("attempt", tries).Warn("[UPLINK] join failed")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("join failed after %d attempts: %w", tries, err)
	}
	log.WithField("attempts", tries).Info("[UPLINK] joined")
	return nil
}
