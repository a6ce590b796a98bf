package ai

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/alfan-chat/relay/internal/config"
	"github.com/sirupsen/logrus"
)

// AttemptFunc performs one generation attempt against a single model.
type AttemptFunc func(ctx context.Context, model string) error

// Policy drives attempts across the candidate models with bounded retries and
// exponential backoff.
type Policy struct {
	Models        []string
	MaxRetries    int
	BackoffFactor float64

	// Sleep waits between attempts. Tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnAttempt, when set, is told about every finished attempt.
	OnAttempt func(model string, err error, elapsed time.Duration)

	Logger *logrus.Logger
}

// NewPolicy builds a policy from the gemini config section.
func NewPolicy(cfg *config.GeminiConfig, logger *logrus.Logger) *Policy {
	models := make([]string, len(cfg.Models))
	copy(models, cfg.Models)
	return &Policy{
		Models:        models,
		MaxRetries:    cfg.MaxRetries,
		BackoffFactor: cfg.BackoffFactor,
		Sleep:         sleepContext,
		Logger:        logger,
	}
}

// Run calls attempt until one succeeds. Credential errors and halted errors
// end the run at once, a missing model moves on to the next candidate, and
// everything else is retried up to MaxRetries times per model. When all
// candidates are used up it returns an *ExhaustedError.
func (p *Policy) Run(ctx context.Context, attempt AttemptFunc) error {
	var (
		last       error
		lastStatus int
		total      int
	)

candidates:
	for _, model := range p.Models {
		for n := 0; n <= p.MaxRetries; n++ {
			if err := ctx.Err(); err != nil {
				return err
			}

			total++
			start := time.Now()
			err := attempt(ctx, model)
			if p.OnAttempt != nil {
				p.OnAttempt(model, err, time.Since(start))
			}
			if err == nil {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			var halt *haltError
			if errors.As(err, &halt) {
				return halt.err
			}

			last = err
			lastStatus = 0
			var upErr *UpstreamError
			if errors.As(err, &upErr) {
				lastStatus = upErr.Status
				switch upErr.Kind {
				case KindCredential:
					return err
				case KindModelUnavailable:
					p.log().WithFields(logrus.Fields{
						"model":  model,
						"status": upErr.Status,
					}).Warn("Candidate model unavailable, trying next")
					continue candidates
				}
			}

			if n == p.MaxRetries {
				break
			}

			wait := p.backoff(n + 1)
			p.log().WithFields(logrus.Fields{
				"model":   model,
				"attempt": n + 1,
				"wait":    wait,
				"error":   err.Error(),
			}).Warn("Upstream attempt failed, retrying...")

			if err := p.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	return &ExhaustedError{
		Models:     p.Models,
		Attempts:   total,
		LastStatus: lastStatus,
		Last:       last,
	}
}

// backoff returns BackoffFactor^attempt seconds.
func (p *Policy) backoff(attempt int) time.Duration {
	secs := math.Pow(p.BackoffFactor, float64(attempt))
	return time.Duration(secs * float64(time.Second))
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func (p *Policy) log() *logrus.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return logrus.StandardLogger()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
