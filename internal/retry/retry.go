// Package retry provides the exponential backoff policy applied to remote commands.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	apperrors "github.com/fgeck/mysql-sync-manager/internal/errors"
	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/rs/zerolog"
)

// maxInterval caps a single delay; the budget is bounded by MaxRetries, not elapsed time.
const maxInterval = time.Hour

// Operation is a fallible unit of work.
type Operation func(ctx context.Context) error

// Policy retries an operation up to MaxRetries times with multiplicative delay.
type Policy struct {
	settings models.RetrySettings
	timer    backoff.Timer
	logger   zerolog.Logger
}

// New creates a retry policy.
func New(logger zerolog.Logger, settings models.RetrySettings) *Policy {
	return &Policy{
		settings: settings,
		logger:   logger,
	}
}

// NewWithTimer creates a retry policy with a custom timer (for testing).
func NewWithTimer(logger zerolog.Logger, settings models.RetrySettings, timer backoff.Timer) *Policy {
	return &Policy{
		settings: settings,
		timer:    timer,
		logger:   logger,
	}
}

// Settings returns the policy's budget.
func (p *Policy) Settings() models.RetrySettings {
	return p.settings
}

// Stop marks err as permanent: Do returns it unchanged without further attempts.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do invokes op until it succeeds, returns a Stop error, the context ends,
// or the budget is spent. Exhaustion yields *apperrors.PolicyExhaustedError.
func (p *Policy) Do(ctx context.Context, op Operation) error {
	var (
		attempts  int
		last      error
		permanent bool
	)

	operation := func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		last = err
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		p.logger.Warn().
			Err(err).
			Int("attempt", attempts).
			Int("max_retries", p.settings.MaxRetries).
			Dur("next_delay", next).
			Msg("attempt failed, retrying")
	}

	err := backoff.RetryNotifyWithTimer(operation, p.newBackOff(ctx), notify, p.timer)
	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	case ctx.Err() != nil:
		return err
	}

	return &apperrors.PolicyExhaustedError{
		Retries:  p.settings.MaxRetries,
		Attempts: attempts,
		Err:      last,
	}
}

func (p *Policy) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.settings.InitialDelay
	b.Multiplier = p.settings.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	retries := p.settings.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}
