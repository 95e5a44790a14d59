package summary

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/warmline/warmline/types"
)

// Requester runs one bounded summary generation: truncate, consult the
// cache, call the model chain, classify the outcome. Callers dispatch it on
// their own goroutine and feed the result back into the transfer state
// machine.
type Requester struct {
	client    Client
	truncator *Truncator
	cache     *Cache
	timeout   time.Duration
	logger    *zap.Logger
}

// NewRequester wires a requester. cache may be nil to disable memoization.
func NewRequester(client Client, truncator *Truncator, cache *Cache, timeout time.Duration, logger *zap.Logger) *Requester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Requester{
		client:    client,
		truncator: truncator,
		cache:     cache,
		timeout:   timeout,
		logger:    logger.With(zap.String("component", "summary_requester")),
	}
}

// Request generates a summary for the transcript. Errors carry a
// SUMMARY_TIMEOUT or SUMMARY_FAILED code so the state machine can decide
// between retry and termination. A cancelled context returns
// context.Canceled untouched; the caller initiated it and needs no summary.
func (r *Requester) Request(ctx context.Context, transcript string) (*types.Summary, error) {
	bounded := transcript
	if r.truncator != nil {
		var cut bool
		bounded, cut = r.truncator.Truncate(transcript)
		if cut {
			r.logger.Info("transcript truncated for summarization")
		}
	}

	if r.cache != nil {
		if s := r.cache.Get(ctx, bounded); s != nil {
			r.logger.Debug("summary served from cache")
			return s, nil
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	s, err := r.client.Summarize(reqCtx, bounded)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return nil, context.Canceled
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.NewError(types.ErrSummaryTimeout, "summary generation timed out").
				WithCause(err).
				WithRetryable(true)
		}
		var typed *types.Error
		if errors.As(err, &typed) && typed.Code == types.ErrSummaryFailed {
			return nil, typed.WithRetryable(true)
		}
		return nil, types.NewError(types.ErrSummaryFailed, "summary generation failed").
			WithCause(err).
			WithRetryable(true)
	}

	if r.cache != nil {
		// Detached context: the store must not be lost to a request-scoped
		// cancel that fires after generation succeeded.
		storeCtx, storeCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer storeCancel()
		r.cache.Put(storeCtx, bounded, s)
	}

	return s, nil
}
