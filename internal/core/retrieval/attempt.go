package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/evidence-router/internal/core/domain"
)

type evidenceFunc func(ctx context.Context) ([]domain.EvidenceItem, error)

// runAttempt executes fn and folds its outcome into a RetrievalAttempt.
// Panics are recovered and reported as fatal errors.
func runAttempt(ctx context.Context, strategy domain.Strategy, fn evidenceFunc) (attempt domain.RetrievalAttempt) {
	start := time.Now()
	attempt.Strategy = strategy

	defer func() {
		if r := recover(); r != nil {
			attempt.Status = domain.AttemptError
			attempt.ErrorKind = domain.ErrorKindFatal
			attempt.ErrorDetail = fmt.Sprintf("retriever panic: %v", r)
			attempt.Evidence = nil
		}
		attempt.LatencyMS = time.Since(start).Milliseconds()
	}()

	if err := ctx.Err(); err != nil {
		return failedAttempt(attempt, ctx, err)
	}

	items, err := fn(ctx)
	if err != nil {
		return failedAttempt(attempt, ctx, err)
	}
	if len(items) == 0 {
		attempt.Status = domain.AttemptEmpty
		return attempt
	}
	for i := range items {
		items[i].OriginStrategy = strategy
	}
	attempt.Status = domain.AttemptOK
	attempt.Evidence = items
	return attempt
}

func failedAttempt(attempt domain.RetrievalAttempt, ctx context.Context, err error) domain.RetrievalAttempt {
	attempt.ErrorDetail = err.Error()
	if IsTimeout(ctx, err) {
		attempt.Status = domain.AttemptTimeout
		return attempt
	}
	attempt.Status = domain.AttemptError
	attempt.ErrorKind = ClassifyErrorKind(err)
	return attempt
}

// IsTimeout reports whether err stems from the attempt deadline or cancellation.
func IsTimeout(ctx context.Context, err error) bool {
	if domain.IsKind(err, domain.ErrRetrieverTimeout) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return ctx != nil && ctx.Err() != nil
}

// ClassifyErrorKind maps an adapter error to the retry taxonomy. Unknown
// errors are fatal: retrying without a transient signal reproduces them.
func ClassifyErrorKind(err error) domain.ErrorKind {
	switch {
	case err == nil:
		return domain.ErrorKindNone
	case domain.IsKind(err, domain.ErrRetrieverFatal):
		return domain.ErrorKindFatal
	case domain.IsKind(err, domain.ErrRetrieverTransient), domain.IsKind(err, domain.ErrTemporary):
		return domain.ErrorKindTransient
	default:
		return domain.ErrorKindFatal
	}
}
