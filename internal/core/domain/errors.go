package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrTemporary    = errors.New("temporary failure")

	ErrClassificationFailure = errors.New("classification failure")
	ErrRetrieverTransient    = errors.New("retriever transient error")
	ErrRetrieverFatal        = errors.New("retriever fatal error")
	ErrRetrieverTimeout      = errors.New("retriever timeout")
	ErrNoEvidenceFound       = errors.New("no evidence found")
	ErrSynthesisUngrounded   = errors.New("synthesis ungrounded output")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
