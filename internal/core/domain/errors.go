package domain

import (
	"errors"
	"fmt"
)

// Sentinel kinds shared across layers. Repositories and clients attach one
// with WrapError; the HTTP adapter maps each kind to a status code.
var (
	ErrDocumentNotFound    = errors.New("document not found")
	ErrRuleNotFound        = errors.New("rule not found")
	ErrApplicationNotFound = errors.New("rule application not found")
	ErrInvalidInput        = errors.New("invalid input")

	// ErrTemporary marks failures worth surfacing as transient: callers may
	// retry, the queue may redeliver, the API answers 503.
	ErrTemporary = errors.New("temporary failure")
)

// WrapError attaches a sentinel kind and an operation label to err while
// keeping both reachable through errors.Is.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
