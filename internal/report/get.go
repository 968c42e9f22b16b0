package report

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/nlbayes/pkg/jobstore"
)

// ResultSource fetches decoded posteriors by blob hash.
type ResultSource interface {
	FetchResult(ctx context.Context, hash string) (*jobstore.Posterior, error)
}

// GetResult fetches the posterior stored under hash and writes it in format.
func GetResult(ctx context.Context, src ResultSource, hash string, format OutputFormat, top int, w io.Writer) error {
	if !jobstore.IsValidHash(hash) {
		return fmt.Errorf("invalid result hash: must be 64 lowercase hex characters")
	}

	posterior, err := src.FetchResult(ctx, hash)
	if err != nil {
		if jobstore.IsNotFound(err) {
			return &ResultNotFoundError{Hash: hash}
		}
		return fmt.Errorf("failed to fetch result: %w", err)
	}

	if format == OutputFormatJSON {
		return FormatJSON(w, posterior)
	}
	FormatPosterior(w, posterior, top)
	return nil
}

// ResultNotFoundError lets callers tell a missing result from other failures.
type ResultNotFoundError struct {
	Hash string
}

func (e *ResultNotFoundError) Error() string {
	return fmt.Sprintf("result '%s' not found", e.Hash)
}

// IsNotFound returns true if the error is a ResultNotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*ResultNotFoundError)
	return ok
}
