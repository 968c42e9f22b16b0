// Package resolver expands short job id prefixes typed on the command line.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dyluth/nlbayes/pkg/jobstore"
)

// MinShortIDLength is the minimum accepted prefix length.
const MinShortIDLength = 6

// maxListed bounds the matches named in an ambiguity message.
const maxListed = 10

// ResolveJobID returns the full id of the single job whose id starts with
// shortID. A full UUID is returned as-is without touching the store.
func ResolveJobID(ctx context.Context, jobs jobstore.JobScanner, shortID string) (string, error) {
	if _, err := uuid.Parse(shortID); err == nil && len(shortID) == 36 {
		return strings.ToLower(shortID), nil
	}

	if len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	matches, err := jobs.ScanJobIDs(ctx, strings.ToLower(shortID))
	if err != nil {
		return "", fmt.Errorf("failed to search for job: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: shortID, Matches: matches}
	}
}

// NotFoundError indicates no job matched the short ID.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no jobs found matching '%s'", e.ShortID)
}

// AmbiguousError indicates several jobs matched the short ID.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d jobs", e.ShortID, len(e.Matches))
}

// Describe lists the first matches and asks for a longer prefix.
func (e *AmbiguousError) Describe() string {
	var b strings.Builder
	n := min(len(e.Matches), maxListed)
	for _, id := range e.Matches[:n] {
		fmt.Fprintf(&b, "  %s\n", id)
	}
	if len(e.Matches) > maxListed {
		fmt.Fprintf(&b, "  ...and %d more\n", len(e.Matches)-maxListed)
	}
	b.WriteString("\nUse a longer prefix to identify the job.")
	return b.String()
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	_, ok := err.(*AmbiguousError)
	return ok
}
