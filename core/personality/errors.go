package personality

import "github.com/pkg/errors"

var (
	// ErrInsufficientSignal means the scorer cannot produce a meaningful vector. Permanent for the run.
	ErrInsufficientSignal = errors.New("insufficient signal")
	// ErrScoringUnavailable means the scorer failed transiently.
	ErrScoringUnavailable = errors.New("scoring unavailable")
	// ErrAnalysisInProgress means another run holds the user.
	ErrAnalysisInProgress = errors.New("analysis in progress")
	// ErrNotAnalyzed means the user has never been analyzed.
	ErrNotAnalyzed = errors.New("user not analyzed")
	// ErrNoPendingSignals means a scheduled sweep found nothing to score.
	ErrNoPendingSignals = errors.New("no pending signals")
	// ErrStaleAnalysis means another analysis committed since the run started.
	ErrStaleAnalysis = errors.New("stale analysis")

	ErrUserNotFound = errors.New("user not found")
)

// IsTransient reports whether a failed run may succeed when retried later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrScoringUnavailable) || errors.Is(err, ErrAnalysisInProgress)
}
