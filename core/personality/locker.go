package personality

import "context"

// RunLocker serializes analysis runs of a user across processes.
// Lock fails with ErrAnalysisInProgress when another holder owns the user.
type RunLocker interface {
	Lock(ctx context.Context, userID string) (unlock func(), err error)
}

// localLocker is used when runs only need to be serialized within the process.
type localLocker struct{}

func NewLocalLocker() RunLocker { return localLocker{} }

func (localLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}
