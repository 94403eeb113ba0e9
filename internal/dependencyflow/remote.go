package dependencyflow

import "context"

// PullRequestStatus is the code host's view of a pull request.
type PullRequestStatus int

const (
	PullRequestOpen PullRequestStatus = iota
	PullRequestMerged
	PullRequestClosed
)

func (s PullRequestStatus) String() string {
	switch s {
	case PullRequestOpen:
		return "open"
	case PullRequestMerged:
		return "merged"
	case PullRequestClosed:
		return "closed"
	}
	return "unknown"
}

// Remote is the code host the processors query.
type Remote interface {
	PullRequestStatus(ctx context.Context, repository string, number int64) (PullRequestStatus, error)
	// HasCommit reports whether branch of repository contains sha.
	HasCommit(ctx context.Context, repository, branch, sha string) (bool, error)
}

// OfflineRemote stands in for a code host when none is configured: every
// pull request reads as merged and every commit as present.
type OfflineRemote struct{}

func (OfflineRemote) PullRequestStatus(context.Context, string, int64) (PullRequestStatus, error) {
	return PullRequestMerged, nil
}

func (OfflineRemote) HasCommit(context.Context, string, string, string) (bool, error) {
	return true, nil
}
