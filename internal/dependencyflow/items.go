package dependencyflow

import (
	"strings"

	"github.com/rzbill/pcs/internal/workitem"
)

// Type tags.
const (
	TypeSubscriptionTrigger = "SubscriptionTrigger"
	TypeSubscriptionUpdate  = "SubscriptionUpdate"
	TypePullRequestCheck    = "PullRequestCheck"
	TypeBuildCoherencyInfo  = "BuildCoherencyInfo"
	TypeBackflowValidation  = "BackflowValidation"
)

// UpdaterID names the pull request updater for a target repository and
// branch, e.g. "dotnet-runtime_main".
func UpdaterID(repository, branch string) string {
	r := strings.NewReplacer("/", "-", ":", "-", " ", "-")
	return r.Replace(strings.ToLower(repository)) + "_" + r.Replace(strings.ToLower(branch))
}

// SyncKey is the lock key shared by every item touching updater.
func SyncKey(updater string) string { return "PullRequestUpdater_" + updater }

// SubscriptionTrigger announces that build is available to a subscription.
type SubscriptionTrigger struct {
	workitem.Base
	SubscriptionID   string `json:"subscriptionId"`
	BuildID          int64  `json:"buildId"`
	TargetRepository string `json:"targetRepository"`
	TargetBranch     string `json:"targetBranch"`
	// Force re-applies a build the subscription already consumed.
	Force bool `json:"force,omitempty"`
}

func (*SubscriptionTrigger) Type() string { return TypeSubscriptionTrigger }

// SubscriptionUpdate applies one build to the target's pull request.
type SubscriptionUpdate struct {
	workitem.Base
	SubscriptionID   string `json:"subscriptionId"`
	BuildID          int64  `json:"buildId"`
	TargetRepository string `json:"targetRepository"`
	TargetBranch     string `json:"targetBranch"`
}

func (*SubscriptionUpdate) Type() string { return TypeSubscriptionUpdate }

func (u *SubscriptionUpdate) updater() string { return UpdaterID(u.TargetRepository, u.TargetBranch) }

// PullRequestCheck polls the state of an updater's pull request.
type PullRequestCheck struct {
	workitem.Base
	UpdaterID        string `json:"updaterId"`
	TargetRepository string `json:"targetRepository"`
	Number           int64  `json:"number"`
}

func (*PullRequestCheck) Type() string { return TypePullRequestCheck }

// Dependency is one asset a build depends on.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	// Pinned dependencies are exempt from coherency checks.
	Pinned bool `json:"pinned,omitempty"`
}

// BuildCoherencyInfo computes which of a build's dependencies disagree on
// version.
type BuildCoherencyInfo struct {
	workitem.Base
	BuildID      int64        `json:"buildId"`
	Dependencies []Dependency `json:"dependencies"`
}

func (*BuildCoherencyInfo) Type() string { return TypeBuildCoherencyInfo }

// BackflowValidation computes, per branch, whether a VMR commit has flowed
// back to the product repositories.
type BackflowValidation struct {
	workitem.Base
	VmrCommitSha string   `json:"vmrCommitSha"`
	Branches     []string `json:"branches"`
	Repositories []string `json:"repositories"`
}

func (*BackflowValidation) Type() string { return TypeBackflowValidation }
