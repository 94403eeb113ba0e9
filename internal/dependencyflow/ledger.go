package dependencyflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	pebblestore "github.com/rzbill/pcs/internal/storage/pebble"
)

// Key layout:
//
//	df/sub/{subscriptionId}   SubscriptionState
//	df/pr/{updaterId}         PullRequest (open pull request of an updater)
//	df/prseq                  last issued pull request number
//	df/coherency/{buildId}    CoherencyReport
//	df/backflow/{sha}         BackflowStatus
const (
	subPrefix       = "df/sub/"
	prPrefix        = "df/pr/"
	prSeqKey        = "df/prseq"
	coherencyPrefix = "df/coherency/"
	backflowPrefix  = "df/backflow/"
)

// SubscriptionState records the newest build a subscription applied.
type SubscriptionState struct {
	SubscriptionID string    `json:"subscriptionId"`
	LastBuildID    int64     `json:"lastBuildId"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// PullRequest is an updater's open pull request.
type PullRequest struct {
	UpdaterID        string           `json:"updaterId"`
	TargetRepository string           `json:"targetRepository"`
	TargetBranch     string           `json:"targetBranch"`
	Number           int64            `json:"number"`
	Builds           map[string]int64 `json:"builds"` // subscription id -> build id
	// CheckScheduled is set once a PullRequestCheck for this pull request
	// has been enqueued; each check re-enqueues the next one itself.
	CheckScheduled   bool             `json:"checkScheduled,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// CoherencyReport lists dependency names resolved at more than one version.
type CoherencyReport struct {
	BuildID      int64               `json:"buildId"`
	Incoherent   map[string][]string `json:"incoherent,omitempty"`
	Coherent     bool                `json:"coherent"`
	Dependencies int                 `json:"dependencies"`
	ComputedAt   time.Time           `json:"computedAt"`
}

// BranchBackflow is the backflow status of one branch.
type BranchBackflow struct {
	Branch  string          `json:"branch"`
	Flowed  map[string]bool `json:"flowed"` // repository -> has the commit
	Pending []string        `json:"pending,omitempty"`
}

// BackflowStatus is the computed status of one VMR commit.
type BackflowStatus struct {
	VmrCommitSha string           `json:"vmrCommitSha"`
	Branches     []BranchBackflow `json:"branches"`
	ComputedAt   time.Time        `json:"computedAt"`
}

// Ledger is the dependency-flow state store.
type Ledger struct {
	db *pebblestore.DB
	mu sync.Mutex // serializes read-modify-write sequences
}

// NewLedger returns a ledger over db.
func NewLedger(db *pebblestore.DB) *Ledger { return &Ledger{db: db} }

func (l *Ledger) get(key string, v any) (bool, error) {
	b, err := l.db.Get([]byte(key))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dependencyflow: read %s: %w", key, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("dependencyflow: decode %s: %w", key, err)
	}
	return true, nil
}

func (l *Ledger) put(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := l.db.Set([]byte(key), b); err != nil {
		return fmt.Errorf("dependencyflow: write %s: %w", key, err)
	}
	return nil
}

// Subscription returns the state of id, or ok=false if it never applied a
// build.
func (l *Ledger) Subscription(id string) (s SubscriptionState, ok bool, err error) {
	ok, err = l.get(subPrefix+id, &s)
	return s, ok, err
}

// MarkApplied records build as applied by subscription id unless a newer one
// already was. It reports whether the record changed.
func (l *Ledger) MarkApplied(id string, build int64, now time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var s SubscriptionState
	found, err := l.get(subPrefix+id, &s)
	if err != nil {
		return false, err
	}
	if found && s.LastBuildID >= build {
		return false, nil
	}
	return true, l.put(subPrefix+id, SubscriptionState{SubscriptionID: id, LastBuildID: build, UpdatedAt: now})
}

// PullRequest returns the open pull request of updater.
func (l *Ledger) PullRequest(updater string) (pr PullRequest, ok bool, err error) {
	ok, err = l.get(prPrefix+updater, &pr)
	return pr, ok, err
}

// UpsertPullRequest adds subscription's build to the updater's open pull
// request, opening one when none exists. created reports a new pull request.
func (l *Ledger) UpsertPullRequest(u *SubscriptionUpdate, now time.Time) (pr PullRequest, created bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	updater := u.updater()
	found, err := l.get(prPrefix+updater, &pr)
	if err != nil {
		return PullRequest{}, false, err
	}
	if !found {
		n, err := l.nextNumber()
		if err != nil {
			return PullRequest{}, false, err
		}
		pr = PullRequest{
			UpdaterID:        updater,
			TargetRepository: u.TargetRepository,
			TargetBranch:     u.TargetBranch,
			Number:           n,
			Builds:           map[string]int64{},
			CreatedAt:        now,
		}
	}
	if pr.Builds[u.SubscriptionID] < u.BuildID {
		pr.Builds[u.SubscriptionID] = u.BuildID
	}
	pr.UpdatedAt = now
	return pr, !found, l.put(prPrefix+updater, pr)
}

// MarkCheckScheduled records that updater's pull request number has a
// check queued. It reports false when that pull request is no longer open.
func (l *Ledger) MarkCheckScheduled(updater string, number int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var pr PullRequest
	found, err := l.get(prPrefix+updater, &pr)
	if err != nil || !found || pr.Number != number {
		return false, err
	}
	if pr.CheckScheduled {
		return true, nil
	}
	pr.CheckScheduled = true
	return true, l.put(prPrefix+updater, pr)
}

// ClosePullRequest forgets updater's pull request if it is still number.
func (l *Ledger) ClosePullRequest(updater string, number int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var pr PullRequest
	found, err := l.get(prPrefix+updater, &pr)
	if err != nil || !found || pr.Number != number {
		return false, err
	}
	if err := l.db.Delete([]byte(prPrefix + updater)); err != nil {
		return false, fmt.Errorf("dependencyflow: close pull request %s: %w", updater, err)
	}
	return true, nil
}

// OpenPullRequests lists every open pull request ordered by updater.
func (l *Ledger) OpenPullRequests() ([]PullRequest, error) {
	var out []PullRequest
	var decodeErr error
	err := l.db.ScanPrefix([]byte(prPrefix), func(_, v []byte) bool {
		var pr PullRequest
		if decodeErr = json.Unmarshal(v, &pr); decodeErr != nil {
			return false
		}
		out = append(out, pr)
		return true
	})
	if err == nil {
		err = decodeErr
	}
	return out, err
}

func (l *Ledger) nextNumber() (int64, error) {
	var n int64
	b, err := l.db.Get([]byte(prSeqKey))
	switch {
	case errors.Is(err, pebblestore.ErrNotFound):
	case err != nil:
		return 0, err
	default:
		if n, err = strconv.ParseInt(string(b), 10, 64); err != nil {
			return 0, fmt.Errorf("dependencyflow: corrupt pull request counter: %w", err)
		}
	}
	n++
	return n, l.db.Set([]byte(prSeqKey), []byte(strconv.FormatInt(n, 10)))
}

// Coherency returns the stored report for build.
func (l *Ledger) Coherency(build int64) (r CoherencyReport, ok bool, err error) {
	ok, err = l.get(coherencyPrefix+strconv.FormatInt(build, 10), &r)
	return r, ok, err
}

// PutCoherency stores r.
func (l *Ledger) PutCoherency(r CoherencyReport) error {
	return l.put(coherencyPrefix+strconv.FormatInt(r.BuildID, 10), r)
}

// Backflow returns the stored status for sha.
func (l *Ledger) Backflow(sha string) (s BackflowStatus, ok bool, err error) {
	ok, err = l.get(backflowPrefix+sha, &s)
	return s, ok, err
}

// PutBackflow stores s.
func (l *Ledger) PutBackflow(s BackflowStatus) error {
	sort.Slice(s.Branches, func(i, j int) bool { return s.Branches[i].Branch < s.Branches[j].Branch })
	return l.put(backflowPrefix+s.VmrCommitSha, s)
}
