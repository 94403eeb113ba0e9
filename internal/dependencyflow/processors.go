package dependencyflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rzbill/pcs/internal/workitem"
	logpkg "github.com/rzbill/pcs/pkg/log"
)

// Deps are the collaborators shared by every processor.
type Deps struct {
	Ledger   *Ledger
	Producer *workitem.Producer
	Remote   Remote
	// CheckInterval delays each PullRequestCheck. Defaults to 5 minutes.
	CheckInterval time.Duration
	Now           func() time.Time
}

func (d *Deps) withDefaults() error {
	if d.Ledger == nil || d.Producer == nil {
		return errors.New("dependencyflow: Ledger and Producer are required")
	}
	if d.Remote == nil {
		d.Remote = OfflineRemote{}
	}
	if d.CheckInterval <= 0 {
		d.CheckInterval = 5 * time.Minute
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return nil
}

// Register adds every dependency-flow type to r.
func Register(r *workitem.Registry, deps Deps) error {
	if err := deps.withDefaults(); err != nil {
		return err
	}
	pullRequests := func(res *workitem.Resources) (workitem.Processor, error) {
		return &pullRequestProcessor{deps: deps, log: res.Logger}, nil
	}
	return errors.Join(
		workitem.RegisterType[SubscriptionTrigger](r, func(res *workitem.Resources) (workitem.Processor, error) {
			return &triggerProcessor{deps: deps, log: res.Logger}, nil
		}),
		// one processor owns everything keyed by a pull request updater
		workitem.RegisterType[SubscriptionUpdate](r, pullRequests),
		workitem.RegisterType[PullRequestCheck](r, pullRequests),
		workitem.RegisterType[BuildCoherencyInfo](r, func(res *workitem.Resources) (workitem.Processor, error) {
			return &coherencyProcessor{deps: deps, log: res.Logger}, nil
		}),
		workitem.RegisterType[BackflowValidation](r, func(res *workitem.Resources) (workitem.Processor, error) {
			return &backflowProcessor{deps: deps, log: res.Logger}, nil
		}),
	)
}

type triggerProcessor struct {
	deps Deps
	log  logpkg.Logger
}

func (p *triggerProcessor) Process(ctx context.Context, item workitem.WorkItem) (bool, error) {
	t := item.(*SubscriptionTrigger)
	if t.SubscriptionID == "" || t.TargetRepository == "" || t.TargetBranch == "" {
		return false, fmt.Errorf("dependencyflow: trigger %s lacks subscription or target", t.ID())
	}
	state, ok, err := p.deps.Ledger.Subscription(t.SubscriptionID)
	if err != nil {
		return false, err
	}
	if ok && state.LastBuildID >= t.BuildID && !t.Force {
		p.log.Info("build already applied; nothing to do",
			logpkg.Str("subscription", t.SubscriptionID), logpkg.Int64("build", t.BuildID), logpkg.Int64("last_build", state.LastBuildID))
		return true, nil
	}
	_, err = p.deps.Producer.Enqueue(ctx, &SubscriptionUpdate{
		SubscriptionID:   t.SubscriptionID,
		BuildID:          t.BuildID,
		TargetRepository: t.TargetRepository,
		TargetBranch:     t.TargetBranch,
	}, 0)
	if err != nil {
		return false, err
	}
	return true, nil
}

// pullRequestProcessor handles SubscriptionUpdate and PullRequestCheck.
type pullRequestProcessor struct {
	deps Deps
	log  logpkg.Logger
}

func (p *pullRequestProcessor) SynchronizationKey(item workitem.WorkItem) string {
	switch it := item.(type) {
	case *SubscriptionUpdate:
		return SyncKey(it.updater())
	case *PullRequestCheck:
		return SyncKey(it.UpdaterID)
	}
	return ""
}

func (p *pullRequestProcessor) Process(ctx context.Context, item workitem.WorkItem) (bool, error) {
	switch it := item.(type) {
	case *SubscriptionUpdate:
		return p.update(ctx, it)
	case *PullRequestCheck:
		return p.check(ctx, it)
	}
	return false, fmt.Errorf("dependencyflow: unexpected %s", item.Type())
}

// update records the build on the updater's pull request, makes sure a
// check is queued for it and only then marks the build applied, so a retry
// after any failed step redoes the missing steps.
func (p *pullRequestProcessor) update(ctx context.Context, u *SubscriptionUpdate) (bool, error) {
	state, ok, err := p.deps.Ledger.Subscription(u.SubscriptionID)
	if err != nil {
		return false, err
	}
	if ok && state.LastBuildID >= u.BuildID {
		p.log.Info("stale subscription update ignored", logpkg.Int64("build", u.BuildID), logpkg.Int64("last_build", state.LastBuildID))
		pr, open, err := p.deps.Ledger.PullRequest(u.updater())
		if err != nil || !open {
			return err == nil, err
		}
		if err := p.ensureCheck(ctx, pr); err != nil {
			return false, err
		}
		return true, nil
	}
	now := p.deps.Now()
	pr, created, err := p.deps.Ledger.UpsertPullRequest(u, now)
	if err != nil {
		return false, err
	}
	if created {
		p.log.Info("opened pull request", logpkg.Str("updater", pr.UpdaterID), logpkg.Int64("number", pr.Number))
	} else {
		p.log.Info("updated pull request", logpkg.Str("updater", pr.UpdaterID), logpkg.Int64("number", pr.Number), logpkg.Int("subscriptions", len(pr.Builds)))
	}
	if err := p.ensureCheck(ctx, pr); err != nil {
		return false, err
	}
	if _, err := p.deps.Ledger.MarkApplied(u.SubscriptionID, u.BuildID, now); err != nil {
		return false, err
	}
	return true, nil
}

// ensureCheck enqueues the first check of pr unless one is recorded. A crash
// between the enqueue and the record queues a second check, which the check
// handler tolerates.
func (p *pullRequestProcessor) ensureCheck(ctx context.Context, pr PullRequest) error {
	if pr.CheckScheduled {
		return nil
	}
	if err := p.scheduleCheck(ctx, pr); err != nil {
		return err
	}
	_, err := p.deps.Ledger.MarkCheckScheduled(pr.UpdaterID, pr.Number)
	return err
}

func (p *pullRequestProcessor) scheduleCheck(ctx context.Context, pr PullRequest) error {
	_, err := p.deps.Producer.Enqueue(ctx, &PullRequestCheck{
		UpdaterID:        pr.UpdaterID,
		TargetRepository: pr.TargetRepository,
		Number:           pr.Number,
	}, p.deps.CheckInterval)
	return err
}

func (p *pullRequestProcessor) check(ctx context.Context, c *PullRequestCheck) (bool, error) {
	pr, ok, err := p.deps.Ledger.PullRequest(c.UpdaterID)
	if err != nil {
		return false, err
	}
	if !ok || pr.Number != c.Number {
		p.log.Debug("pull request no longer tracked", logpkg.Str("updater", c.UpdaterID), logpkg.Int64("number", c.Number))
		return true, nil
	}
	status, err := p.deps.Remote.PullRequestStatus(ctx, pr.TargetRepository, pr.Number)
	if err != nil {
		return false, fmt.Errorf("dependencyflow: pull request %d status: %w", pr.Number, err)
	}
	if status == PullRequestOpen {
		return true, p.scheduleCheck(ctx, pr)
	}
	if _, err := p.deps.Ledger.ClosePullRequest(pr.UpdaterID, pr.Number); err != nil {
		return false, err
	}
	p.log.Info("pull request finished", logpkg.Str("updater", pr.UpdaterID), logpkg.Int64("number", pr.Number), logpkg.Str("status", status.String()))
	return true, nil
}

type coherencyProcessor struct {
	deps Deps
	log  logpkg.Logger
}

func (p *coherencyProcessor) Process(_ context.Context, item workitem.WorkItem) (bool, error) {
	b := item.(*BuildCoherencyInfo)
	if _, ok, err := p.deps.Ledger.Coherency(b.BuildID); err != nil || ok {
		return err == nil, err
	}
	versions := map[string]map[string]struct{}{}
	for _, d := range b.Dependencies {
		if d.Pinned {
			continue
		}
		if versions[d.Name] == nil {
			versions[d.Name] = map[string]struct{}{}
		}
		versions[d.Name][d.Version] = struct{}{}
	}
	report := CoherencyReport{BuildID: b.BuildID, Dependencies: len(b.Dependencies), ComputedAt: p.deps.Now()}
	for name, vs := range versions {
		if len(vs) < 2 {
			continue
		}
		if report.Incoherent == nil {
			report.Incoherent = map[string][]string{}
		}
		list := make([]string, 0, len(vs))
		for v := range vs {
			list = append(list, v)
		}
		sort.Strings(list)
		report.Incoherent[name] = list
	}
	report.Coherent = len(report.Incoherent) == 0
	if err := p.deps.Ledger.PutCoherency(report); err != nil {
		return false, err
	}
	if !report.Coherent {
		p.log.Warn("build has incoherent dependencies", logpkg.Int64("build", b.BuildID), logpkg.Int("incoherent", len(report.Incoherent)))
	}
	return true, nil
}

type backflowProcessor struct {
	deps Deps
	log  logpkg.Logger
}

func (p *backflowProcessor) Process(ctx context.Context, item workitem.WorkItem) (bool, error) {
	v := item.(*BackflowValidation)
	if v.VmrCommitSha == "" || len(v.Branches) == 0 {
		p.log.Error("backflow validation needs a commit and at least one branch")
		return false, nil
	}
	status := BackflowStatus{VmrCommitSha: v.VmrCommitSha, ComputedAt: p.deps.Now()}
	for _, branch := range v.Branches {
		bb := BranchBackflow{Branch: branch, Flowed: map[string]bool{}}
		for _, repo := range v.Repositories {
			ok, err := p.deps.Remote.HasCommit(ctx, repo, branch, v.VmrCommitSha)
			if err != nil {
				return false, fmt.Errorf("dependencyflow: backflow %s@%s: %w", repo, branch, err)
			}
			bb.Flowed[repo] = ok
			if !ok {
				bb.Pending = append(bb.Pending, repo)
			}
		}
		status.Branches = append(status.Branches, bb)
	}
	if err := p.deps.Ledger.PutBackflow(status); err != nil {
		return false, err
	}
	p.log.Info("computed backflow status", logpkg.Str("sha", v.VmrCommitSha), logpkg.Int("branches", len(status.Branches)))
	return true, nil
}
