package dependencyflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rzbill/pcs/internal/queue"
	pebblestore "github.com/rzbill/pcs/internal/storage/pebble"
	"github.com/rzbill/pcs/internal/workitem"
	logpkg "github.com/rzbill/pcs/pkg/log"
)

type fakeRemote struct {
	mu       sync.Mutex
	statuses []PullRequestStatus // consumed in order, last one repeats
	commits  map[string]bool     // repo|branch -> has commit
}

func (f *fakeRemote) PullRequestStatus(context.Context, string, int64) (PullRequestStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return s, nil
}

func (f *fakeRemote) HasCommit(_ context.Context, repo, branch, _ string) (bool, error) {
	return f.commits[repo+"|"+branch], nil
}

// failingSender fails the next fail sends, then delegates to the queue.
type failingSender struct {
	mu   sync.Mutex
	q    queue.Sender
	fail int
}

func (s *failingSender) Send(ctx context.Context, body []byte, delay time.Duration) (string, error) {
	s.mu.Lock()
	if s.fail > 0 {
		s.fail--
		s.mu.Unlock()
		return "", errors.New("send refused")
	}
	s.mu.Unlock()
	return s.q.Send(ctx, body, delay)
}

type fixture struct {
	q        *queue.Memory
	sender   *failingSender
	registry *workitem.Registry
	ledger   *Ledger
	remote   *fakeRemote
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	f := &fixture{
		q:        queue.NewMemory(),
		registry: workitem.NewRegistry(),
		ledger:   NewLedger(db),
		remote:   &fakeRemote{statuses: []PullRequestStatus{PullRequestMerged}, commits: map[string]bool{}},
	}
	f.sender = &failingSender{q: f.q}
	err = Register(f.registry, Deps{
		Ledger:        f.ledger,
		Producer:      workitem.NewProducer(f.sender, f.registry),
		Remote:        f.remote,
		CheckInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	f.registry.Seal()
	return f
}

// run processes item synchronously through its registered processor.
func (f *fixture) run(t *testing.T, item workitem.WorkItem) {
	t.Helper()
	if err := f.try(t, item); err != nil {
		t.Fatalf("run %s: %v", item.Type(), err)
	}
}

// try is run returning the processing error.
func (f *fixture) try(t *testing.T, item workitem.WorkItem) error {
	t.Helper()
	st := workitem.NewProcessorState()
	st.Start()
	m, _ := workitem.NewScopeManager(workitem.ScopeManagerOptions{State: st, Registry: f.registry})
	s, err := m.BeginScopeWhenReady(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer s.Close()
	if err := s.Initialize(item); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s.Run(context.Background())
}

// next receives and decodes the next visible message.
func (f *fixture) next(t *testing.T) workitem.WorkItem {
	t.Helper()
	msg, err := f.q.Receive(context.Background(), time.Minute)
	if err != nil || msg == nil {
		t.Fatalf("expected a queued item: %v %v", msg, err)
	}
	_ = f.q.Delete(context.Background(), msg.ID, msg.PopReceipt)
	item, err := f.registry.Decode(msg.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return item
}

func TestRegisterTypes(t *testing.T) {
	f := newFixture(t)
	want := []string{TypeBackflowValidation, TypeBuildCoherencyInfo, TypePullRequestCheck, TypeSubscriptionTrigger, TypeSubscriptionUpdate}
	got := f.registry.Types()
	if len(got) != len(want) {
		t.Fatalf("types %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("types %v", got)
		}
	}
}

func TestUpdaterID(t *testing.T) {
	if got := UpdaterID("Dotnet/Runtime", "release/9.0"); got != "dotnet-runtime_release-9.0" {
		t.Fatalf("updater id %q", got)
	}
	if SyncKey("a_b") != "PullRequestUpdater_a_b" {
		t.Fatalf("sync key %q", SyncKey("a_b"))
	}
}

func TestTriggerUpdateCheckFlow(t *testing.T) {
	f := newFixture(t)
	f.run(t, &SubscriptionTrigger{SubscriptionID: "s1", BuildID: 10, TargetRepository: "dotnet/sdk", TargetBranch: "main"})

	upd, ok := f.next(t).(*SubscriptionUpdate)
	if !ok || upd.BuildID != 10 {
		t.Fatalf("expected update, got %+v", upd)
	}
	f.run(t, upd)
	pr, open, _ := f.ledger.PullRequest("dotnet-sdk_main")
	if !open || pr.Builds["s1"] != 10 || pr.Number != 1 {
		t.Fatalf("pull request %+v open=%v", pr, open)
	}
	if s, _, _ := f.ledger.Subscription("s1"); s.LastBuildID != 10 {
		t.Fatalf("subscription state %+v", s)
	}

	// the check is delayed
	if m, _ := f.q.Receive(context.Background(), time.Minute); m != nil {
		t.Fatalf("check visible before its delay")
	}
	time.Sleep(15 * time.Millisecond)
	chk, ok := f.next(t).(*PullRequestCheck)
	if !ok || chk.Number != 1 {
		t.Fatalf("expected check, got %+v", chk)
	}
	f.run(t, chk)
	if _, open, _ := f.ledger.PullRequest("dotnet-sdk_main"); open {
		t.Fatalf("merged pull request still open")
	}
}

func TestTriggerForAppliedBuildIsNoop(t *testing.T) {
	f := newFixture(t)
	_, _ = f.ledger.MarkApplied("s1", 10, time.Now())
	f.run(t, &SubscriptionTrigger{SubscriptionID: "s1", BuildID: 9, TargetRepository: "r", TargetBranch: "main"})
	if n, _ := f.q.Len(context.Background()); n != 0 {
		t.Fatalf("stale trigger enqueued work")
	}
	f.run(t, &SubscriptionTrigger{SubscriptionID: "s1", BuildID: 9, TargetRepository: "r", TargetBranch: "main", Force: true})
	if n, _ := f.q.Len(context.Background()); n != 1 {
		t.Fatalf("forced trigger did not enqueue")
	}
}

func TestSecondSubscriptionJoinsOpenPullRequest(t *testing.T) {
	f := newFixture(t)
	f.run(t, &SubscriptionUpdate{SubscriptionID: "a", BuildID: 1, TargetRepository: "r", TargetBranch: "main"})
	f.run(t, &SubscriptionUpdate{SubscriptionID: "b", BuildID: 2, TargetRepository: "r", TargetBranch: "main"})
	pr, _, _ := f.ledger.PullRequest("r_main")
	if pr.Number != 1 || len(pr.Builds) != 2 {
		t.Fatalf("pull request %+v", pr)
	}
	if n, _ := f.q.Len(context.Background()); n != 1 {
		t.Fatalf("expected one check for one pull request, queue has %d", n)
	}
	// a redelivered older update changes nothing
	f.run(t, &SubscriptionUpdate{SubscriptionID: "a", BuildID: 1, TargetRepository: "r", TargetBranch: "main"})
	if again, _, _ := f.ledger.PullRequest("r_main"); again.Builds["a"] != 1 || !again.UpdatedAt.Equal(pr.UpdatedAt) {
		t.Fatalf("redelivery modified pull request: %+v", again)
	}
}

func TestOpenPullRequestIsRechecked(t *testing.T) {
	f := newFixture(t)
	f.remote.statuses = []PullRequestStatus{PullRequestOpen, PullRequestClosed}
	f.run(t, &SubscriptionUpdate{SubscriptionID: "a", BuildID: 1, TargetRepository: "r", TargetBranch: "main"})
	time.Sleep(15 * time.Millisecond)
	f.run(t, f.next(t))
	if _, open, _ := f.ledger.PullRequest("r_main"); !open {
		t.Fatalf("open pull request was dropped")
	}
	time.Sleep(15 * time.Millisecond)
	f.run(t, f.next(t))
	if prs, _ := f.ledger.OpenPullRequests(); len(prs) != 0 {
		t.Fatalf("closed pull request still tracked: %+v", prs)
	}
}

func TestStaleCheckIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.run(t, &PullRequestCheck{UpdaterID: "nobody_main", Number: 4})
	if n, _ := f.q.Len(context.Background()); n != 0 {
		t.Fatalf("stale check rescheduled")
	}
}

func TestBuildCoherency(t *testing.T) {
	f := newFixture(t)
	f.run(t, &BuildCoherencyInfo{BuildID: 5, Dependencies: []Dependency{
		{Name: "Microsoft.NETCore.App", Version: "9.0.1"},
		{Name: "Microsoft.NETCore.App", Version: "9.0.2"},
		{Name: "Arcade", Version: "1.0"},
		{Name: "Arcade", Version: "2.0", Pinned: true},
	}})
	r, ok, err := f.ledger.Coherency(5)
	if err != nil || !ok {
		t.Fatalf("report: %v %v", ok, err)
	}
	if r.Coherent || len(r.Incoherent) != 1 || len(r.Incoherent["Microsoft.NETCore.App"]) != 2 {
		t.Fatalf("report %+v", r)
	}
}

func TestBackflowValidation(t *testing.T) {
	f := newFixture(t)
	f.remote.commits["dotnet/runtime|main"] = true
	f.run(t, &BackflowValidation{VmrCommitSha: "abc", Branches: []string{"main"}, Repositories: []string{"dotnet/runtime", "dotnet/sdk"}})
	s, ok, _ := f.ledger.Backflow("abc")
	if !ok || len(s.Branches) != 1 {
		t.Fatalf("status %+v", s)
	}
	b := s.Branches[0]
	if !b.Flowed["dotnet/runtime"] || b.Flowed["dotnet/sdk"] || len(b.Pending) != 1 || b.Pending[0] != "dotnet/sdk" {
		t.Fatalf("branch status %+v", b)
	}
}

func TestBackflowWithoutBranchesFails(t *testing.T) {
	f := newFixture(t)
	st := workitem.NewProcessorState()
	st.Start()
	m, _ := workitem.NewScopeManager(workitem.ScopeManagerOptions{State: st, Registry: f.registry, Logger: logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{}))})
	s, _ := m.BeginScopeWhenReady(context.Background())
	defer s.Close()
	_ = s.Initialize(&BackflowValidation{VmrCommitSha: "abc"})
	if err := s.Run(context.Background()); err == nil {
		t.Fatalf("expected failure")
	}
}

func TestUpdatesShareSyncKeyWithChecks(t *testing.T) {
	p := &pullRequestProcessor{}
	u := &SubscriptionUpdate{TargetRepository: "dotnet/sdk", TargetBranch: "main"}
	c := &PullRequestCheck{UpdaterID: "dotnet-sdk_main"}
	if p.SynchronizationKey(u) != p.SynchronizationKey(c) || p.SynchronizationKey(c) != "PullRequestUpdater_dotnet-sdk_main" {
		t.Fatalf("keys %q %q", p.SynchronizationKey(u), p.SynchronizationKey(c))
	}
}

func TestUpdateRetriedAfterFailedCheckEnqueue(t *testing.T) {
	f := newFixture(t)
	f.sender.fail = 1
	upd := &SubscriptionUpdate{SubscriptionID: "a", BuildID: 1, TargetRepository: "r", TargetBranch: "main"}
	if err := f.try(t, upd); err == nil {
		t.Fatalf("expected the refused send to fail the update")
	}
	if s, ok, _ := f.ledger.Subscription("a"); ok {
		t.Fatalf("build marked applied before its check was queued: %+v", s)
	}

	// redelivery of the same message
	f.run(t, upd)
	pr, open, _ := f.ledger.PullRequest("r_main")
	if !open || pr.Number != 1 || !pr.CheckScheduled {
		t.Fatalf("pull request %+v open=%v", pr, open)
	}
	if n, _ := f.q.Len(context.Background()); n != 1 {
		t.Fatalf("expected one queued check, got %d", n)
	}
	if s, _, _ := f.ledger.Subscription("a"); s.LastBuildID != 1 {
		t.Fatalf("subscription state %+v", s)
	}
}

func TestAppliedUpdateSchedulesMissingCheck(t *testing.T) {
	f := newFixture(t)
	upd := &SubscriptionUpdate{SubscriptionID: "a", BuildID: 1, TargetRepository: "r", TargetBranch: "main"}
	// a pull request left open without a check, with its build already applied
	if _, _, err := f.ledger.UpsertPullRequest(upd, time.Now()); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := f.ledger.MarkApplied("a", 1, time.Now()); err != nil {
		t.Fatalf("mark: %v", err)
	}

	f.run(t, upd)
	if n, _ := f.q.Len(context.Background()); n != 1 {
		t.Fatalf("expected the missing check to be queued, got %d", n)
	}
	f.run(t, upd)
	if n, _ := f.q.Len(context.Background()); n != 1 {
		t.Fatalf("check queued twice: %d", n)
	}
}

func TestMarkCheckScheduledIgnoresReplacedPullRequest(t *testing.T) {
	f := newFixture(t)
	upd := &SubscriptionUpdate{SubscriptionID: "a", BuildID: 1, TargetRepository: "r", TargetBranch: "main"}
	pr, _, _ := f.ledger.UpsertPullRequest(upd, time.Now())
	if ok, err := f.ledger.MarkCheckScheduled(pr.UpdaterID, pr.Number+1); ok || err != nil {
		t.Fatalf("marked a different pull request: %v %v", ok, err)
	}
	if ok, err := f.ledger.MarkCheckScheduled(pr.UpdaterID, pr.Number); !ok || err != nil {
		t.Fatalf("mark: %v %v", ok, err)
	}
}
