package optimizer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/config"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/events"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/guard"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/priority"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/queue"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/store"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/testutil"
)

// flakyStore loses the CAS race a fixed number of times.
type flakyStore struct {
	*store.Store
	failures atomic.Int32
}

func (f *flakyStore) Commit(ctx context.Context, writes []store.Write) (bool, error) {
	if f.failures.Add(-1) >= 0 {
		return false, nil
	}
	return f.Store.Commit(ctx, writes)
}

// staleWorkers reports every worker as available, as a read taken just
// before another caller claimed one would.
type staleWorkers struct {
	*store.Store
}

func (s staleWorkers) ReadWorkers(ctx context.Context, f store.WorkerFilter) ([]domain.Worker, error) {
	ws, err := s.Store.ReadWorkers(ctx, store.WorkerFilter{})
	if err != nil {
		return nil, err
	}
	for i := range ws {
		ws[i].Availability = domain.AvailabilityAvailable
		ws[i].CurrentItemID = ""
		ws[i].Load = 0
	}
	return ws, nil
}

type fixture struct {
	opt   *Optimizer
	svc   *queue.Service
	store *store.Store
	flaky *flakyStore
	sync  *events.Synchronizer
	clock *testutil.FakeClock
}

type fixtureOptions struct {
	scanCap    int
	maxRetries int
	stale      bool
}

func newFixture(t *testing.T, fo fixtureOptions) *fixture {
	t.Helper()
	ctx := context.Background()
	cfg := config.Default()
	cfg.Events.CoalesceWindow = 0
	cfg.Guard.MaxRetries = fo.maxRetries
	cfg.Guard.BaseBackoff = time.Millisecond
	cfg.Guard.MaxBackoff = time.Millisecond
	if fo.scanCap > 0 {
		cfg.Optimizer.ScanCap = fo.scanCap
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "optimizer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	flaky := &flakyStore{Store: st}

	clock := testutil.NewFakeClock(testutil.Epoch.Add(30 * time.Minute))
	sync, err := events.New(ctx, cfg.Events,
		events.WithNow(clock.Now),
		events.WithIDGenerator(testutil.NewSequentialIDs("evt")),
	)
	require.NoError(t, err)

	calc, err := priority.New(cfg.Scoring)
	require.NoError(t, err)

	var reads queue.Store = st
	if fo.stale {
		reads = staleWorkers{st}
	}
	svc := queue.New(reads, guard.New(flaky, cfg.Guard), calc, sync, queue.WithNow(clock.Now))

	opt, err := New(svc, cfg.Optimizer,
		WithNow(clock.Now),
		WithLogger(slog.Default()),
		WithRescoreThreshold(cfg.Scoring.RescoreThreshold),
	)
	require.NoError(t, err)

	return &fixture{opt: opt, svc: svc, store: st, flaky: flaky, sync: sync, clock: clock}
}

func (f *fixture) admit(t *testing.T, items ...domain.WaitingItem) {
	t.Helper()
	for _, it := range items {
		_, err := f.svc.Admit(context.Background(), it)
		require.NoError(t, err)
	}
}

func (f *fixture) register(t *testing.T, workers ...domain.Worker) {
	t.Helper()
	for _, w := range workers {
		_, err := f.svc.RegisterWorker(context.Background(), w)
		require.NoError(t, err)
	}
}

func pairs(ps []PlannedPair) [][2]string {
	out := make([][2]string, len(ps))
	for i, p := range ps {
		out[i] = [2]string{p.ItemID, p.WorkerID}
	}
	return out
}

func TestNew_RejectsNonPositiveScanCap(t *testing.T) {
	_, err := New(nil, config.Optimizer{ScanCap: 0})
	require.Error(t, err)
	assert.True(t, domain.IsConfiguration(err))
}

func TestOptimize_AssignsByPriority(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.admit(t,
		testutil.Item("r1", "renewal", 0),
		testutil.Item("e1", "emergency", 20*time.Minute),
		testutil.Item("a1", "appointment", 10*time.Minute),
	)
	f.register(t, testutil.Worker("w1"), testutil.Worker("w2"))

	out, err := f.opt.Optimize(context.Background(), Scope{})
	require.NoError(t, err)

	assert.False(t, out.Degraded)
	assert.Equal(t, 3, out.Scanned)
	assert.Equal(t, [][2]string{{"e1", "w1"}, {"a1", "w2"}}, pairs(out.Committed))
	assert.Empty(t, out.Deferred)

	r1, err := f.store.ReadItem(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, r1.Status)
}

func TestOptimize_ScanCapProcessesOldest(t *testing.T) {
	f := newFixture(t, fixtureOptions{scanCap: 100})
	ctx := context.Background()
	f.clock.Set(testutil.Epoch.Add(3 * time.Hour))

	f.admit(t, testutil.Items("i", "renewal", 150)...)
	workers := make([]domain.Worker, 150)
	for i := range workers {
		workers[i] = testutil.Worker(fmtID("w", i))
	}
	f.register(t, workers...)

	out, err := f.opt.Optimize(ctx, Scope{})
	require.NoError(t, err)

	assert.True(t, out.Degraded)
	require.Error(t, out.Warning)
	assert.True(t, domain.IsScopeExceeded(out.Warning))
	assert.Equal(t, 100, out.Scanned)
	assert.Len(t, out.Committed, 100)

	for i := range 150 {
		it, err := f.store.ReadItem(ctx, fmtID("i", i))
		require.NoError(t, err)
		if i < 100 {
			assert.Equal(t, domain.StatusAssigned, it.Status, it.ID)
			continue
		}
		assert.Equal(t, domain.StatusWaiting, it.Status, it.ID)
		assert.Equal(t, int64(1), it.Version, "%s must be untouched", it.ID)
	}
}

func TestOptimize_NeverAssignsBusyWorkerOrNonWaitingItem(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	f.admit(t,
		testutil.Item("held", "renewal", 0),
		testutil.Item("gone", "emergency", 0),
		testutil.Item("open", "renewal", 5*time.Minute),
	)
	f.register(t,
		testutil.Worker("w1"),
		testutil.Worker("w2"),
		domain.Worker{ID: "w3", Availability: domain.AvailabilityOffline},
	)
	_, err := f.svc.Assign(ctx, "held", "w1")
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, "gone", "")
	require.NoError(t, err)

	out, err := f.opt.Optimize(ctx, Scope{})
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"open", "w2"}}, pairs(out.Plan))
	assert.Equal(t, [][2]string{{"open", "w2"}}, pairs(out.Committed))
}

func TestOptimize_StalePairDeferredOthersCommitted(t *testing.T) {
	f := newFixture(t, fixtureOptions{stale: true})
	ctx := context.Background()
	f.admit(t,
		testutil.Item("i1", "renewal", 0),
		testutil.Item("i2", "renewal", time.Minute),
		testutil.Item("i0", "renewal", -time.Minute),
	)
	f.register(t, testutil.Worker("w1"), testutil.Worker("w2"))
	// w1 is taken after the optimizer's read would have seen it free.
	_, err := f.svc.Assign(ctx, "i0", "w1")
	require.NoError(t, err)

	out, err := f.opt.Optimize(ctx, Scope{})
	require.NoError(t, err)

	require.Len(t, out.Deferred, 1)
	assert.Equal(t, "w1", out.Deferred[0].WorkerID)
	assert.Equal(t, [][2]string{{"i2", "w2"}}, pairs(out.Committed))

	w1, err := f.store.ReadWorker(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "i0", w1.CurrentItemID)
}

func TestOptimize_ConflictRetriedOnce(t *testing.T) {
	tests := []struct {
		name      string
		failures  int32
		committed int
		deferred  int
	}{
		{"second try wins", 1, 1, 0},
		{"deferred after retry", 2, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOptions{maxRetries: 0})
			f.admit(t, testutil.Item("i1", "renewal", 0))
			f.register(t, testutil.Worker("w1"))
			f.flaky.failures.Store(tt.failures)

			out, err := f.opt.Optimize(context.Background(), Scope{})
			require.NoError(t, err, "conflicts never fail the pass")
			assert.Len(t, out.Committed, tt.committed)
			assert.Len(t, out.Deferred, tt.deferred)
		})
	}
}

func TestOptimize_UnknownCategoryAbortsPass(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	f.admit(t, testutil.Item("i1", "renewal", 0))
	f.register(t, testutil.Worker("w1"))
	// Written behind the service's back, as a legacy import would.
	_, err := f.store.InsertItem(ctx, testutil.Item("x1", "passport", 0))
	require.NoError(t, err)
	before := f.sync.LastSeq()

	_, err = f.opt.Optimize(ctx, Scope{})
	require.Error(t, err)
	assert.True(t, domain.IsConfiguration(err))
	assert.Equal(t, before, f.sync.LastSeq(), "nothing committed")
}

func TestOptimize_CategoryScopeAndDryRun(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	f.admit(t, testutil.Item("r1", "renewal", 0), testutil.Item("e1", "emergency", 0))
	f.register(t, testutil.Worker("w1"))
	before := f.sync.LastSeq()

	out, err := f.opt.Optimize(ctx, Scope{Category: "Renewal", DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"r1", "w1"}}, pairs(out.Plan))
	assert.Empty(t, out.Committed)
	assert.Equal(t, before, f.sync.LastSeq())
}

func TestOptimize_RescoresDriftedItems(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	f.admit(t, testutil.Item("i1", "renewal", 30*time.Minute))

	f.clock.Advance(10 * time.Minute)
	out, err := f.opt.Optimize(ctx, Scope{})
	require.NoError(t, err)
	assert.Empty(t, out.Rescored, "drift of 20 is below the threshold")

	f.clock.Advance(50 * time.Minute)
	out, err = f.opt.Optimize(ctx, Scope{})
	require.NoError(t, err)
	assert.Equal(t, []string{"i1"}, out.Rescored)

	it, err := f.store.ReadItem(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, int64(400+120), it.Score)

	evs, err := f.sync.ReplayFrom(ctx, f.sync.LastSeq()-1)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, events.PriorityLow, evs[0].Priority)
	assert.Equal(t, queue.TransitionRescore, evs[0].Payload.Transition)
}

func TestReprioritize(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	f.admit(t, testutil.Item("i1", "renewal", 30*time.Minute))
	f.clock.Advance(5 * time.Minute)

	res, err := f.opt.Reprioritize(ctx, "i1", "supervisor override")
	require.NoError(t, err)
	assert.Equal(t, int64(410), res.Item.Score)
	assert.Equal(t, events.PriorityNormal, res.Event.Priority)
	assert.Equal(t, "supervisor override", res.Event.Payload.Reason)

	_, err = f.opt.Reprioritize(ctx, "missing", "")
	assert.True(t, domain.IsNotFound(err))
}

func TestOutcome_DryRunPlanGolden(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.admit(t,
		testutil.Item("a1", "appointment", 0),
		testutil.Item("e1", "emergency", 20*time.Minute),
		testutil.Item("r1", "renewal", 5*time.Minute, domain.FactorElderly),
		testutil.Item("r2", "renewal", 10*time.Minute),
		testutil.Item("c1", "correction", 0),
	)
	f.register(t,
		testutil.Worker("w1", "renewal"),
		testutil.Worker("w2", "emergency"),
		testutil.Worker("w3"),
	)

	out, err := f.opt.Optimize(context.Background(), Scope{DryRun: true})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, out.WriteText(&buf))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "dry_run_plan", buf.Bytes())
}

func TestOutcome_WriteTextCommitted(t *testing.T) {
	out := Outcome{
		Scope:     Scope{Category: "renewal"},
		Scanned:   2,
		Degraded:  true,
		Warning:   domain.NewScopeExceededError(2),
		Plan:      []PlannedPair{{ItemID: "i1", Category: "renewal", Score: 400, WorkerID: "w1", Specialized: true}},
		Committed: []PlannedPair{{ItemID: "i1", WorkerID: "w1"}},
		Deferred:  []Deferred{{ItemID: "i2", WorkerID: "w2", Reason: "worker busy"}},
	}
	var buf bytes.Buffer
	require.NoError(t, out.WriteText(&buf))

	text := buf.String()
	assert.Contains(t, text, "scope: renewal (commit)")
	assert.Contains(t, text, "degraded: SCOPE_EXCEEDED")
	assert.Contains(t, text, "committed: 1")
	assert.Contains(t, text, "i2 -> w2: worker busy")
	assert.NotContains(t, text, "(fallback)")
}

func fmtID(prefix string, i int) string {
	return fmt.Sprintf("%s-%03d", prefix, i)
}
