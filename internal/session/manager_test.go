package session

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/campuslink/cskeep/internal/credstore"
	"github.com/campuslink/cskeep/internal/refreshclient"
)

// fakeClient scripts refresh outcomes and counts calls.
type fakeClient struct {
	mu      sync.Mutex
	calls   int32
	results []fakeResult

	// gate, when set, blocks each Refresh until released.
	gate chan struct{}
}

type fakeResult struct {
	rec *credstore.Record
	err error
}

func (f *fakeClient) Refresh(ctx context.Context, refreshToken string) (*credstore.Record, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.results) == 0 {
		return nil, &refreshclient.TransientError{Reason: "no scripted result"}
	}
	res := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return res.rec, res.err
}

func (f *fakeClient) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

func record(access string, ttl time.Duration) *credstore.Record {
	return &credstore.Record{
		AccessToken:  access,
		RefreshToken: "refresh-" + access,
		ExpiresAt:    time.Now().Add(ttl).UnixMilli(),
	}
}

func testManager(t *testing.T, store *credstore.Store, client RefreshClient, cfg Config) *Manager {
	t.Helper()
	m, err := New(store, client,
		WithConfig(cfg),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func fastConfig() Config {
	return Config{
		RefreshThreshold: 5 * time.Minute,
		CheckInterval:    time.Hour, // tests drive Evaluate directly
		MaxRetries:       3,
		RetryDelay:       10 * time.Millisecond,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestEvaluate_Idempotent(t *testing.T) {
	store := credstore.New(filepath.Join(t.TempDir(), "creds.json"))
	if err := store.Save(record("a1", time.Hour)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	client := &fakeClient{}
	m := testManager(t, store, client, fastConfig())

	events, cancel := m.Subscribe()
	defer cancel()

	for i := 0; i < 5; i++ {
		m.Evaluate(context.Background(), TriggerTick)
	}

	st := m.Status()
	if st.State != StateValid {
		t.Errorf("State = %v, want Valid", st.State)
	}
	if !st.IsValid {
		t.Error("IsValid = false, want true")
	}
	if client.callCount() != 0 {
		t.Errorf("refresh calls = %d, want 0", client.callCount())
	}

	// Repeated evaluations with unchanged expiry emit nothing.
	select {
	case e := <-events:
		t.Errorf("unexpected event %v", e.Type)
	default:
	}
}

func TestEvaluate_NoSession(t *testing.T) {
	store := credstore.New(filepath.Join(t.TempDir(), "creds.json"))
	m := testManager(t, store, &fakeClient{}, fastConfig())

	m.Evaluate(context.Background(), TriggerTick)

	st := m.Status()
	if st.State != StateNoSession {
		t.Errorf("State = %v, want NoSession", st.State)
	}
	if st.IsValid {
		t.Error("IsValid = true, want false")
	}
}

func TestEvaluate_ThresholdCrossed_SingleRefresh(t *testing.T) {
	store := credstore.New(filepath.Join(t.TempDir(), "creds.json"))
	if err := store.Save(record("a1", 2*time.Minute)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	client := &fakeClient{gate: make(chan struct{})}
	client.results = []fakeResult{{rec: record("a2", time.Hour)}}
	m := testManager(t, store, client, fastConfig())

	// Multiple triggers race in before the first attempt resolves.
	m.Evaluate(context.Background(), TriggerTick)
	m.Evaluate(context.Background(), TriggerWake)
	m.Evaluate(context.Background(), TriggerStoreChange)

	waitFor(t, time.Second, func() bool { return client.callCount() >= 1 })
	close(client.gate)
	waitFor(t, time.Second, func() bool { return m.Status().State == StateValid })

	if got := client.callCount(); got != 1 {
		t.Errorf("refresh calls = %d, want exactly 1", got)
	}
	if st := m.Status(); st.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", st.RetryCount)
	}
}

func TestEvaluate_AlreadyExpired_NoAttempt(t *testing.T) {
	store := credstore.New(filepath.Join(t.TempDir(), "creds.json"))
	if err := store.Save(record("a1", -time.Minute)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	client := &fakeClient{}
	m := testManager(t, store, client, fastConfig())

	events, cancel := m.Subscribe()
	defer cancel()

	m.Evaluate(context.Background(), TriggerTick)

	if st := m.Status(); st.State != StateExpired {
		t.Errorf("State = %v, want Expired", st.State)
	}
	if client.callCount() != 0 {
		t.Errorf("refresh calls = %d, want 0", client.callCount())
	}

	select {
	case e := <-events:
		if e.Type != EventSessionExpired {
			t.Errorf("event = %v, want session_expired", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no session_expired event")
	}

	// Re-evaluating does not re-emit.
	m.Evaluate(context.Background(), TriggerTick)
	select {
	case e := <-events:
		t.Errorf("unexpected second event %v", e.Type)
	default:
	}
}

func TestRefresh_Success(t *testing.T) {
	store := credstore.New(filepath.Join(t.TempDir(), "creds.json"))
	if err := store.Save(record("a1", time.Minute)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	client := &fakeClient{results: []fakeResult{{rec: record("a2", time.Hour)}}}
	m := testManager(t, store, client, fastConfig())

	events, cancel := m.Subscribe()
	defer cancel()

	m.Evaluate(context.Background(), TriggerTick)
	waitFor(t, time.Second, func() bool { return m.Status().State == StateValid })

	st := m.Status()
	if st.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", st.RetryCount)
	}
	if st.LastRefreshTime.IsZero() {
		t.Error("LastRefreshTime not set after success")
	}

	// The store holds the rotated pair.
	rec, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec.AccessToken != "a2" {
		t.Errorf("stored AccessToken = %q, want a2", rec.AccessToken)
	}
	if rec.RefreshToken != "refresh-a2" {
		t.Errorf("stored RefreshToken = %q, want rotated refresh-a2", rec.RefreshToken)
	}

	sawSuccess := false
	timeout := time.After(time.Second)
	for !sawSuccess {
		select {
		case e := <-events:
			if e.Type == EventRefreshSucceeded {
				sawSuccess = true
			}
		case <-timeout:
			t.Fatal("no refresh_succeeded event")
		}
	}
}

func TestRefresh_TerminalFailure(t *testing.T) {
	store := credstore.New(filepath.Join(t.TempDir(), "creds.json"))
	if err := store.Save(record("a1", time.Minute)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	client := &fakeClient{results: []fakeResult{
		{err: &refreshclient.TerminalError{Reason: "refresh token rejected", StatusCode: 401}},
	}}
	m := testManager(t, store, client, fastConfig())

	m.Evaluate(context.Background(), TriggerTick)
	waitFor(t, time.Second, func() bool { return m.Status().State == StateExpired })

	st := m.Status()
	if st.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0 (no retries on terminal failure)", st.RetryCount)
	}
	if got := client.callCount(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}

	// Terminal failure drops the record.
	rec, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec != nil {
		t.Errorf("record after terminal failure = %+v, want nil", rec)
	}
}

func TestRefresh_TransientRetriesThenExpired(t *testing.T) {
	store := credstore.New(filepath.Join(t.TempDir(), "creds.json"))
	if err := store.Save(record("a1", time.Minute)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	client := &fakeClient{results: []fakeResult{
		{err: &refreshclient.TransientError{Reason: "server error 503"}},
	}}
	m := testManager(t, store, client, fastConfig())

	m.Evaluate(context.Background(), TriggerTick)

	// Initial attempt plus MaxRetries retries, then Expired.
	waitFor(t, 5*time.Second, func() bool { return m.Status().State == StateExpired })

	if got := client.callCount(); got != 4 {
		t.Errorf("refresh calls = %d, want 4 (initial + 3 retries)", got)
	}
}

func TestBackoffDelays(t *testing.T) {
	m := testManager(t,
		credstore.New(filepath.Join(t.TempDir(), "creds.json")),
		&fakeClient{},
		DefaultConfig(),
	)

	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
	for i, w := range want {
		m.mu.Lock()
		m.retryCount = i
		got := m.backoffDelayLocked()
		m.mu.Unlock()
		if got != w {
			t.Errorf("backoff delay for retryCount=%d = %v, want %v", i, got, w)
		}
	}
}

func TestCrossProcess_ObserveOtherRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	storeA := credstore.New(path)
	storeB := credstore.New(path)

	if err := storeA.Save(record("a1", 2*time.Minute)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	clientA := &fakeClient{results: []fakeResult{{rec: record("a2", time.Hour)}}}
	clientB := &fakeClient{}

	mA := testManager(t, storeA, clientA, fastConfig())
	mB := testManager(t, storeB, clientB, fastConfig())

	// B sees the soon-to-expire record first but its refresh is pending
	// when A completes: simulate by letting A win before B evaluates.
	mA.Evaluate(context.Background(), TriggerTick)
	waitFor(t, time.Second, func() bool { return mA.Status().State == StateValid })

	// Storage notification reaches B.
	mB.Evaluate(context.Background(), TriggerStoreChange)

	st := mB.Status()
	if !st.IsValid {
		t.Error("B IsValid = false, want true after observing A's refresh")
	}
	if st.RetryCount != 0 {
		t.Errorf("B RetryCount = %d, want 0", st.RetryCount)
	}
	if clientB.callCount() != 0 {
		t.Errorf("B refresh calls = %d, want 0", clientB.callCount())
	}
}

func TestRetry_CancelledByFresherRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	store := credstore.New(path)
	other := credstore.New(path)

	if err := store.Save(record("a1", time.Minute)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	cfg := fastConfig()
	cfg.RetryDelay = 50 * time.Millisecond
	client := &fakeClient{results: []fakeResult{
		{err: &refreshclient.TransientError{Reason: "server error 502"}},
	}}
	m := testManager(t, store, client, cfg)

	m.Evaluate(context.Background(), TriggerTick)
	waitFor(t, time.Second, func() bool { return m.Status().State == StateRetrying })

	// Another process writes a fresh record before the retry fires.
	if err := other.Save(record("a2", time.Hour)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	m.Evaluate(context.Background(), TriggerStoreChange)

	st := m.Status()
	if st.State != StateValid {
		t.Errorf("State = %v, want Valid", st.State)
	}
	if st.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", st.RetryCount)
	}

	// The cancelled retry never dials.
	time.Sleep(150 * time.Millisecond)
	if got := client.callCount(); got != 1 {
		t.Errorf("refresh calls = %d, want 1 (retry cancelled)", got)
	}
}

func TestOffline_SuspendsAndResumes(t *testing.T) {
	store := credstore.New(filepath.Join(t.TempDir(), "creds.json"))
	if err := store.Save(record("a1", time.Minute)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	cfg := fastConfig()
	cfg.RetryDelay = 20 * time.Millisecond
	client := &fakeClient{results: []fakeResult{
		{err: &refreshclient.TransientError{Reason: "timeout"}},
		{rec: record("a2", time.Hour)},
	}}
	m := testManager(t, store, client, cfg)

	m.Evaluate(context.Background(), TriggerTick)
	waitFor(t, time.Second, func() bool { return m.Status().State == StateRetrying })

	m.SetOnline(context.Background(), false)

	// The scheduled retry comes due while offline and must not dial.
	time.Sleep(80 * time.Millisecond)
	if got := client.callCount(); got != 1 {
		t.Fatalf("refresh calls while offline = %d, want 1", got)
	}

	// Evaluations are no-ops while offline.
	m.Evaluate(context.Background(), TriggerTick)
	if got := client.callCount(); got != 1 {
		t.Fatalf("refresh calls after offline evaluate = %d, want 1", got)
	}

	// Connectivity back: the suspended retry resumes immediately.
	m.SetOnline(context.Background(), true)
	waitFor(t, time.Second, func() bool { return m.Status().State == StateValid })

	if got := client.callCount(); got != 2 {
		t.Errorf("refresh calls = %d, want 2", got)
	}
}

func TestForceRefresh(t *testing.T) {
	store := credstore.New(filepath.Join(t.TempDir(), "creds.json"))
	if err := store.Save(record("a1", time.Hour)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	client := &fakeClient{results: []fakeResult{{rec: record("a2", 2 * time.Hour)}}}
	m := testManager(t, store, client, fastConfig())

	// Bypasses the threshold: a1 has a full hour left.
	if ok := m.ForceRefresh(context.Background()); !ok {
		t.Error("ForceRefresh() = false, want true")
	}
	if got := client.callCount(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
	if rec, _ := store.Load(); rec.AccessToken != "a2" {
		t.Errorf("stored AccessToken = %q, want a2", rec.AccessToken)
	}
}

func TestForceRefresh_NoSession(t *testing.T) {
	store := credstore.New(filepath.Join(t.TempDir(), "creds.json"))
	m := testManager(t, store, &fakeClient{}, fastConfig())

	if ok := m.ForceRefresh(context.Background()); ok {
		t.Error("ForceRefresh() with no record = true, want false")
	}
}

func TestForceRefresh_JoinsInflight(t *testing.T) {
	store := credstore.New(filepath.Join(t.TempDir(), "creds.json"))
	if err := store.Save(record("a1", time.Minute)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	client := &fakeClient{gate: make(chan struct{})}
	client.results = []fakeResult{{rec: record("a2", time.Hour)}}
	m := testManager(t, store, client, fastConfig())

	m.Evaluate(context.Background(), TriggerTick)
	waitFor(t, time.Second, func() bool { return client.callCount() == 1 })

	done := make(chan bool, 1)
	go func() {
		done <- m.ForceRefresh(context.Background())
	}()

	// ForceRefresh must wait for the in-flight attempt, not start a
	// second one.
	time.Sleep(30 * time.Millisecond)
	if got := client.callCount(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}

	close(client.gate)
	select {
	case ok := <-done:
		if !ok {
			t.Error("ForceRefresh() = false, want true")
		}
	case <-time.After(time.Second):
		t.Fatal("ForceRefresh did not return")
	}
	if got := client.callCount(); got != 1 {
		t.Errorf("refresh calls = %d, want 1 (joined in-flight)", got)
	}
}

func TestUpdateConfig(t *testing.T) {
	store := credstore.New(filepath.Join(t.TempDir(), "creds.json"))
	m := testManager(t, store, &fakeClient{}, DefaultConfig())

	newInterval := time.Second
	if err := m.UpdateConfig(ConfigPatch{CheckInterval: &newInterval}); err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}
	if got := m.Config().CheckInterval; got != time.Second {
		t.Errorf("CheckInterval = %v, want 1s", got)
	}
	// Untouched fields keep their values.
	if got := m.Config().MaxRetries; got != 3 {
		t.Errorf("MaxRetries = %d, want 3", got)
	}
}

func TestUpdateConfig_RejectsInvalid(t *testing.T) {
	store := credstore.New(filepath.Join(t.TempDir(), "creds.json"))
	m := testManager(t, store, &fakeClient{}, DefaultConfig())

	bad := -time.Second
	if err := m.UpdateConfig(ConfigPatch{CheckInterval: &bad}); err == nil {
		t.Fatal("UpdateConfig() error = nil, want error")
	}
	// Previous configuration retained.
	if got := m.Config().CheckInterval; got != 30*time.Second {
		t.Errorf("CheckInterval = %v, want 30s", got)
	}
}

func TestUpdateConfig_IntervalAppliesNextTick(t *testing.T) {
	store := credstore.New(filepath.Join(t.TempDir(), "creds.json"))
	if err := store.Save(record("a1", 2*time.Minute)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	// Every tick finds a record inside the threshold, so ticks are
	// observable as refresh calls.
	client := &fakeClient{results: []fakeResult{
		{rec: record("b2", 2*time.Minute)},
	}}

	cfg := fastConfig()
	cfg.CheckInterval = 50 * time.Millisecond
	m := testManager(t, store, client, cfg)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()

	long := time.Hour
	if err := m.UpdateConfig(ConfigPatch{CheckInterval: &long}); err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}

	// The already scheduled 50ms timer may still fire once; the tick
	// after it is rescheduled at the new interval and never arrives.
	time.Sleep(300 * time.Millisecond)
	if got := client.callCount(); got > 2 {
		t.Errorf("refresh calls = %d, want at most 2 after interval change", got)
	}
	if got := client.callCount(); got < 1 {
		t.Errorf("refresh calls = %d, want at least the startup evaluation", got)
	}
}

func TestStop_HaltsRetriesFromInflightFailure(t *testing.T) {
	store := credstore.New(filepath.Join(t.TempDir(), "creds.json"))
	if err := store.Save(record("a1", 2*time.Minute)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	// No scripted results: every attempt fails transiently. The gate
	// holds the first attempt in flight across Stop.
	client := &fakeClient{gate: make(chan struct{})}
	m := testManager(t, store, client, fastConfig())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, time.Second, func() bool { return client.callCount() == 1 })

	m.Stop()
	close(client.gate)

	// Without teardown the transient failure would schedule a retry at
	// RetryDelay and keep dialing through the whole budget.
	time.Sleep(10 * fastConfig().RetryDelay)
	if got := client.callCount(); got != 1 {
		t.Errorf("refresh calls after Stop = %d, want 1", got)
	}

	m.mu.Lock()
	timer := m.retryTimer
	m.mu.Unlock()
	if timer != nil {
		t.Error("retry timer scheduled after Stop, want none")
	}
}

func TestStartStop(t *testing.T) {
	store := credstore.New(filepath.Join(t.TempDir(), "creds.json"))
	m := testManager(t, store, &fakeClient{}, fastConfig())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Error("second Start() error = nil, want error")
	}

	m.Stop()
	// Stop is idempotent.
	m.Stop()
}
