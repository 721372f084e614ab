package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agendawatch/internal/storage"
	"agendawatch/internal/task/engine"
	"agendawatch/internal/task/scheduler"
)

type fakeScheduler struct {
	snap     scheduler.Snapshot
	err      error
	triggers []string
}

func (f *fakeScheduler) Trigger(name string) (string, error) {
	f.triggers = append(f.triggers, name)
	if f.err != nil {
		return "", f.err
	}
	return "tsk-1", nil
}

func (f *fakeScheduler) Snapshot() scheduler.Snapshot { return f.snap }

type fakeHistory struct {
	runs map[string][]storage.RunRecord
	err  error
}

func (f fakeHistory) RecentRuns(_ context.Context, job string, n int) ([]storage.RunRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := f.runs[job]
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func serve(t *testing.T, d Deps, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	NewRouter(d).ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := serve(t, Deps{Token: "secret"}, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListJobs(t *testing.T) {
	next := time.Date(2026, 10, 19, 12, 15, 0, 0, time.UTC)
	sched := &fakeScheduler{snap: scheduler.Snapshot{
		Enabled:  true,
		Timezone: "America/Sao_Paulo",
		Schedules: []scheduler.ScheduleInfo{
			{Name: "notion-conflicts", Spec: "*/15 * * * *", Timeout: 10 * time.Minute, Next: next, Running: true},
			{Name: "room", Spec: "0 8 * * 1"},
		},
	}}
	hist := fakeHistory{runs: map[string][]storage.RunRecord{
		"notion-conflicts": {
			{ID: "r3", Job: "notion-conflicts", Status: storage.StatusFailed, FailedStep: "editorial"},
			{ID: "r2", Job: "notion-conflicts", Status: storage.StatusSucceeded},
			{ID: "r1", Job: "notion-conflicts", Status: storage.StatusSucceeded},
		},
	}}

	rec := serve(t, Deps{Scheduler: sched, History: hist}, http.MethodGet, "/jobs?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got JobsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Enabled)
	assert.Equal(t, "America/Sao_Paulo", got.Timezone)
	require.Len(t, got.Jobs, 2)

	first := got.Jobs[0]
	assert.Equal(t, "notion-conflicts", first.Name)
	assert.Equal(t, "10m0s", first.Timeout)
	assert.True(t, first.Running)
	require.NotNil(t, first.Next)
	assert.True(t, next.Equal(*first.Next))
	assert.Nil(t, first.Prev)
	require.Len(t, first.Recent, 2)
	assert.Equal(t, "r3", first.Recent[0].ID)
	assert.Equal(t, "editorial", first.Recent[0].FailedStep)

	assert.Empty(t, got.Jobs[1].Recent)
	assert.NotNil(t, got.Jobs[1].Recent)
}

func TestListJobsWithoutHistory(t *testing.T) {
	sched := &fakeScheduler{snap: scheduler.Snapshot{Schedules: []scheduler.ScheduleInfo{{Name: "a", Spec: "@hourly"}}}}
	rec := serve(t, Deps{Scheduler: sched}, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"recent":[]`)
}

func TestListJobsBadLimit(t *testing.T) {
	rec := serve(t, Deps{Scheduler: &fakeScheduler{}}, http.MethodGet, "/jobs?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobsHistoryError(t *testing.T) {
	sched := &fakeScheduler{snap: scheduler.Snapshot{Schedules: []scheduler.ScheduleInfo{{Name: "a"}}}}
	rec := serve(t, Deps{Scheduler: sched, History: fakeHistory{err: fmt.Errorf("disk gone")}}, http.MethodGet, "/jobs", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDispatchStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"unknown", fmt.Errorf("%w: %q", scheduler.ErrUnknownSchedule, "nope"), http.StatusNotFound},
		{"running", engine.ErrOverlapSkip, http.StatusConflict},
		{"stopped", engine.ErrStopped, http.StatusServiceUnavailable},
		{"stopping", engine.ErrStopping, http.StatusServiceUnavailable},
		{"disabled", engine.ErrDisabled, http.StatusServiceUnavailable},
		{"queue full", engine.ErrQueueFull, http.StatusServiceUnavailable},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sched := &fakeScheduler{err: tc.err}
			rec := serve(t, Deps{Scheduler: sched}, http.MethodPost, "/jobs/notion-conflicts/dispatch", "")
			assert.Equal(t, tc.want, rec.Code)
			assert.Equal(t, []string{"notion-conflicts"}, sched.triggers)
			if tc.err == nil {
				var got DispatchResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				assert.Equal(t, DispatchResponse{ID: "tsk-1", Job: "notion-conflicts", Status: "accepted"}, got)
			}
		})
	}
}

func TestDispatchRequiresPost(t *testing.T) {
	sched := &fakeScheduler{}
	rec := serve(t, Deps{Scheduler: sched}, http.MethodGet, "/jobs/a/dispatch", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, sched.triggers)
}

func TestBearerToken(t *testing.T) {
	d := Deps{Scheduler: &fakeScheduler{}, Token: "secret"}

	assert.Equal(t, http.StatusUnauthorized, serve(t, d, http.MethodGet, "/jobs", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(t, d, http.MethodGet, "/jobs", "wrong").Code)
	assert.Equal(t, http.StatusOK, serve(t, d, http.MethodGet, "/jobs", "secret").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(t, d, http.MethodPost, "/jobs/a/dispatch", "").Code)
}

func TestPprofMount(t *testing.T) {
	off := serve(t, Deps{}, http.MethodGet, "/debug/pprof/", "")
	assert.Equal(t, http.StatusNotFound, off.Code)

	on := serve(t, Deps{Pprof: true}, http.MethodGet, "/debug/pprof/", "")
	assert.Equal(t, http.StatusOK, on.Code)
}

func TestServiceStartStop(t *testing.T) {
	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{Scheduler: &fakeScheduler{}}, logxNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Start(ctx))
	addr := svc.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	svc.Stop(ctx)
	assert.Equal(t, "", svc.Addr())
}

func TestReconfigureDisableStops(t *testing.T) {
	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{}, logxNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Start(ctx))
	require.NotEmpty(t, svc.Addr())

	svc.Reconfigure(ctx, Config{Enabled: false})
	assert.False(t, svc.Enabled())
	assert.Equal(t, "", svc.Addr())
}

func TestStartRefusesOpenBindWithoutToken(t *testing.T) {
	svc := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Deps{}, logxNop())
	err := svc.Start(context.Background())
	require.ErrorIs(t, err, ErrInsecureBind)
	assert.Equal(t, "", svc.Addr())
}

func TestServerStopsWithContext(t *testing.T) {
	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{}, logxNop())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx))
	cancel()
	require.Eventually(t, func() bool { return svc.Addr() == "" }, 3*time.Second, 10*time.Millisecond)
}

func TestReconfigureRestartsOnChange(t *testing.T) {
	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{}, logxNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop(ctx)

	svc.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret"})
	addr := svc.Addr()
	require.NotEmpty(t, addr)
	resp, err := http.Get("http://" + addr + "/jobs")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:8087"))
	assert.True(t, isLoopbackAddr("localhost:8087"))
	assert.True(t, isLoopbackAddr("[::1]:8087"))
	assert.False(t, isLoopbackAddr("0.0.0.0:8087"))
	assert.False(t, isLoopbackAddr(":8087"))
	assert.False(t, isLoopbackAddr("nonsense"))
}
