package task

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/secops-orchestrator/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenarioHandler plans one step per attack scenario and reports each one
// as it is released.
type scenarioHandler struct {
	release chan struct{}
}

func (h *scenarioHandler) Validate(params json.RawMessage) (Plan, error) {
	var p struct {
		AttackScenarios []string `json:"attack_scenarios"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return Plan{}, err
	}
	return Plan{TotalSteps: len(p.AttackScenarios)}, nil
}

func (h *scenarioHandler) Execute(ctx context.Context, params json.RawMessage, progress ProgressSink) (any, error) {
	var p struct {
		AttackScenarios []string `json:"attack_scenarios"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	for i := range p.AttackScenarios {
		select {
		case <-h.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		progress(i+1, len(p.AttackScenarios))
	}
	return map[string]any{"scenarios_executed": len(p.AttackScenarios)}, nil
}

func TestService_SimulationReportsProgressThenCompletes(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	s := newTestService(t, ServiceConfig{Executor: ExecutorConfig{DefaultTimeout: 5 * time.Second}}, nil,
		map[Kind]Handler{KindBASSimulation: &scenarioHandler{release: release}})

	task, err := s.Submit(context.Background(), KindBASSimulation,
		json.RawMessage(`{"attack_scenarios":["A","B","C"]}`))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, task.Status)

	var seen []int
	for step := 1; step <= 3; step++ {
		release <- struct{}{}
		require.Eventually(t, func() bool {
			current, err := s.GetStatus(task.ID)
			return err == nil && current.Progress != nil && current.Progress.Completed == step
		}, time.Second, 5*time.Millisecond)

		current, err := s.GetStatus(task.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, current.Progress.Total)
		seen = append(seen, current.Progress.Completed)
	}
	assert.Equal(t, []int{1, 2, 3}, seen)

	done := waitForStatus(t, s, task.ID, StatusCompleted, time.Second)
	assert.Equal(t, Progress{Completed: 3, Total: 3}, *done.Progress)

	result, err := s.GetResult(task.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"scenarios_executed":3}`, string(result))
}

func TestService_PendingThenCompleted(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	s := newTestService(t, ServiceConfig{Executor: ExecutorConfig{DefaultTimeout: 5 * time.Second}}, nil,
		map[Kind]Handler{KindReportGeneration: &stepHandler{steps: 1, release: release, result: map[string]string{"report_id": "r-1"}}})

	task, err := s.Submit(context.Background(), KindReportGeneration,
		json.RawMessage(`{"report_type":"executive","scope":"q3"}`))
	require.NoError(t, err)

	current, err := s.GetStatus(task.ID)
	require.NoError(t, err)
	assert.Contains(t, []Status{StatusPending, StatusRunning}, current.Status)

	_, err = s.GetResult(task.ID)
	assert.ErrorIs(t, err, ErrConflict, "no partial results")

	close(release)
	done := waitForStatus(t, s, task.ID, StatusCompleted, time.Second)
	assert.NotNil(t, done.Result)

	// Terminal reads are stable
	again, err := s.GetStatus(task.ID)
	require.NoError(t, err)
	assert.Equal(t, done, again)
}

func TestService_UnknownKindLeavesNoTrace(t *testing.T) {
	t.Parallel()

	s := newTestService(t, DefaultServiceConfig(), nil, map[Kind]Handler{KindCrawl: noopHandler()})
	before := len(s.List(Filter{}, 0))

	_, err := s.Submit(context.Background(), "unrecognized_kind", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Len(t, s.List(Filter{}, 0), before)
}

func TestService_GetStatusUnknownID(t *testing.T) {
	t.Parallel()

	s := newTestService(t, DefaultServiceConfig(), nil, nil)

	_, err := s.GetStatus(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetResult(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_TimeoutFailsTask(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	s := newTestService(t, ServiceConfig{Executor: ExecutorConfig{
		DefaultTimeout: time.Minute,
		KindTimeouts:   map[Kind]time.Duration{KindCrawl: 40 * time.Millisecond},
	}}, sink, map[Kind]Handler{KindCrawl: blockingHandler()})

	task, err := s.Submit(context.Background(), KindCrawl, nil)
	require.NoError(t, err)

	done := waitForStatus(t, s, task.ID, StatusFailed, time.Second)
	require.NotNil(t, done.Error)
	assert.Equal(t, ErrorKindTimeout, done.Error.Kind)
	assert.Nil(t, done.Result)

	_, err = s.GetResult(task.ID)
	assert.ErrorIs(t, err, ErrConflict)

	require.Eventually(t, func() bool { return len(sink.typesFor(task.ID)) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []events.Type{events.TypeSubmitted, events.TypeStarted, events.TypeFailed}, sink.typesFor(task.ID))
}

func TestService_ConcurrentSubmissions(t *testing.T) {
	t.Parallel()

	s := newTestService(t, ServiceConfig{Executor: ExecutorConfig{DefaultTimeout: time.Second, MaxConcurrent: 4}}, nil,
		map[Kind]Handler{KindCrawl: noopHandler()})

	const n = 100
	ids := make(chan uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := s.Submit(context.Background(), KindCrawl, json.RawMessage(`{"keywords":["cve"]}`))
			if err == nil {
				ids <- task.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	unique := make(map[uuid.UUID]bool)
	for id := range ids {
		unique[id] = true
	}
	require.Len(t, unique, n, "every submission gets a distinct id")

	require.Eventually(t, func() bool {
		return s.Stats()[StatusCompleted] == n
	}, 5*time.Second, 10*time.Millisecond)

	for id := range unique {
		task, err := s.GetStatus(id)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, task.Status)
		assert.False(t, task.StartedAt.Before(task.SubmittedAt))
		assert.False(t, task.CompletedAt.Before(*task.StartedAt))
	}
}

func TestService_ListFilters(t *testing.T) {
	t.Parallel()

	s := newTestService(t, ServiceConfig{Executor: ExecutorConfig{DefaultTimeout: time.Second}}, nil,
		map[Kind]Handler{
			KindCrawl:         noopHandler(),
			KindEASMDiscovery: blockingHandler(),
		})

	crawl, err := s.Submit(context.Background(), KindCrawl, nil)
	require.NoError(t, err)
	easm, err := s.Submit(context.Background(), KindEASMDiscovery, json.RawMessage(`{"target_domain":"example.com"}`))
	require.NoError(t, err)

	waitForStatus(t, s, crawl.ID, StatusCompleted, time.Second)

	byKind := s.List(Filter{Kind: KindEASMDiscovery}, 0)
	require.Len(t, byKind, 1)
	assert.Equal(t, easm.ID, byKind[0].ID)

	completed := s.List(Filter{Status: StatusCompleted}, 0)
	require.Len(t, completed, 1)
	assert.Equal(t, crawl.ID, completed[0].ID)

	newest := s.List(Filter{Newest: true}, 1)
	require.Len(t, newest, 1)
	assert.Equal(t, easm.ID, newest[0].ID)
}

func TestService_Cancel(t *testing.T) {
	t.Parallel()

	t.Run("running task fails as canceled", func(t *testing.T) {
		s := newTestService(t, ServiceConfig{Executor: ExecutorConfig{DefaultTimeout: time.Minute}}, nil,
			map[Kind]Handler{KindCrawl: blockingHandler()})

		task, err := s.Submit(context.Background(), KindCrawl, nil)
		require.NoError(t, err)
		waitForStatus(t, s, task.ID, StatusRunning, time.Second)

		_, err = s.Cancel(task.ID)
		require.NoError(t, err)

		done := waitForStatus(t, s, task.ID, StatusFailed, time.Second)
		assert.Equal(t, ErrorKindCanceled, done.Error.Kind)
	})

	t.Run("terminal task", func(t *testing.T) {
		s := newTestService(t, ServiceConfig{Executor: ExecutorConfig{DefaultTimeout: time.Minute}}, nil,
			map[Kind]Handler{KindCrawl: noopHandler()})

		task, err := s.Submit(context.Background(), KindCrawl, nil)
		require.NoError(t, err)
		waitForStatus(t, s, task.ID, StatusCompleted, time.Second)

		got, err := s.Cancel(task.ID)
		assert.ErrorIs(t, err, ErrAlreadyTerminal)
		assert.Equal(t, StatusCompleted, got.Status)
	})

	t.Run("unknown task", func(t *testing.T) {
		s := newTestService(t, DefaultServiceConfig(), nil, nil)
		_, err := s.Cancel(uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestService_Shutdown(t *testing.T) {
	t.Parallel()

	s := newTestService(t, ServiceConfig{Executor: ExecutorConfig{DefaultTimeout: time.Minute}}, nil,
		map[Kind]Handler{KindCrawl: blockingHandler()})

	task, err := s.Submit(context.Background(), KindCrawl, nil)
	require.NoError(t, err)
	waitForStatus(t, s, task.ID, StatusRunning, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	done, err := s.GetStatus(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Equal(t, ErrorKindCanceled, done.Error.Kind)

	_, err = s.Submit(context.Background(), KindCrawl, nil)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestService_KindsAndStats(t *testing.T) {
	t.Parallel()

	s := newTestService(t, DefaultServiceConfig(), nil, map[Kind]Handler{
		KindCrawl:           noopHandler(),
		KindAdversarialTest: noopHandler(),
	})

	assert.Equal(t, []Kind{KindAdversarialTest, KindCrawl}, s.Kinds())
	assert.Equal(t, map[Status]int{
		StatusPending:   0,
		StatusRunning:   0,
		StatusCompleted: 0,
		StatusFailed:    0,
	}, s.Stats())
}

func TestService_EvictExpired(t *testing.T) {
	t.Parallel()

	s := newTestService(t, ServiceConfig{
		Executor:  ExecutorConfig{DefaultTimeout: time.Second},
		Retention: time.Hour,
	}, nil, map[Kind]Handler{KindCrawl: noopHandler(), KindEASMDiscovery: blockingHandler()})
	s.Start()

	done, err := s.Submit(context.Background(), KindCrawl, nil)
	require.NoError(t, err)
	waitForStatus(t, s, done.ID, StatusCompleted, time.Second)

	live, err := s.Submit(context.Background(), KindEASMDiscovery, nil)
	require.NoError(t, err)
	waitForStatus(t, s, live.ID, StatusRunning, time.Second)

	assert.Equal(t, 0, s.evictExpired(time.Now()), "inside the retention window")
	assert.Equal(t, 1, s.evictExpired(time.Now().Add(2*time.Hour)))

	_, err = s.GetStatus(done.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetStatus(live.ID)
	assert.NoError(t, err, "non-terminal tasks are never evicted")
}
