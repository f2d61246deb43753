package task

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Create(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	params := json.RawMessage(`{"keywords":["log4j"]}`)

	task := r.Create(KindCrawl, params, Plan{})

	assert.NotEqual(t, uuid.Nil, task.ID)
	assert.Equal(t, KindCrawl, task.Kind)
	assert.Equal(t, StatusPending, task.Status)
	assert.JSONEq(t, `{"keywords":["log4j"]}`, string(task.Parameters))
	assert.WithinDuration(t, time.Now(), task.SubmittedAt, 2*time.Second)
	assert.Nil(t, task.StartedAt)
	assert.Nil(t, task.CompletedAt)
	assert.Nil(t, task.Progress, "no plan means no progress counter")
	assert.Nil(t, task.Result)
	assert.Nil(t, task.Error)

	// The caller's buffer is not retained
	params[2] = 'X'
	stored, err := r.Get(task.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"keywords":["log4j"]}`, string(stored.Parameters))
}

func TestRegistry_CreateWithPlan(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	task := r.Create(KindBASSimulation, json.RawMessage(`{}`), Plan{TotalSteps: 3})

	require.NotNil(t, task.Progress)
	assert.Equal(t, Progress{Completed: 0, Total: 3}, *task.Progress)
}

func TestRegistry_CreateRegeneratesCollidingIDs(t *testing.T) {
	t.Parallel()

	first := uuid.New()
	second := uuid.New()
	ids := []uuid.UUID{first, first, uuid.Nil, second}

	r := NewRegistry()
	r.newID = func() uuid.UUID {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	a := r.Create(KindCrawl, nil, Plan{})
	b := r.Create(KindCrawl, nil, Plan{})

	assert.Equal(t, first, a.ID)
	assert.Equal(t, second, b.ID, "duplicate and nil ids are skipped")
}

func TestRegistry_ConcurrentCreate(t *testing.T) {
	t.Parallel()

	const workers, perWorker = 20, 50
	r := NewRegistry()

	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ids <- r.Create(KindEASMDiscovery, nil, Plan{}).ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uuid.UUID]bool)
	for id := range ids {
		assert.False(t, seen[id], "id %s issued twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers*perWorker)
	assert.Equal(t, workers*perWorker, r.Len())
}

func TestRegistry_Get(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	t.Run("unknown id", func(t *testing.T) {
		_, err := r.Get(uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("snapshots are independent copies", func(t *testing.T) {
		created := r.Create(KindBASSimulation, json.RawMessage(`{"a":1}`), Plan{TotalSteps: 2})

		snapshot, err := r.Get(created.ID)
		require.NoError(t, err)
		snapshot.Progress.Completed = 2
		snapshot.Parameters[1] = 'Z'
		snapshot.Status = StatusCompleted

		again, err := r.Get(created.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, again.Progress.Completed)
		assert.Equal(t, StatusPending, again.Status)
		assert.JSONEq(t, `{"a":1}`, string(again.Parameters))
	})
}

func TestRegistry_List(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	crawl1 := r.Create(KindCrawl, nil, Plan{})
	report := r.Create(KindReportGeneration, nil, Plan{})
	crawl2 := r.Create(KindCrawl, nil, Plan{})
	startTask(t, r, crawl2.ID)

	ids := func(tasks []Task) []uuid.UUID {
		out := make([]uuid.UUID, 0, len(tasks))
		for _, tk := range tasks {
			out = append(out, tk.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter Filter
		limit  int
		want   []uuid.UUID
	}{
		{"no filter returns everything oldest first", Filter{}, 0, []uuid.UUID{crawl1.ID, report.ID, crawl2.ID}},
		{"newest first", Filter{Newest: true}, 0, []uuid.UUID{crawl2.ID, report.ID, crawl1.ID}},
		{"by kind", Filter{Kind: KindCrawl}, 0, []uuid.UUID{crawl1.ID, crawl2.ID}},
		{"by status", Filter{Status: StatusRunning}, 0, []uuid.UUID{crawl2.ID}},
		{"kind and status are conjunctive", Filter{Kind: KindReportGeneration, Status: StatusRunning}, 0, []uuid.UUID{}},
		{"unmatched kind", Filter{Kind: KindAdversarialTest}, 0, []uuid.UUID{}},
		{"limit", Filter{}, 2, []uuid.UUID{crawl1.ID, report.ID}},
		{"limit with newest", Filter{Newest: true, Kind: KindCrawl}, 1, []uuid.UUID{crawl2.ID}},
		{"negative limit is unbounded", Filter{}, -1, []uuid.UUID{crawl1.ID, report.ID, crawl2.ID}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := r.List(tc.filter, tc.limit)
			require.NotNil(t, got)
			assert.Equal(t, tc.want, ids(got))
			for _, tk := range got {
				if tc.filter.Kind != "" {
					assert.Equal(t, tc.filter.Kind, tk.Kind)
				}
			}
		})
	}
}

func TestRegistry_CompareAndUpdate(t *testing.T) {
	t.Parallel()

	t.Run("unknown id", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.CompareAndUpdate(uuid.New(), StatusPending, func(*Task) error { return nil })
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("expected status mismatch", func(t *testing.T) {
		r := NewRegistry()
		task := r.Create(KindCrawl, nil, Plan{})

		_, err := r.CompareAndUpdate(task.ID, StatusRunning, func(*Task) error { return nil })
		assert.ErrorIs(t, err, ErrConcurrencyConflict)
	})

	t.Run("terminal tasks are immutable", func(t *testing.T) {
		r := NewRegistry()
		task := r.Create(KindCrawl, nil, Plan{})
		startTask(t, r, task.ID)
		done := completeTask(t, r, task.ID, `{"ok":true}`)

		for _, expected := range []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed} {
			_, err := r.CompareAndUpdate(task.ID, expected, func(tk *Task) error {
				tk.Result = json.RawMessage(`{"ok":false}`)
				return nil
			})
			assert.ErrorIs(t, err, ErrAlreadyTerminal)
		}

		again, err := r.Get(task.ID)
		require.NoError(t, err)
		assert.Equal(t, done, again)
	})

	t.Run("mutation error aborts the update", func(t *testing.T) {
		r := NewRegistry()
		task := r.Create(KindCrawl, nil, Plan{})
		boom := errors.New("boom")

		_, err := r.CompareAndUpdate(task.ID, StatusPending, func(tk *Task) error {
			tk.Status = StatusRunning
			return boom
		})
		assert.ErrorIs(t, err, boom)

		again, _ := r.Get(task.ID)
		assert.Equal(t, StatusPending, again.Status)
	})

	t.Run("skipping running is rejected", func(t *testing.T) {
		r := NewRegistry()
		task := r.Create(KindCrawl, nil, Plan{})

		_, err := r.CompareAndUpdate(task.ID, StatusPending, func(tk *Task) error {
			now := time.Now()
			tk.Status = StatusCompleted
			tk.StartedAt = &now
			tk.CompletedAt = &now
			tk.Result = json.RawMessage(`1`)
			return nil
		})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("running requires started_at", func(t *testing.T) {
		r := NewRegistry()
		task := r.Create(KindCrawl, nil, Plan{})

		_, err := r.CompareAndUpdate(task.ID, StatusPending, func(tk *Task) error {
			tk.Status = StatusRunning
			return nil
		})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("started_at is set once", func(t *testing.T) {
		r := NewRegistry()
		task := r.Create(KindCrawl, nil, Plan{})
		startTask(t, r, task.ID)

		_, err := r.CompareAndUpdate(task.ID, StatusRunning, func(tk *Task) error {
			later := tk.StartedAt.Add(time.Hour)
			tk.StartedAt = &later
			return nil
		})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("result and error are exclusive", func(t *testing.T) {
		r := NewRegistry()
		task := r.Create(KindCrawl, nil, Plan{})
		startTask(t, r, task.ID)

		_, err := r.CompareAndUpdate(task.ID, StatusRunning, func(tk *Task) error {
			finished := tk.StartedAt.Add(time.Second)
			tk.Status = StatusCompleted
			tk.CompletedAt = &finished
			tk.Result = json.RawMessage(`{}`)
			tk.Error = &Failure{Kind: ErrorKindHandlerFailure, Message: "x"}
			return nil
		})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, err = r.CompareAndUpdate(task.ID, StatusRunning, func(tk *Task) error {
			tk.Result = json.RawMessage(`{}`)
			return nil
		})
		assert.ErrorIs(t, err, ErrInvalidTransition, "running task cannot carry a result")
	})

	t.Run("progress is monotonic and bounded", func(t *testing.T) {
		r := NewRegistry()
		task := r.Create(KindBASSimulation, nil, Plan{TotalSteps: 3})
		startTask(t, r, task.ID)

		updated, err := r.CompareAndUpdate(task.ID, StatusRunning, func(tk *Task) error {
			tk.Progress.Completed = 2
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Progress.Completed)

		_, err = r.CompareAndUpdate(task.ID, StatusRunning, func(tk *Task) error {
			tk.Progress.Completed = 1
			return nil
		})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, err = r.CompareAndUpdate(task.ID, StatusRunning, func(tk *Task) error {
			tk.Progress.Completed = 4
			return nil
		})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, err = r.CompareAndUpdate(task.ID, StatusRunning, func(tk *Task) error {
			tk.Progress = nil
			return nil
		})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("identity is immutable", func(t *testing.T) {
		r := NewRegistry()
		task := r.Create(KindCrawl, nil, Plan{})

		_, err := r.CompareAndUpdate(task.ID, StatusPending, func(tk *Task) error {
			tk.Kind = KindBASSimulation
			return nil
		})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestRegistry_Evict(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	old := r.Create(KindCrawl, nil, Plan{})
	startTask(t, r, old.ID)
	done := completeTask(t, r, old.ID, `1`)

	running := r.Create(KindCrawl, nil, Plan{})
	startTask(t, r, running.ID)
	pending := r.Create(KindCrawl, nil, Plan{})

	assert.Equal(t, 0, r.Evict(done.CompletedAt.Add(-time.Second)), "cutoff before completion keeps the task")
	assert.Equal(t, 1, r.Evict(time.Now().Add(time.Hour)))

	_, err := r.Get(old.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	remaining := r.List(Filter{}, 0)
	require.Len(t, remaining, 2)
	assert.Equal(t, running.ID, remaining[0].ID)
	assert.Equal(t, pending.ID, remaining[1].ID)
}

func TestRegistry_EvictReleasesRecords(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for i := 0; i < 100; i++ {
		tk := r.Create(KindCrawl, nil, Plan{})
		startTask(t, r, tk.ID)
		completeTask(t, r, tk.ID, `1`)
	}
	live := r.Create(KindCrawl, nil, Plan{})

	require.Equal(t, 100, r.Evict(time.Now().Add(time.Hour)))

	r.mu.RLock()
	defer r.mu.RUnlock()
	assert.Len(t, r.tasks, 1, "evicted tasks leave nothing behind")
	assert.Equal(t, []uuid.UUID{live.ID}, r.order)
}

func TestRegistry_Counts(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	a := r.Create(KindCrawl, nil, Plan{})
	r.Create(KindCrawl, nil, Plan{})
	startTask(t, r, a.ID)

	assert.Equal(t, map[Status]int{
		StatusPending:   1,
		StatusRunning:   1,
		StatusCompleted: 0,
		StatusFailed:    0,
	}, r.Counts())
}

func TestStatus(t *testing.T) {
	t.Parallel()

	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())

	assert.True(t, StatusRunning.Valid())
	assert.False(t, Status("retrying").Valid())

	assert.True(t, canTransition(StatusPending, StatusRunning))
	assert.True(t, canTransition(StatusRunning, StatusFailed))
	assert.False(t, canTransition(StatusPending, StatusFailed))
	assert.False(t, canTransition(StatusRunning, StatusPending))
	assert.False(t, canTransition(StatusCompleted, StatusFailed))
}
