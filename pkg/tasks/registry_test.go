package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
)

var t0 = time.Date(2025, 11, 25, 12, 0, 0, 0, time.UTC)

func snapshot(status protocol.TaskStatus, at time.Duration) protocol.Task {
	return protocol.Task{
		TaskID:        "task-1",
		Status:        status,
		CreatedAt:     t0,
		LastUpdatedAt: t0.Add(at),
	}
}

func TestMergeRules(t *testing.T) {
	tests := []struct {
		name       string
		current    protocol.Task
		curSource  Source
		update     protocol.Task
		source     Source
		wantStatus protocol.TaskStatus
		wantAt     time.Duration
		changed    bool
	}{
		{
			name:    "newer working replaces working",
			current: snapshot(protocol.TaskStatusWorking, 0), curSource: SourcePoll,
			update: snapshot(protocol.TaskStatusInputRequired, time.Second), source: SourcePoll,
			wantStatus: protocol.TaskStatusInputRequired, wantAt: time.Second, changed: true,
		},
		{
			name:    "older snapshot ignored",
			current: snapshot(protocol.TaskStatusInputRequired, 2*time.Second), curSource: SourcePoll,
			update: snapshot(protocol.TaskStatusWorking, time.Second), source: SourceNotification,
			wantStatus: protocol.TaskStatusInputRequired, wantAt: 2 * time.Second,
		},
		{
			name:    "completed stays completed after newer working poll",
			current: snapshot(protocol.TaskStatusCompleted, time.Second), curSource: SourceNotification,
			update: snapshot(protocol.TaskStatusWorking, 5*time.Second), source: SourcePoll,
			wantStatus: protocol.TaskStatusCompleted, wantAt: time.Second,
		},
		{
			name:    "completed stays completed after newer working push",
			current: snapshot(protocol.TaskStatusCompleted, time.Second), curSource: SourcePoll,
			update: snapshot(protocol.TaskStatusWorking, 5*time.Second), source: SourceNotification,
			wantStatus: protocol.TaskStatusCompleted, wantAt: time.Second,
		},
		{
			name:    "cancel after completion is a no-op",
			current: snapshot(protocol.TaskStatusCompleted, time.Second), curSource: SourceNotification,
			update: snapshot(protocol.TaskStatusCancelled, 2*time.Second), source: SourcePoll,
			wantStatus: protocol.TaskStatusCompleted, wantAt: time.Second,
		},
		{
			name:    "older terminal still wins without moving the clock back",
			current: snapshot(protocol.TaskStatusWorking, 3*time.Second), curSource: SourceNotification,
			update: snapshot(protocol.TaskStatusFailed, time.Second), source: SourcePoll,
			wantStatus: protocol.TaskStatusFailed, wantAt: 3 * time.Second, changed: true,
		},
		{
			name:    "tie goes to terminal",
			current: snapshot(protocol.TaskStatusWorking, time.Second), curSource: SourceNotification,
			update: snapshot(protocol.TaskStatusCompleted, time.Second), source: SourcePoll,
			wantStatus: protocol.TaskStatusCompleted, wantAt: time.Second, changed: true,
		},
		{
			name:    "tie between non-terminal goes to notification",
			current: snapshot(protocol.TaskStatusWorking, time.Second), curSource: SourceNotification,
			update: snapshot(protocol.TaskStatusInputRequired, time.Second), source: SourcePoll,
			wantStatus: protocol.TaskStatusWorking, wantAt: time.Second,
		},
		{
			name:    "notification wins tie over poll",
			current: snapshot(protocol.TaskStatusWorking, time.Second), curSource: SourcePoll,
			update: snapshot(protocol.TaskStatusInputRequired, time.Second), source: SourceNotification,
			wantStatus: protocol.TaskStatusInputRequired, wantAt: time.Second, changed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(logging.Nop())
			_, _, err := r.Merge(tt.current, tt.curSource)
			require.NoError(t, err)

			got, changed, err := r.Merge(tt.update, tt.source)
			require.NoError(t, err)
			assert.Equal(t, tt.changed, changed)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.True(t, got.LastUpdatedAt.Equal(t0.Add(tt.wantAt)), "lastUpdatedAt = %s", got.LastUpdatedAt)

			stored, ok := r.Get("task-1")
			require.True(t, ok)
			assert.Equal(t, got, stored)
		})
	}
}

func TestMergeRejectsInvalidSnapshots(t *testing.T) {
	r := NewRegistry(nil)

	_, _, err := r.Merge(protocol.Task{Status: protocol.TaskStatusWorking}, SourcePoll)
	assert.True(t, errors.Is(err, mcperrors.ErrValidation), "got %v", err)

	_, _, err = r.Merge(protocol.Task{TaskID: "x", Status: "sleeping"}, SourcePoll)
	assert.True(t, errors.Is(err, mcperrors.ErrValidation), "got %v", err)
	assert.Equal(t, 0, r.Len())
}

func TestMergeConcurrentSourcesConverge(t *testing.T) {
	for i := 0; i < 50; i++ {
		r := NewRegistry(nil)
		_, _, err := r.Merge(snapshot(protocol.TaskStatusWorking, 0), SourceCreate)
		require.NoError(t, err)

		var wg sync.WaitGroup
		updates := []struct {
			task   protocol.Task
			source Source
		}{
			{snapshot(protocol.TaskStatusWorking, time.Second), SourcePoll},
			{snapshot(protocol.TaskStatusCompleted, 2*time.Second), SourceNotification},
			{snapshot(protocol.TaskStatusWorking, 3*time.Second), SourcePoll},
			{snapshot(protocol.TaskStatusInputRequired, time.Second), SourceNotification},
		}
		for _, u := range updates {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, _ = r.Merge(u.task, u.source)
			}()
		}
		wg.Wait()

		got, _ := r.Get("task-1")
		assert.Equal(t, protocol.TaskStatusCompleted, got.Status)
	}
}

func TestRegistryWait(t *testing.T) {
	r := NewRegistry(nil)

	result := make(chan protocol.Task, 1)
	go func() {
		task, err := r.Wait(context.Background(), "task-1")
		assert.NoError(t, err)
		result <- task
	}()

	_, _, err := r.Merge(snapshot(protocol.TaskStatusWorking, 0), SourceCreate)
	require.NoError(t, err)
	_, _, err = r.Merge(snapshot(protocol.TaskStatusFailed, time.Second), SourceNotification)
	require.NoError(t, err)

	select {
	case task := <-result:
		assert.Equal(t, protocol.TaskStatusFailed, task.Status)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = r.Wait(ctx, "never")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistryWaitSurvivesForget(t *testing.T) {
	r := NewRegistry(nil)
	_, _, err := r.Merge(snapshot(protocol.TaskStatusWorking, 0), SourceCreate)
	require.NoError(t, err)

	result := make(chan protocol.Task, 1)
	go func() {
		task, err := r.Wait(context.Background(), "task-1")
		assert.NoError(t, err)
		result <- task
	}()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.entries["task-1"].waiters == 1
	}, time.Second, 5*time.Millisecond)

	r.Forget("task-1")
	_, ok := r.Get("task-1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())

	_, _, err = r.Merge(snapshot(protocol.TaskStatusCompleted, time.Second), SourcePoll)
	require.NoError(t, err)

	select {
	case task := <-result:
		assert.Equal(t, protocol.TaskStatusCompleted, task.Status)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the task was forgotten")
	}
}

func TestRegistryWaitTimeoutLeavesNoPlaceholder(t *testing.T) {
	r := NewRegistry(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Wait(ctx, "never")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Empty(t, r.entries)
}

func TestRegistryPrune(t *testing.T) {
	r := NewRegistry(nil)
	short := snapshot(protocol.TaskStatusCompleted, 0)
	short.TTL = protocol.Millis(time.Minute)
	forever := snapshot(protocol.TaskStatusWorking, 0)
	forever.TaskID = "task-2"

	_, _, err := r.Merge(short, SourceCreate)
	require.NoError(t, err)
	_, _, err = r.Merge(forever, SourceCreate)
	require.NoError(t, err)

	assert.Equal(t, 0, r.Prune(t0.Add(30*time.Second)))
	assert.Equal(t, 1, r.Prune(t0.Add(2*time.Minute)))

	_, ok := r.Get("task-1")
	assert.False(t, ok)
	all := r.All()
	require.Len(t, all, 1)
	assert.Equal(t, "task-2", all[0].TaskID)

	r.Forget("task-2")
	assert.Zero(t, r.Len())
}
