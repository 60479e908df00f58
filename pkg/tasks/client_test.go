package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine-go/pkg/session"
	"github.com/ajitpratap0/mcp-engine-go/pkg/transport"
)

// serveStore answers the task methods on s from store.
func serveStore(s *session.Session, store *Store) {
	s.OnRequest(protocol.MethodTasksGet, session.Handle(func(_ context.Context, p *protocol.GetTaskParams) (*protocol.GetTaskResult, error) {
		task, err := store.Get(p.TaskID)
		if err != nil {
			return nil, err
		}
		return &protocol.GetTaskResult{Task: task}, nil
	}))
	s.OnRequest(protocol.MethodTasksList, session.Handle(func(_ context.Context, p *protocol.ListTasksParams) (*protocol.ListTasksResult, error) {
		page, next, err := store.List(p.Cursor, 2)
		if err != nil {
			return nil, err
		}
		return &protocol.ListTasksResult{Tasks: page, PaginatedResult: protocol.PaginatedResult{NextCursor: next}}, nil
	}))
	s.OnRequest(protocol.MethodTasksCancel, session.Handle(func(_ context.Context, p *protocol.CancelTaskParams) (*protocol.CancelTaskResult, error) {
		task, err := store.Cancel(p.TaskID, p.Reason)
		if err != nil {
			return nil, err
		}
		return &protocol.CancelTaskResult{Task: task}, nil
	}))
	s.OnRequest(protocol.MethodTasksResult, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p protocol.TaskResultParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, mcperrors.InvalidParams(err.Error())
		}
		return store.Result(ctx, p.TaskID)
	})
}

type taskFixture struct {
	client *Client
	store  *Store
}

func newTaskFixture(t *testing.T) *taskFixture {
	t.Helper()
	var store *Store
	cs := newSessionPair(t, func(server *session.Session) {
		store = NewStore(WithStatusFunc(func(task protocol.Task) {
			_ = server.SendNotification(context.Background(), protocol.MethodTaskStatus,
				protocol.TaskStatusNotificationParams{Task: task})
		}))
		serveStore(server, store)
	})

	client := NewClient(cs, logging.Nop())
	t.Cleanup(func() {
		client.Close()
		store.Close()
	})
	return &taskFixture{client: client, store: store}
}

// newSessionPair connects an initialized client session to a server session
// whose handlers are installed by register.
func newSessionPair(t *testing.T, register func(server *session.Session)) *session.Session {
	t.Helper()
	a, b := transport.NewPipe()

	server := session.New(session.WithLogger(logging.Nop()), session.WithInitializeHandler(
		func(context.Context, *protocol.InitializeParams) (*protocol.InitializeResult, error) {
			return &protocol.InitializeResult{ServerInfo: protocol.Implementation{Name: "tasks", Version: "1"}}, nil
		}))
	register(server)

	cs := session.New(session.WithLogger(logging.Nop()))
	require.NoError(t, server.Connect(context.Background(), b))
	require.NoError(t, cs.Connect(context.Background(), a))
	_, err := cs.Initialize(context.Background(), protocol.InitializeParams{
		ClientInfo: protocol.Implementation{Name: "c", Version: "1"},
	})
	require.NoError(t, err)
	require.Eventually(t, server.IsInitialized, time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		_ = cs.Close()
		_ = server.Close()
		<-cs.Done()
		<-server.Done()
	})
	return cs
}

func TestClientTracksPushedCompletion(t *testing.T) {
	f := newTaskFixture(t)

	release := make(chan struct{})
	created := f.store.Start(protocol.TaskMetadata{}, func(context.Context) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`{"ok":true}`), nil
	})
	_, err := f.client.Track(created)
	require.NoError(t, err)

	got, err := f.client.Get(context.Background(), created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, protocol.TaskStatusWorking, got.Status)

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := f.client.Wait(ctx, created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, protocol.TaskStatusCompleted, final.Status)

	raw, err := f.client.Result(context.Background(), created.TaskID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))

	// A later poll cannot move the task back.
	got, err = f.client.Get(context.Background(), created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, protocol.TaskStatusCompleted, got.Status)
}

func TestClientCancel(t *testing.T) {
	f := newTaskFixture(t)

	created := f.store.Start(protocol.TaskMetadata{}, func(ctx context.Context) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	_, err := f.client.Track(created)
	require.NoError(t, err)

	got, err := f.client.Cancel(context.Background(), created.TaskID, "no longer needed")
	require.NoError(t, err)
	assert.Equal(t, protocol.TaskStatusCancelled, got.Status)
	assert.Equal(t, "no longer needed", got.StatusMessage)

	stored, ok := f.client.Registry().Get(created.TaskID)
	require.True(t, ok)
	assert.Equal(t, protocol.TaskStatusCancelled, stored.Status)
}

func TestClientCancelCompletedTask(t *testing.T) {
	f := newTaskFixture(t)

	created := f.store.Start(protocol.TaskMetadata{}, func(context.Context) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	_, err := f.client.Track(created)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = f.client.Wait(ctx, created.TaskID)
	require.NoError(t, err)

	got, err := f.client.Cancel(context.Background(), created.TaskID, "")
	require.NoError(t, err)
	assert.Equal(t, protocol.TaskStatusCompleted, got.Status)

	// Without a local snapshot the peer's rejection is checked with tasks/get.
	f.client.Registry().Forget(created.TaskID)
	got, err = f.client.Cancel(context.Background(), created.TaskID, "")
	require.NoError(t, err)
	assert.Equal(t, protocol.TaskStatusCompleted, got.Status)

	stored, _ := f.client.Registry().Get(created.TaskID)
	assert.Equal(t, protocol.TaskStatusCompleted, stored.Status)

	_, err = f.client.Cancel(context.Background(), "missing", "")
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidParams), "got %v", err)
}

func TestClientList(t *testing.T) {
	f := newTaskFixture(t)

	block := make(chan struct{})
	defer close(block)
	for i := 0; i < 3; i++ {
		f.store.Start(protocol.TaskMetadata{}, func(ctx context.Context) (json.RawMessage, error) {
			select {
			case <-block:
			case <-ctx.Done():
			}
			return nil, nil
		})
	}

	page, next, err := f.client.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, page, 2)
	require.NotEmpty(t, next)

	page, next, err = f.client.List(context.Background(), next)
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.Empty(t, next)
	assert.Equal(t, 3, f.client.Registry().Len())
}

func TestClientConcurrentGets(t *testing.T) {
	f := newTaskFixture(t)

	block := make(chan struct{})
	defer close(block)
	created := f.store.Start(protocol.TaskMetadata{}, func(ctx context.Context) (json.RawMessage, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := f.client.Get(context.Background(), created.TaskID)
			assert.NoError(t, err)
			assert.Equal(t, created.TaskID, task.TaskID)
		}()
	}
	wg.Wait()
}

func TestClientUnknownTask(t *testing.T) {
	f := newTaskFixture(t)

	_, err := f.client.Get(context.Background(), "missing")
	assert.True(t, mcperrors.IsRemote(err))
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidParams))
}

func TestClientGetCallersKeepTheirOwnDeadlines(t *testing.T) {
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	now := time.Now().UTC()
	cs := newSessionPair(t, func(server *session.Session) {
		server.OnRequest(protocol.MethodTasksGet, session.Handle(func(ctx context.Context, p *protocol.GetTaskParams) (*protocol.GetTaskResult, error) {
			entered <- struct{}{}
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return &protocol.GetTaskResult{Task: protocol.Task{
				TaskID: p.TaskID, Status: protocol.TaskStatusWorking, CreatedAt: now, LastUpdatedAt: now,
			}}, nil
		}))
	})
	client := NewClient(cs, logging.Nop())
	defer client.Close()

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	first := make(chan error, 1)
	go func() {
		_, err := client.Get(short, "task-1")
		first <- err
	}()
	<-entered

	second := make(chan error, 1)
	go func() {
		task, err := client.Get(context.Background(), "task-1")
		if err == nil && task.Status != protocol.TaskStatusWorking {
			err = errors.New("unexpected status " + string(task.Status))
		}
		second <- err
	}()

	select {
	case err := <-first:
		assert.True(t, mcperrors.IsCode(err, mcperrors.CodeRequestTimeout), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("short caller did not time out")
	}

	close(release)
	select {
	case err := <-second:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}
}
