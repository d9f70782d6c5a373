package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	appcfg "github.com/mx-space/chaptr/internal/config"
	"github.com/mx-space/chaptr/internal/pkg/taskqueue"
)

func newTestService(b *fakeBackend, store DocumentStore, queue taskqueue.Queue) *Service {
	settings := appcfg.AIConfig{Provider: "completion", APIKey: "k", Temperature: 0.5, RequestTimeout: time.Second}
	return NewService(NewRouter(b, b), store, queue, nil, settings, 100)
}

func waitForStatus(t *testing.T, q taskqueue.Queue, id string, want taskqueue.TaskStatus) *taskqueue.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, _ := q.GetByID(context.Background(), id)
		if task != nil && task.Status == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := q.GetByID(context.Background(), id)
	t.Fatalf("task %s never reached %s, last = %+v", id, want, task)
	return nil
}

func TestService_Analyze(t *testing.T) {
	store := newFakeStore()
	b := &fakeBackend{records: []RawSegment{{Title: "A", Summary: "a"}, {Title: "B", Summary: "b"}}}
	svc := newTestService(b, store, nil)

	doc, err := svc.Analyze(context.Background(), AnalyzeInput{Text: "# Heading line\nbody"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if doc.ID == "" || doc.Title != "Heading line" || len(doc.Segments) != 2 {
		t.Fatalf("doc = %+v", doc)
	}
	if doc.Segments[0].ID == doc.Segments[1].ID || doc.Segments[0].Title != "A" {
		t.Errorf("segments = %+v", doc.Segments)
	}
	if _, err := store.LoadConversation(context.Background(), doc.ID); err != nil {
		t.Errorf("document not stored: %v", err)
	}
}

func TestService_AnalyzeRejects(t *testing.T) {
	b := &fakeBackend{}
	svc := newTestService(b, newFakeStore(), nil)

	if _, err := svc.Analyze(context.Background(), AnalyzeInput{Text: "   "}); !errors.Is(err, ErrEmptyText) {
		t.Errorf("empty: %v", err)
	}
	if _, err := svc.Analyze(context.Background(), AnalyzeInput{Text: strings.Repeat("é", 101)}); !errors.Is(err, ErrTextTooLong) {
		t.Errorf("too long: %v", err)
	}
	bad := "nope"
	if _, err := svc.Analyze(context.Background(), AnalyzeInput{Text: "x", Override: &ConfigOverride{Provider: &bad}}); !IsConfigError(err) {
		t.Errorf("bad provider: %v", err)
	}
	if b.analyses != 0 {
		t.Errorf("backend called %d times", b.analyses)
	}
}

func TestService_AnalyzeBackendError(t *testing.T) {
	store := newFakeStore()
	b := &fakeBackend{analyzeErr: &ParseError{Reason: "garbage", Err: ErrNotArray}}
	svc := newTestService(b, store, nil)

	if _, err := svc.Analyze(context.Background(), AnalyzeInput{Text: "x"}); !IsParseError(err) {
		t.Fatalf("err = %v", err)
	}
	if len(store.docs) != 0 {
		t.Error("document stored after failure")
	}
}

func TestService_EnqueueAnalyze(t *testing.T) {
	queue := taskqueue.NewMemoryQueue()
	b := &fakeBackend{records: []RawSegment{{Title: "A", Summary: "a"}}}
	svc := newTestService(b, newFakeStore(), queue)

	task, err := svc.EnqueueAnalyze(context.Background(), AnalyzeInput{Title: "T", Text: "body"})
	if err != nil {
		t.Fatalf("EnqueueAnalyze: %v", err)
	}
	if strings.Contains(string(task.Payload), "body") || strings.Contains(string(task.Payload), `"k"`) {
		t.Errorf("payload leaks input: %s", task.Payload)
	}

	done := waitForStatus(t, queue, task.ID, taskqueue.TaskCompleted)
	if !strings.Contains(string(done.Result), `"segments":1`) {
		t.Errorf("result = %s", done.Result)
	}
}

func TestService_CancelRunningTask(t *testing.T) {
	queue := taskqueue.NewMemoryQueue()
	b := &fakeBackend{blockAnalyze: true}
	svc := newTestService(b, newFakeStore(), queue)

	task, err := svc.EnqueueAnalyze(context.Background(), AnalyzeInput{Text: "body"})
	if err != nil {
		t.Fatalf("EnqueueAnalyze: %v", err)
	}
	waitForStatus(t, queue, task.ID, taskqueue.TaskRunning)

	dup, err := svc.EnqueueAnalyze(context.Background(), AnalyzeInput{Text: "body"})
	if err != nil || dup.ID != task.ID {
		t.Fatalf("duplicate enqueue = %+v, %v", dup, err)
	}

	if err := svc.CancelTask(context.Background(), task.ID); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	got, _ := queue.GetByID(context.Background(), task.ID)
	if got.Status != taskqueue.TaskCancelled {
		t.Fatalf("status = %s", got.Status)
	}
	if err := svc.CancelTask(context.Background(), task.ID); !errors.Is(err, taskqueue.ErrNotCancelable) {
		t.Fatalf("second cancel: %v", err)
	}
}

func TestService_NoQueue(t *testing.T) {
	svc := newTestService(&fakeBackend{}, nil, nil)
	if _, err := svc.EnqueueAnalyze(context.Background(), AnalyzeInput{Text: "x"}); !errors.Is(err, ErrNoTaskQueue) {
		t.Fatalf("err = %v", err)
	}
}
