package loadtest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/alem-hub/studyup-loadgen/internal/domain/backend"
	"github.com/alem-hub/studyup-loadgen/internal/domain/metric"
)

var errBackend = errors.New("backend unavailable")

// fakeClient is a scriptable in-process backend.
type fakeClient struct {
	mu       sync.Mutex
	accounts int
	writes   int
	docs     map[string][]backend.Document

	failAccounts bool
	failWrite    func(n int) bool
	onWrite      func(ctx context.Context) error
}

func newFakeClient() *fakeClient {
	return &fakeClient{docs: make(map[string][]backend.Document)}
}

func (f *fakeClient) CreateAccount(_ context.Context, _, _ string, _ bool) (backend.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAccounts {
		return backend.Account{}, errBackend
	}
	f.accounts++
	return backend.Account{UserID: fmt.Sprintf("uid-%d", f.accounts)}, nil
}

func (f *fakeClient) AddDocument(ctx context.Context, path backend.CollectionPath, fields map[string]any) (string, error) {
	if f.onWrite != nil {
		if err := f.onWrite(ctx); err != nil {
			return "", err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.failWrite != nil && f.failWrite(f.writes) {
		return "", errBackend
	}
	id := fmt.Sprintf("doc-%d", f.writes)
	f.docs[path.String()] = append(f.docs[path.String()], backend.Document{ID: id, Fields: fields})
	return id, nil
}

func (f *fakeClient) ListDocuments(_ context.Context, path backend.CollectionPath) iter.Seq2[backend.Document, error] {
	f.mu.Lock()
	docs := append([]backend.Document(nil), f.docs[path.String()]...)
	f.mu.Unlock()

	return func(yield func(backend.Document, error) bool) {
		for _, d := range docs {
			if !yield(d, nil) {
				return
			}
		}
	}
}

func (f *fakeClient) accountCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts
}

// eventLog records events in arrival order.
type eventLog struct {
	mu     sync.Mutex
	events []metric.Event
}

func (l *eventLog) Record(e metric.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) all() []metric.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]metric.Event(nil), l.events...)
}

func (l *eventLog) named(name string) []metric.Event {
	var out []metric.Event
	for _, e := range l.all() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) category(c metric.Category) []metric.Event {
	var out []metric.Event
	for _, e := range l.all() {
		if e.Category == c {
			out = append(out, e)
		}
	}
	return out
}
