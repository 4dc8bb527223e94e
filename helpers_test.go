package nexusconsumer

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hatsunemiku3939/nexusconsumer/config"
)

const testAPIKey = "nexusApiKey"

func testNexusConfig() config.NexusConfig {
	cfg := config.Default().Nexus
	cfg.APIKey = testAPIKey
	return cfg
}

func authedHeaders() Headers {
	h := NewHeaders()
	h.Add(HeaderAPIKey, testAPIKey)
	return h
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type notifyCall struct {
	queue string
	body  map[string]string
}

// recordingNotifier captures delay notifications instead of sending them.
type recordingNotifier struct {
	mu     sync.Mutex
	calls  []notifyCall
	result NotifyResult
	// block, when set, holds NotifyOnDelay until closed.
	block chan struct{}
}

func (n *recordingNotifier) NotifyOnDelay(_ context.Context, queueName string, headers Headers) NotifyResult {
	if n.block != nil {
		<-n.block
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{queue: queueName, body: headers.Flatten()})
	return n.result
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func (n *recordingNotifier) last() notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[len(n.calls)-1]
}

type dispatchObservation struct {
	queue   string
	status  int
	outcome string
	elapsed time.Duration
}

type fakeRecorder struct {
	mu         sync.Mutex
	dispatches []dispatchObservation
	late       int
	notifies   []string
}

func (r *fakeRecorder) ObserveDispatch(queueName string, status int, outcome string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatches = append(r.dispatches, dispatchObservation{queueName, status, outcome, elapsed})
}

func (r *fakeRecorder) ObserveLate(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.late++
}

func (r *fakeRecorder) ObserveNotify(_ string, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifies = append(r.notifies, result)
}
