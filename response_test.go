package nexusconsumer

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseBuilderOnTime(t *testing.T) {
	n := &recordingNotifier{}
	b := NewResponseBuilder(true, 60, false, n, nil, discardLogger())

	h := authedHeaders()
	resp := b.Build(context.Background(), "test", 10*time.Millisecond, h, http.StatusOK)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, map[string]string{HeaderAPIKey: testAPIKey}, resp.Info)
	assert.Zero(t, n.count())
}

func TestResponseBuilderLateNotifies(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		wantMarker string
	}{
		{name: "success", status: http.StatusOK, wantMarker: Success},
		{name: "client error", status: http.StatusBadRequest, wantMarker: Failure},
		{name: "server error", status: http.StatusInternalServerError, wantMarker: Failure},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := &recordingNotifier{}
			rec := &fakeRecorder{}
			b := NewResponseBuilder(true, 60, false, n, rec, discardLogger())

			resp := b.Build(context.Background(), "test", 70*time.Second, authedHeaders(), tc.status)

			assert.Equal(t, tc.status, resp.Status)
			assert.Equal(t, tc.wantMarker, resp.Info[HeaderStatus])
			require.Equal(t, 1, n.count())
			assert.Equal(t, "test", n.last().queue)
			assert.Equal(t, resp.Info, n.last().body)
			assert.Equal(t, 1, rec.late)
			assert.Equal(t, []string{"ok"}, rec.notifies)
		})
	}
}

func TestResponseBuilderDisabled(t *testing.T) {
	n := &recordingNotifier{}
	b := NewResponseBuilder(false, 60, false, n, nil, discardLogger())

	resp := b.Build(context.Background(), "test", 70*time.Second, authedHeaders(), http.StatusBadRequest)

	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.NotContains(t, resp.Info, HeaderStatus)
	assert.Zero(t, n.count())
}

func TestResponseBuilderLateBoundary(t *testing.T) {
	b := NewResponseBuilder(true, 60, false, &recordingNotifier{}, nil, discardLogger())

	assert.False(t, b.IsLate(60*time.Second))
	assert.False(t, b.IsLate(60*time.Second+999*time.Microsecond))
	assert.True(t, b.IsLate(60*time.Second+time.Millisecond))

	zero := NewResponseBuilder(true, 0, false, &recordingNotifier{}, nil, discardLogger())
	assert.False(t, zero.IsLate(0))
	assert.True(t, zero.IsLate(time.Millisecond))
}

func TestResponseBuilderNotificationFailureDoesNotChangeResponse(t *testing.T) {
	n := &recordingNotifier{result: NotifyResult{
		Body: map[string]any{"error": "boom"},
		Err:  assert.AnError,
	}}
	rec := &fakeRecorder{}
	b := NewResponseBuilder(true, 1, false, n, rec, discardLogger())

	resp := b.Build(context.Background(), "test", 2*time.Second, authedHeaders(), http.StatusOK)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, Success, resp.Info[HeaderStatus])
	assert.Equal(t, []string{"error"}, rec.notifies)
}

func TestResponseBuilderDetached(t *testing.T) {
	n := &recordingNotifier{block: make(chan struct{})}
	b := NewResponseBuilder(true, 1, true, n, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	h := authedHeaders()
	resp := b.Build(ctx, "test", 2*time.Second, h, http.StatusOK)
	cancel()

	// response is formed while the notification is still blocked
	assert.Equal(t, Success, resp.Info[HeaderStatus])
	assert.Zero(t, n.count())

	// later mutation of the request headers does not leak into the notification
	h.Add("late", "x")

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer waitCancel()
	assert.ErrorIs(t, b.Wait(waitCtx), context.DeadlineExceeded)

	close(n.block)
	require.NoError(t, b.Wait(context.Background()))
	require.Equal(t, 1, n.count())
	assert.NotContains(t, n.last().body, "late")
	assert.Equal(t, Success, n.last().body[HeaderStatus])
}

func TestTimer(t *testing.T) {
	fc := clockwork.NewFakeClock()
	timer := StartTimer(fc)

	fc.Advance(3 * time.Second)
	assert.Equal(t, 3*time.Second, timer.Elapsed())

	assert.Equal(t, 3*time.Second, timer.Stop())
	fc.Advance(time.Hour)
	assert.Equal(t, 3*time.Second, timer.Stop())
	assert.Equal(t, 3*time.Second, timer.Elapsed())
}
