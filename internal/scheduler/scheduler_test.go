package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"email-event-digest/internal/config"
	"email-event-digest/internal/metrics"
	"email-event-digest/internal/models"
)

// Prometheus collectors register on the global registry, so the package
// shares one instance across tests.
var testMetrics = metrics.NewMetrics()

var errFetch = errors.New("mailbox unavailable")

// captureFetcher records the state of the context it was called with and
// fails the fetch, so a cycle never reaches the pipeline.
type captureFetcher struct {
	calls   int
	lastErr error
}

func (f *captureFetcher) FetchNewEmails(ctx context.Context) ([]models.EmailMessage, error) {
	f.calls++
	f.lastErr = ctx.Err()
	return nil, errFetch
}

func (f *captureFetcher) Close() error { return nil }

func testScheduler(f *captureFetcher) *Scheduler {
	return NewScheduler(&config.SchedulerConfig{IntervalMinutes: 5}, f, nil, testMetrics)
}

func TestSchedulerRunsAfterRestart(t *testing.T) {
	f := &captureFetcher{}
	s := testScheduler(f)

	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Start())
	defer s.Stop()

	_, err := s.RunOnce()
	require.ErrorIs(t, err, errFetch)

	// The cycle reached the fetcher on a live context.
	assert.Equal(t, 1, f.calls)
	assert.NoError(t, f.lastErr)

	// Restarting must not stack a second cron entry.
	assert.Len(t, s.cron.Entries(), 1)
}

func TestSchedulerRunOnceAfterStop(t *testing.T) {
	f := &captureFetcher{}
	s := testScheduler(f)

	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())

	_, err := s.RunOnce()
	require.ErrorIs(t, err, errFetch)
	assert.NoError(t, f.lastErr)
	assert.False(t, s.IsRunning())
}

func TestSchedulerDoubleStart(t *testing.T) {
	s := testScheduler(&captureFetcher{})

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Error(t, s.Start())
	assert.True(t, s.IsRunning())
}

func TestSchedulerStopWhenNotRunning(t *testing.T) {
	s := testScheduler(&captureFetcher{})
	assert.NoError(t, s.Stop())
}
