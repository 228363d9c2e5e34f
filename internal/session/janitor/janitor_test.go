package janitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeDeleter struct {
	calls atomic.Int64
	fail  atomic.Bool
}

func (f *fakeDeleter) DeleteExpired(ctx context.Context) (int64, error) {
	f.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("cleanup called without a deadline")
	}
	if f.fail.Load() {
		return 0, errors.New("db down")
	}
	return 2, nil
}

type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func TestNew_Schedule(t *testing.T) {
	_, err := New(&fakeDeleter{}, "", 0, nil)
	assert.NoError(t, err)
	_, err = New(&fakeDeleter{}, "@every 5m", time.Second, nil)
	assert.NoError(t, err)
	_, err = New(&fakeDeleter{}, "not a schedule", time.Second, nil)
	assert.Error(t, err)
}

func TestJanitor_RunOnce(t *testing.T) {
	d := &fakeDeleter{}
	j, err := New(d, DefaultSchedule, time.Second, nil)
	require.NoError(t, err)
	n, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestJanitor_RunsOnScheduleAndSurvivesFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	d := &fakeDeleter{}
	d.fail.Store(true)
	j := NewWithSchedule(d, every(10*time.Millisecond), time.Second, logger)
	j.Start()

	require.Eventually(t, func() bool { return d.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, j.Stop(ctx))

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned, "failed runs should be logged")
}
