package cron

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmdrive/drive-backend/pkg/logger"
	"github.com/lmdrive/drive-backend/pkg/metrics"
)

type scriptedLock struct {
	available bool
	acquired  int
	released  int
}

func (l *scriptedLock) Acquire(context.Context) (bool, error) {
	if !l.available {
		return false, nil
	}
	l.acquired++
	return true, nil
}

func (l *scriptedLock) Release(context.Context) error {
	l.released++
	return nil
}

type countingJob struct {
	name string
	err  error
	runs int
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(context.Context) error {
	j.runs++
	return j.err
}

func TestPassRunsEveryJobDespiteFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	failing := &countingJob{name: "pending_order_expiry", err: errors.New("db down")}
	ok := &countingJob{name: "outbox_retention"}
	lock := &scriptedLock{available: true}

	svc, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(failing, ok),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	require.NoError(t, err)
	require.NoError(t, svc.pass(context.Background()))

	assert.Equal(t, 1, failing.runs)
	assert.Equal(t, 1, ok.runs)
	assert.Equal(t, 1, lock.released)

	expected := `
# HELP cron_job_runs_total Cron job runs by job and result.
# TYPE cron_job_runs_total counter
cron_job_runs_total{job="outbox_retention",result="succeeded"} 1
cron_job_runs_total{job="pending_order_expiry",result="failed"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "cron_job_runs_total"))
}

func TestPassSkipsWhenLockHeld(t *testing.T) {
	job := &countingJob{name: "outbox_retention"}
	lock := &scriptedLock{}
	svc, err := NewService(ServiceParams{Logger: logger.Nop(), Registry: NewRegistry(job), Lock: lock})
	require.NoError(t, err)

	require.NoError(t, svc.pass(context.Background()))
	assert.Zero(t, job.runs)
	assert.Zero(t, lock.released)
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	job := &countingJob{name: "outbox_retention"}
	svc, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(job),
		Lock:     &scriptedLock{available: true},
		Interval: time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, svc.Run(ctx))
	assert.Equal(t, 1, job.runs)
}

func TestNewServiceDefaults(t *testing.T) {
	_, err := NewService(ServiceParams{Lock: &scriptedLock{}})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Logger: logger.Nop()})
	assert.Error(t, err)

	svc, err := NewService(ServiceParams{Logger: logger.Nop(), Lock: &scriptedLock{}})
	require.NoError(t, err)
	assert.Equal(t, defaultInterval, svc.interval)
	assert.Empty(t, svc.jobs.Jobs())
}
