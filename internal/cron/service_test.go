package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenworks/studiobook-backend/pkg/logger"
)

type countingJob struct {
	name string
	runs int
	err  error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(context.Context) error {
	j.runs++
	return j.err
}

type fakeLock struct {
	available bool
	err       error
	acquired  int
	released  int
}

func (l *fakeLock) Acquire(context.Context) (bool, error) {
	l.acquired++
	return l.available, l.err
}

func (l *fakeLock) Release(context.Context) error {
	l.released++
	return nil
}

func newCronTestService(t *testing.T, registry *Registry, lock Lock) *Service {
	t.Helper()

	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry: registry,
		Lock:     lock,
	})
	require.NoError(t, err)
	return svc
}

func TestRunCycleExecutesAllJobs(t *testing.T) {
	t.Parallel()

	first := &countingJob{name: "first"}
	second := &countingJob{name: "second"}
	lock := &fakeLock{available: true}
	svc := newCronTestService(t, NewRegistry(first, second), lock)

	require.NoError(t, svc.runCycle(context.Background()))
	assert.Equal(t, 1, first.runs)
	assert.Equal(t, 1, second.runs)
	assert.Equal(t, 1, lock.released)
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	t.Parallel()

	job := &countingJob{name: "skipped"}
	lock := &fakeLock{available: false}
	svc := newCronTestService(t, NewRegistry(job), lock)

	require.NoError(t, svc.runCycle(context.Background()))
	assert.Equal(t, 0, job.runs)
	assert.Equal(t, 0, lock.released)
}

func TestRunCycleContinuesPastFailingJob(t *testing.T) {
	t.Parallel()

	failing := &countingJob{name: "failing", err: errors.New("boom")}
	healthy := &countingJob{name: "healthy"}
	lock := &fakeLock{available: true}
	svc := newCronTestService(t, NewRegistry(failing, healthy), lock)

	require.NoError(t, svc.runCycle(context.Background()))
	assert.Equal(t, 1, failing.runs)
	assert.Equal(t, 1, healthy.runs)
}

func TestRunCycleLockError(t *testing.T) {
	t.Parallel()

	job := &countingJob{name: "never"}
	lock := &fakeLock{err: errors.New("redis down")}
	svc := newCronTestService(t, NewRegistry(job), lock)

	require.Error(t, svc.runCycle(context.Background()))
	assert.Equal(t, 0, job.runs)
}

func TestRegistrySkipsNilJobs(t *testing.T) {
	t.Parallel()

	job := &countingJob{name: "only"}
	registry := NewRegistry(nil, job, nil)
	registry.Register(nil)

	jobs := registry.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "only", jobs[0].Name())
}
