package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubMaintainer struct {
	sweeps    atomic.Int32
	retention time.Duration
	sweepErr  error
}

func (m *stubMaintainer) SweepExpired(context.Context) (int, error) {
	m.sweeps.Add(1)
	return 2, m.sweepErr
}

func (m *stubMaintainer) PurgeFinished(_ context.Context, retention time.Duration) (int, error) {
	m.retention = retention
	return 1, nil
}

type stubContent struct {
	cutoff time.Time
}

func (c *stubContent) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	c.cutoff = cutoff
	return 5, nil
}

func TestSweeperRunOnce(t *testing.T) {
	m := &stubMaintainer{}
	c := &stubContent{}
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	s := NewSweeper(m, c, SweeperConfig{Retention: 72 * time.Hour, ContentMaxAge: 96 * time.Hour}, quietLogger())
	s.now = func() time.Time { return now }

	res, err := s.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, SweepResult{Expired: 2, Purged: 1, Files: 5}, res)
	assert.Equal(t, 72*time.Hour, m.retention)
	assert.Equal(t, now.Add(-96*time.Hour), c.cutoff)
}

func TestSweeperRunOnceContinuesAfterError(t *testing.T) {
	m := &stubMaintainer{sweepErr: errors.New("list failed")}
	s := NewSweeper(m, nil, SweeperConfig{Retention: time.Hour}, quietLogger())

	res, err := s.RunOnce(context.Background())
	assert.ErrorContains(t, err, "list failed")
	assert.Equal(t, 1, res.Purged)
}

func TestSweeperStart(t *testing.T) {
	m := &stubMaintainer{}
	s := NewSweeper(m, nil, SweeperConfig{Interval: 5 * time.Millisecond}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	assert.Eventually(t, func() bool { return m.sweeps.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()
}
