package guard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrigin struct {
	used, quota int64
	err         error
}

func (f fakeOrigin) UsageEstimate(context.Context) (int64, int64, error) {
	return f.used, f.quota, f.err
}

type fakeLocal int64

func (f fakeLocal) Bytes(context.Context) (int64, error) { return int64(f), nil }

func TestClassify(t *testing.T) {
	tests := []struct {
		used int64
		want Status
	}{
		{0, StatusOK},
		{SoftLimitBytes - 1, StatusOK},
		{SoftLimitBytes, StatusWarning},
		{HardLimitBytes - 1, StatusWarning},
		{HardLimitBytes, StatusBlocked},
		{HardLimitBytes * 2, StatusBlocked},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.used, SoftLimitBytes, HardLimitBytes), "used=%d", tt.used)
	}
	assert.Less(t, SoftLimitBytes, HardLimitBytes)
}

func TestSnapshot(t *testing.T) {
	g := New(fakeOrigin{used: 10, quota: 0}, fakeLocal(4), nil, WithLimits(100, 200), WithQuota(1000))
	snap, err := g.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Snapshot{
		OriginUsed:     10,
		OriginQuota:    1000,
		LocalUsed:      4,
		SoftLimitBytes: 100,
		HardLimitBytes: 200,
		Status:         StatusOK,
	}, snap)
}

func TestEnforceWriteGuard(t *testing.T) {
	tests := []struct {
		name    string
		used    int64
		want    Status
		blocked bool
	}{
		{"ok", 50, StatusOK, false},
		{"warning proceeds", 150, StatusWarning, false},
		{"blocked at hard limit", 200, StatusBlocked, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(fakeOrigin{used: tt.used}, nil, nil, WithLimits(100, 200))
			status, err := g.EnforceWriteGuard(context.Background())
			assert.Equal(t, tt.want, status)
			if tt.blocked {
				assert.ErrorIs(t, err, ErrStorageHardLimit)
				assert.Equal(t, "STORAGE_HARD_LIMIT_REACHED", err.Error())
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnforceWriteGuard_EstimateError(t *testing.T) {
	boom := errors.New("disk gone")
	g := New(fakeOrigin{err: boom}, nil, nil)
	_, err := g.EnforceWriteGuard(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrStorageHardLimit)
}
