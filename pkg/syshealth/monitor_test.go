package syshealth

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(cfg *Config) *sysHealthMonitor {
	m := NewMonitor(cfg, nil, slog.Default()).(*sysHealthMonitor)
	m.getCPUCores = func() int { return 4 }
	m.getCPUPercent = func(ctx context.Context, window time.Duration) ([]float64, error) {
		return []float64{20.0}, nil
	}
	m.getLoadAvg = func(ctx context.Context) (*load.AvgStat, error) {
		return &load.AvgStat{Load1: 1.0}, nil // 1.0 / 4 = 25% (safe)
	}
	m.getMemStats = func(ctx context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{UsedPercent: 50.0}, nil
	}
	return m
}

func TestMonitor_HealthScoreCalculation(t *testing.T) {
	m := newTestMonitor(DefaultConfig())

	// 1. All safe -> score 100
	m.collect()
	assert.Equal(t, 100, m.metrics.Score)
	assert.Equal(t, HealthZoneSafe, m.metrics.Zone)

	// 2. CPU warning (80% >= 75%). Penalty: 50 * 0.35 = 17.5 -> score 83.
	m.getCPUPercent = func(ctx context.Context, window time.Duration) ([]float64, error) {
		return []float64{80.0}, nil
	}
	m.collect()
	assert.Equal(t, 83, m.metrics.Score)
	assert.Equal(t, HealthZoneSafe, m.metrics.Zone)

	// 3. CPU critical (92% >= 90%). Penalty: 100 * 0.35 = 35 -> score 65.
	m.getCPUPercent = func(ctx context.Context, window time.Duration) ([]float64, error) {
		return []float64{92.0}, nil
	}
	m.collect()
	assert.Equal(t, 65, m.metrics.Score)
	assert.Equal(t, HealthZoneWarning, m.metrics.Zone)

	// 4. CPU critical + memory critical. Penalty: 35 + 35 = 70 -> score 30.
	m.getMemStats = func(ctx context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{UsedPercent: 96.0}, nil
	}
	m.collect()
	assert.Equal(t, 30, m.metrics.Score)
	assert.Equal(t, HealthZoneCritical, m.metrics.Zone)

	// 5. Load warning only (9.0 / 4 = 2.25x >= 2x). Penalty: 50 * 0.15 = 7.5 -> score 93.
	m.getCPUPercent = func(ctx context.Context, window time.Duration) ([]float64, error) {
		return []float64{20.0}, nil
	}
	m.getMemStats = func(ctx context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{UsedPercent: 50.0}, nil
	}
	m.getLoadAvg = func(ctx context.Context) (*load.AvgStat, error) {
		return &load.AvgStat{Load1: 9.0}, nil
	}
	m.collect()
	assert.Equal(t, 93, m.metrics.Score)
	assert.Equal(t, HealthZoneSafe, m.metrics.Zone)
}

func TestMonitor_GracefulDegradation(t *testing.T) {
	m := newTestMonitor(DefaultConfig())

	// Set initial healthy state
	m.metrics.CPUPercent = 55.0
	m.metrics.CPULoadAvg = 1.0
	m.metrics.MemoryPercent = 40.0
	m.metrics.Score = 100

	// Mock failures
	m.getCPUPercent = func(ctx context.Context, window time.Duration) ([]float64, error) {
		return nil, errors.New("failed")
	}
	m.getLoadAvg = func(ctx context.Context) (*load.AvgStat, error) {
		return nil, errors.New("failed")
	}
	m.getMemStats = func(ctx context.Context) (*mem.VirtualMemoryStat, error) {
		return nil, errors.New("failed")
	}

	m.collect()

	// Should keep previous values
	assert.Equal(t, 55.0, m.metrics.CPUPercent)
	assert.Equal(t, 1.0, m.metrics.CPULoadAvg)
	assert.Equal(t, 40.0, m.metrics.MemoryPercent)
	assert.Equal(t, 1, m.consecFailures)

	m.collect()
	m.collect()
	assert.Equal(t, 3, m.consecFailures)
}

func TestMonitor_Staleness(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StalenessThreshold = 100 * time.Millisecond
	m := newTestMonitor(cfg)

	m.metrics.Timestamp = time.Now()
	assert.False(t, m.GetHealth().Stale)

	time.Sleep(150 * time.Millisecond)
	assert.True(t, m.GetHealth().Stale)
}

func TestMonitor_Lifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CollectionInterval = 10 * time.Millisecond
	cfg.CPUSampleWindow = time.Millisecond
	m := newTestMonitor(cfg)

	err := m.Start()
	require.NoError(t, err)
	assert.True(t, m.running)

	// Should be able to call Start again safely
	err = m.Start()
	require.NoError(t, err)

	err = m.Stop()
	require.NoError(t, err)
	assert.False(t, m.running)

	// Should be able to call Stop again safely
	err = m.Stop()
	require.NoError(t, err)
}

func TestHealthMetrics_Overloaded(t *testing.T) {
	tests := []struct {
		name    string
		metrics HealthMetrics
		want    bool
	}{
		{"both under limits", HealthMetrics{MemoryPercent: 80, CPUPercent: 85}, false},
		{"memory over limit", HealthMetrics{MemoryPercent: 86, CPUPercent: 50}, true},
		{"cpu over limit", HealthMetrics{MemoryPercent: 80, CPUPercent: 91}, true},
		{"exactly at limits", HealthMetrics{MemoryPercent: 85, CPUPercent: 90}, false},
		{"stale fails open", HealthMetrics{MemoryPercent: 99, CPUPercent: 99, Stale: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.metrics.Overloaded(85.0, 90.0))
		})
	}
}

func TestMonitorScalerLoop(t *testing.T) {
	m := newTestMonitor(DefaultConfig())
	m.collect()
	require.Equal(t, HealthZoneSafe, m.GetHealth().Zone)

	scaler := NewConcurrencyScaler(m, "training", true, 1, 8)
	assert.Equal(t, 8, scaler.GetConcurrency(0))

	// Saturate CPU and memory -> critical zone, scaler drops to min immediately.
	m.getCPUPercent = func(ctx context.Context, window time.Duration) ([]float64, error) {
		return []float64{95.0}, nil
	}
	m.getMemStats = func(ctx context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{UsedPercent: 97.0}, nil
	}
	m.collect()

	health := m.GetHealth()
	require.Equal(t, HealthZoneCritical, health.Zone)
	assert.True(t, health.Overloaded(85.0, 90.0))
	assert.Equal(t, 1, scaler.GetConcurrency(0))
}
