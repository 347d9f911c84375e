package progress

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStat_String(t *testing.T) {
	tests := []struct {
		name string
		stat Stat
		want string
	}{
		{
			name: "bytes",
			stat: Stat{Files: 1, Dirs: 2, Bytes: 1, Errors: 0},
			want: "Stat(1 files, 2 dirs, 0 error, 1 B)",
		},
		{
			name: "kibibytes",
			stat: Stat{Files: 3, Bytes: 2048, Errors: 1},
			want: "Stat(3 files, 0 dirs, 1 error, 2.0 KiB)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.stat.String(); got != tt.want {
				t.Errorf("Stat.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEstimate(t *testing.T) {
	tests := []struct {
		name    string
		total   uint64
		copied  uint64
		elapsed time.Duration
		percent float64
		eta     time.Duration
	}{
		{"empty tree", 0, 0, 0, 100, 0},
		{"empty tree after time", 0, 0, time.Minute, 100, 0},
		{"nothing copied yet", 100, 0, time.Second, 0, 0},
		{"no elapsed time", 100, 50, 0, 50, 0},
		{"half way", 100, 50, 10 * time.Second, 50, 10 * time.Second},
		{"quarter", 400, 100, 2 * time.Second, 25, 6 * time.Second},
		{"done", 100, 100, time.Second, 100, 0},
		{"grew during run", 100, 150, time.Second, 100, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := Estimate(tc.total, tc.copied, tc.elapsed)
			assert.InDelta(t, tc.percent, e.Percent, 1e-9)
			assert.Equal(t, tc.eta, e.ETA)
			assert.Equal(t, tc.elapsed, e.Elapsed)
		})
	}
}

func TestEstimateNeverNaN(t *testing.T) {
	for _, total := range []uint64{0, 1, 7, 1 << 40, math.MaxUint64} {
		for _, copied := range []uint64{0, 1, 3, total / 2, total} {
			for _, elapsed := range []time.Duration{-time.Second, 0, 1, time.Millisecond, time.Hour} {
				e := Estimate(total, copied, elapsed)
				assert.False(t, math.IsNaN(e.Percent))
				assert.False(t, math.IsInf(e.Percent, 0))
				assert.GreaterOrEqual(t, e.Percent, 0.0)
				assert.LessOrEqual(t, e.Percent, 100.0)
				assert.GreaterOrEqual(t, int64(e.ETA), int64(0))
			}
		}
	}
}

func TestProgressReport(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	var (
		started uint64
		updates []Estimation
		done    Stat
	)
	p := NewProgress(60).WithClock(clock)
	p.OnStart = func(total uint64) { started = total }
	p.OnUpdate = func(s Stat, e Estimation) { updates = append(updates, e) }
	p.OnDone = func(s Stat, e Estimation) { done = s }

	p.Start()
	for _, size := range []uint64{10, 20, 30} {
		now = now.Add(time.Second)
		p.Report(Stat{Files: 1, Bytes: size})
	}
	p.Done()

	assert.Equal(t, uint64(60), started)
	require.Len(t, updates, 3)
	last := -1.0
	for _, e := range updates {
		assert.GreaterOrEqual(t, e.Percent, last)
		last = e.Percent
	}
	assert.Equal(t, 100.0, updates[2].Percent)
	assert.Equal(t, Stat{Files: 3, Bytes: 60}, done)

	stat, e := p.Current()
	assert.Equal(t, uint64(60), stat.Bytes)
	assert.Equal(t, 100.0, e.Percent)
}

func TestProgressReportPanicsWhenNotRunning(t *testing.T) {
	p := NewProgress(1)
	assert.Panics(t, func() { p.Report(Stat{Bytes: 1}) })

	var nilProgress *Progress
	assert.NotPanics(t, func() {
		nilProgress.Start()
		nilProgress.Report(Stat{})
		nilProgress.Done()
	})
}

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatETA(0))
	assert.Equal(t, "00:00:00", FormatETA(-time.Minute))
	assert.Equal(t, "00:01:05", FormatETA(65*time.Second))
	assert.Equal(t, "26:03:04", FormatETA(26*time.Hour+3*time.Minute+4*time.Second))
}
