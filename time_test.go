package encstream

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMediaTime_Reduced(t *testing.T) {
	tests := []struct {
		ticks, base         int64
		wantTicks, wantBase int64
	}{
		{0, 1, 0, 1},
		{0, 48000, 0, 1},
		{1024, 48000, 8, 375},
		{10, -20, -1, 2},
		{-3, 9, -1, 3},
	}

	for _, tt := range tests {
		got := NewMediaTime(tt.ticks, tt.base)
		assert.Equal(t, tt.wantTicks, got.Ticks(), "ticks of %d/%d", tt.ticks, tt.base)
		assert.Equal(t, tt.wantBase, got.Base(), "base of %d/%d", tt.ticks, tt.base)
	}
}

func TestMediaTime_ZeroBasePanics(t *testing.T) {
	assert.Panics(t, func() { NewMediaTime(1, 0) })
	assert.Panics(t, func() { NewMediaDuration(1, 0) })
}

func TestMediaTime_ZeroValue(t *testing.T) {
	var zero MediaTime
	assert.True(t, zero.Equal(NewMediaTime(0, 90000)))
	assert.Equal(t, int64(1), zero.Base())
	assert.Equal(t, "0/1", zero.String())
}

func TestMediaTime_MixedBaseArithmetic(t *testing.T) {
	// 1/3 s + 1024/48000 s = 16000/48000 + 1024/48000
	got := NewMediaTime(1, 3).Add(NewMediaDuration(1024, 48000))
	assert.True(t, got.Equal(NewMediaTime(17024, 48000)), "got %s", got)

	d := NewMediaTime(1, 2).Sub(NewMediaTime(1, 3))
	assert.Equal(t, 0, d.Cmp(NewMediaDuration(1, 6)), "got %s", d)

	back := NewMediaTime(1, 3).Sub(NewMediaTime(1, 2))
	assert.True(t, back.IsNegative())

	sum := NewMediaDuration(1, 4).Add(NewMediaDuration(1, 4)).Sub(NewMediaDuration(1, 2))
	assert.Equal(t, int64(0), sum.Ticks())
}

func TestMediaTime_LargeMixedBases(t *testing.T) {
	// the unreduced sum over base 30 exceeds int64, the reduced one fits
	a := NewMediaTime(1844674407370955165, 6)
	b := NewMediaDuration(2305843009213693953, 10)
	got := a.Add(b)
	assert.True(t, got.Equal(NewMediaTime(8070450532247928842, 15)), "got %s", got)

	back := got.Sub(NewMediaTime(1844674407370955165, 6))
	assert.Equal(t, 0, back.Cmp(b), "got %s", back)

	// same base, sum past int64
	huge := NewMediaTime(math.MaxInt64-1, 7)
	assert.Panics(t, func() { huge.Add(NewMediaDuration(math.MaxInt64-1, 7)) })
}

func TestMediaTime_NoDriftOverLongRuns(t *testing.T) {
	// an hour of AAC granules at 44.1 kHz lands exactly where it should
	ts := NewMediaTime(0, 1)
	granule := NewMediaDuration(1024, 44100)
	const n = 3600 * 44100 / 1024
	for i := 0; i < n; i++ {
		ts = ts.Add(granule)
	}
	assert.True(t, ts.Equal(NewMediaTime(n*1024, 44100)))
}

func TestMediaTime_Cmp(t *testing.T) {
	tests := []struct {
		a, b MediaTime
		want int
	}{
		{NewMediaTime(1, 3), NewMediaTime(333, 1000), 1},
		{NewMediaTime(1, 3), NewMediaTime(2, 6), 0},
		{NewMediaTime(-1, 2), NewMediaTime(0, 1), -1},
		// cross products overflow int64
		{NewMediaTime(math.MaxInt64-1, math.MaxInt64), NewMediaTime(math.MaxInt64-2, math.MaxInt64-1), 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.a.Cmp(tt.b), "%s vs %s", tt.a, tt.b)
		assert.Equal(t, -tt.want, tt.b.Cmp(tt.a), "%s vs %s", tt.b, tt.a)
	}
	assert.True(t, NewMediaTime(1, 3).Before(NewMediaTime(1, 2)))
	assert.True(t, NewMediaTime(1, 2).After(NewMediaTime(1, 3)))
}

func TestMediaTime_RoundToBase(t *testing.T) {
	tests := []struct {
		name   string
		t      MediaTime
		target int64
		want   int64
	}{
		{"exact", NewMediaTime(3, 1), 1000, 3000},
		{"same base", NewMediaTime(7, 90000), 90000, 7},
		{"third down", NewMediaTime(1, 3), 1000, 333},
		{"two thirds up", NewMediaTime(2, 3), 1000, 667},
		{"half away from zero", NewMediaTime(1, 2), 1, 1},
		{"three halves", NewMediaTime(3, 2), 1, 2},
		{"negative half", NewMediaTime(-1, 2), 1, -1},
		{"negative third", NewMediaTime(-1, 3), 1000, -333},
		{"granule at 90k", NewMediaTime(1024, 48000), 90000, 1920},
		{"granule at 1k", NewMediaTime(1024, 44100), 1000, 23},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.t.RoundToBase(tt.target))
		})
	}
}

func TestMediaTime_RoundToBaseMonotonic(t *testing.T) {
	prev := int64(math.MinInt64)
	for i := int64(-2000); i <= 2000; i++ {
		got := NewMediaTime(i, 7).RoundToBase(3)
		if got < prev {
			t.Fatalf("round(%d/7) = %d < round(%d/7) = %d", i, got, i-1, prev)
		}
		prev = got
	}
}

func TestMediaTime_Duration(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, NewMediaTime(1, 2).Duration())
	assert.Equal(t, 21333333*time.Nanosecond, NewMediaDuration(1024, 48000).Duration())
}
