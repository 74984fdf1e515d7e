package encstream

import (
	"fmt"
	"math/big"
	"time"
)

// MediaTime is an exact instant expressed as ticks over a base
// (ticks per second). Values are kept reduced with a positive base, so two
// instants that are equal compare equal regardless of how they were built.
//
// Arithmetic never goes through floating point: encode sessions run for
// hours and float timestamps drift.
type MediaTime struct {
	ticks int64
	base  int64
}

// MediaDuration is the difference between two MediaTime values.
type MediaDuration struct {
	ticks int64
	base  int64
}

// NewMediaTime returns ticks/base seconds. base must be non-zero.
func NewMediaTime(ticks, base int64) MediaTime {
	t, b := reduce(ticks, base)
	return MediaTime{ticks: t, base: b}
}

// NewMediaDuration returns a duration of ticks/base seconds. base must be non-zero.
func NewMediaDuration(ticks, base int64) MediaDuration {
	t, b := reduce(ticks, base)
	return MediaDuration{ticks: t, base: b}
}

// Ticks returns the numerator in reduced form.
func (t MediaTime) Ticks() int64 { return t.ticks }

// Base returns the denominator in reduced form (1 for the zero value).
func (t MediaTime) Base() int64 { return baseOrOne(t.base) }

// Add returns t + d.
func (t MediaTime) Add(d MediaDuration) MediaTime {
	ticks, base := addRational(t.ticks, t.Base(), d.ticks, d.Base())
	return MediaTime{ticks: ticks, base: base}
}

// Sub returns the duration t - u.
func (t MediaTime) Sub(u MediaTime) MediaDuration {
	ticks, base := addRational(t.ticks, t.Base(), -u.ticks, u.Base())
	return MediaDuration{ticks: ticks, base: base}
}

// Cmp returns -1, 0 or +1 as t is before, equal to or after u.
func (t MediaTime) Cmp(u MediaTime) int {
	return cmpRational(t.ticks, t.Base(), u.ticks, u.Base())
}

func (t MediaTime) Before(u MediaTime) bool { return t.Cmp(u) < 0 }
func (t MediaTime) After(u MediaTime) bool  { return t.Cmp(u) > 0 }
func (t MediaTime) Equal(u MediaTime) bool  { return t.Cmp(u) == 0 }

// RoundToBase converts t to an integer tick count in target ticks per
// second, rounding to nearest with halves away from zero. The conversion
// is monotonic, so rounding two adjacent instants separately can never
// produce a negative interval.
func (t MediaTime) RoundToBase(target int64) int64 {
	return roundRational(t.ticks, t.Base(), target)
}

// Duration converts to a time.Duration, rounded to the nanosecond.
// Meant for logs, not arithmetic.
func (t MediaTime) Duration() time.Duration {
	return time.Duration(roundRational(t.ticks, t.Base(), int64(time.Second)))
}

func (t MediaTime) String() string {
	return fmt.Sprintf("%d/%d", t.ticks, t.Base())
}

// Ticks returns the numerator in reduced form.
func (d MediaDuration) Ticks() int64 { return d.ticks }

// Base returns the denominator in reduced form (1 for the zero value).
func (d MediaDuration) Base() int64 { return baseOrOne(d.base) }

// Add returns d + e.
func (d MediaDuration) Add(e MediaDuration) MediaDuration {
	ticks, base := addRational(d.ticks, d.Base(), e.ticks, e.Base())
	return MediaDuration{ticks: ticks, base: base}
}

// Sub returns d - e.
func (d MediaDuration) Sub(e MediaDuration) MediaDuration {
	ticks, base := addRational(d.ticks, d.Base(), -e.ticks, e.Base())
	return MediaDuration{ticks: ticks, base: base}
}

// Cmp returns -1, 0 or +1 as d is shorter than, equal to or longer than e.
func (d MediaDuration) Cmp(e MediaDuration) int {
	return cmpRational(d.ticks, d.Base(), e.ticks, e.Base())
}

// IsNegative reports whether d < 0.
func (d MediaDuration) IsNegative() bool { return d.ticks < 0 }

// RoundToBase converts d to ticks in target, with the same rounding as
// MediaTime.RoundToBase.
func (d MediaDuration) RoundToBase(target int64) int64 {
	return roundRational(d.ticks, d.Base(), target)
}

// Duration converts to a time.Duration for logging.
func (d MediaDuration) Duration() time.Duration {
	return time.Duration(roundRational(d.ticks, d.Base(), int64(time.Second)))
}

func (d MediaDuration) String() string {
	return fmt.Sprintf("%d/%d", d.ticks, d.Base())
}

func baseOrOne(b int64) int64 {
	if b == 0 {
		return 1
	}
	return b
}

func reduce(ticks, base int64) (int64, int64) {
	if base == 0 {
		panic("encstream: zero time base")
	}
	if base < 0 {
		ticks, base = -ticks, -base
	}
	if g := gcd(abs64(ticks), base); g > 1 {
		ticks /= g
		base /= g
	}
	return ticks, base
}

func addRational(at, ab, bt, bb int64) (int64, int64) {
	if ab == bb {
		if sum := at + bt; (sum > at) == (bt > 0) {
			return reduce(sum, ab)
		}
	}

	// mixed bases go through big.Int so intermediates cannot wrap
	var num, x, den, g big.Int
	num.Mul(big.NewInt(at), big.NewInt(bb))
	x.Mul(big.NewInt(bt), big.NewInt(ab))
	num.Add(&num, &x)
	den.Mul(big.NewInt(ab), big.NewInt(bb))
	g.GCD(nil, nil, x.Abs(&num), &den)
	num.Quo(&num, &g)
	den.Quo(&den, &g)
	if !num.IsInt64() || !den.IsInt64() {
		panic("encstream: time value overflows int64")
	}
	return num.Int64(), den.Int64()
}

func cmpRational(at, ab, bt, bb int64) int {
	if ab == bb {
		switch {
		case at < bt:
			return -1
		case at > bt:
			return 1
		default:
			return 0
		}
	}
	// cross products can exceed int64 for large bases
	var x, y big.Int
	x.Mul(big.NewInt(at), big.NewInt(bb))
	y.Mul(big.NewInt(bt), big.NewInt(ab))
	return x.Cmp(&y)
}

func roundRational(ticks, base, target int64) int64 {
	if target <= 0 {
		panic("encstream: non-positive target base")
	}
	if base == target {
		return ticks
	}

	var num, den, q, r big.Int
	num.Mul(big.NewInt(ticks), big.NewInt(target))
	den.SetInt64(base)
	q.QuoRem(&num, &den, &r)

	// |2r| >= base rounds away from zero
	r.Abs(&r)
	r.Lsh(&r, 1)
	if r.Cmp(&den) >= 0 {
		if num.Sign() < 0 {
			q.Sub(&q, big.NewInt(1))
		} else {
			q.Add(&q, big.NewInt(1))
		}
	}
	return q.Int64()
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
