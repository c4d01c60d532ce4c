package capture

import (
	"math"
	"math/bits"

	"github.com/soundspine/capturemix/internal/errors"
)

// TimelineFunction is a rational function mapping a reference timeline to a
// subject timeline:
//
//	subject = SubjectTime + (reference - ReferenceTime) * SubjectDelta / ReferenceDelta
//
// The zero value is the non-invertible sentinel used whenever stream
// continuity is broken (flush, startup, overflow).
type TimelineFunction struct {
	SubjectTime    int64
	ReferenceTime  int64
	SubjectDelta   uint32
	ReferenceDelta uint32
}

// Invertible reports whether the function maps in both directions.
func (tf TimelineFunction) Invertible() bool {
	return tf.SubjectDelta != 0 && tf.ReferenceDelta != 0
}

// Apply maps a reference value to the subject timeline. Arithmetic is
// overflow-checked; an overflow means the timeline bookkeeping can no
// longer be trusted.
func (tf TimelineFunction) Apply(reference int64) (int64, error) {
	if tf.ReferenceDelta == 0 {
		return 0, errors.Newf("timeline function is not valid").
			Component("capture").
			Category(errors.CategoryInternal).
			Build()
	}
	scaled, ok := scaleInt64(reference-tf.ReferenceTime, uint64(tf.SubjectDelta), uint64(tf.ReferenceDelta))
	if !ok {
		return 0, overflowErr("apply", reference)
	}
	result, ok := addInt64(tf.SubjectTime, scaled)
	if !ok {
		return 0, overflowErr("apply", reference)
	}
	return result, nil
}

// ApplyInverse maps a subject value back to the reference timeline.
func (tf TimelineFunction) ApplyInverse(subject int64) (int64, error) {
	if tf.SubjectDelta == 0 {
		return 0, errors.Newf("timeline function is not invertible").
			Component("capture").
			Category(errors.CategoryInternal).
			Build()
	}
	scaled, ok := scaleInt64(subject-tf.SubjectTime, uint64(tf.ReferenceDelta), uint64(tf.SubjectDelta))
	if !ok {
		return 0, overflowErr("apply_inverse", subject)
	}
	result, ok := addInt64(tf.ReferenceTime, scaled)
	if !ok {
		return 0, overflowErr("apply_inverse", subject)
	}
	return result, nil
}

func overflowErr(op string, value int64) error {
	return errors.Newf("timeline arithmetic overflow").
		Component("capture").
		Category(errors.CategoryOverflow).
		Context("operation", op).
		Context("value", value).
		Build()
}

// scaleInt64 computes value*num/den with a 128-bit intermediate, truncating
// toward zero. Reports false on int64 overflow.
func scaleInt64(value int64, num, den uint64) (int64, bool) {
	if value == 0 || num == 0 {
		return 0, true
	}
	neg := value < 0
	var magnitude uint64
	if neg {
		magnitude = uint64(-(value + 1)) + 1 // handles math.MinInt64
	} else {
		magnitude = uint64(value)
	}
	hi, lo := bits.Mul64(magnitude, num)
	if hi >= den {
		return 0, false
	}
	quotient, _ := bits.Div64(hi, lo, den)
	if neg {
		if quotient > uint64(math.MaxInt64)+1 {
			return 0, false
		}
		return -int64(quotient), true
	}
	if quotient > uint64(math.MaxInt64) {
		return 0, false
	}
	return int64(quotient), true
}

// addInt64 returns a+b, reporting false on overflow.
func addInt64(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

// reduceRatio reduces num/den by their greatest common divisor.
func reduceRatio(num, den uint64) (uint64, uint64) {
	if num == 0 || den == 0 {
		return num, den
	}
	g := gcd(num, den)
	return num / g, den / g
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
