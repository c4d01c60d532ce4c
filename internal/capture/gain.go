package capture

import (
	"math"
	"sync"

	"github.com/soundspine/capturemix/internal/errors"
)

// Gain limits in decibels. At or below MutedGainDb a contribution is
// defined to be zero and the source is skipped entirely, so a silenced
// source adds nothing, not even rounding noise.
const (
	UnityGainDb = 0.0
	MutedGainDb = -160.0
	MaxGainDb   = 24.0
)

// DbToScale converts decibels to a linear amplitude scale. Values at or
// below the silence threshold map to exactly zero.
func DbToScale(db float64) float32 {
	if db <= MutedGainDb {
		return 0
	}
	return float32(math.Pow(10, db/20))
}

// ValidateGainDb checks a client-supplied gain value.
func ValidateGainDb(db float64) error {
	if math.IsNaN(db) || db < MutedGainDb || db > MaxGainDb {
		return errors.Newf("gain out of range: %.2f dB", db).
			Component("capture").
			Category(errors.CategoryValidation).
			Context("gain_db", db).
			Build()
	}
	return nil
}

// Gain holds a two-stage gain setting (source/device stage plus stream
// stage) and a mute flag. It is safe for concurrent use; the mix context
// reads it every pass.
type Gain struct {
	mu       sync.Mutex
	sourceDb float64
	streamDb float64
	muted    bool
}

// NewGain returns a Gain at unity on both stages.
func NewGain() *Gain {
	return &Gain{sourceDb: UnityGainDb, streamDb: UnityGainDb}
}

// SetSourceGainDb sets the source-stage gain.
func (g *Gain) SetSourceGainDb(db float64) error {
	if err := ValidateGainDb(db); err != nil {
		return err
	}
	g.mu.Lock()
	g.sourceDb = db
	g.mu.Unlock()
	return nil
}

// SetStreamGainDb sets the stream-stage gain.
func (g *Gain) SetStreamGainDb(db float64) error {
	if err := ValidateGainDb(db); err != nil {
		return err
	}
	g.mu.Lock()
	g.streamDb = db
	g.mu.Unlock()
	return nil
}

// SetMute sets the mute flag.
func (g *Gain) SetMute(muted bool) {
	g.mu.Lock()
	g.muted = muted
	g.mu.Unlock()
}

// CombinedDb returns the sum of both stages, or the silence threshold when
// muted. The sum is clamped to the silence threshold from below.
func (g *Gain) CombinedDb() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.muted {
		return MutedGainDb
	}
	combined := g.sourceDb + g.streamDb
	if combined < MutedGainDb {
		combined = MutedGainDb
	}
	return combined
}

// IsSilent reports whether this gain silences the signal entirely.
func (g *Gain) IsSilent() bool {
	return g.CombinedDb() <= MutedGainDb
}
