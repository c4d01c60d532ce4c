package capture

import "sync"

// SourceLink is the relationship between a capturer and one upstream
// source. It carries the link's mixer bookkeeping and the two-stage gain.
// The mixer is selected lazily once both the source and capturer formats
// are known, and is re-selected whenever the source reports a format
// change.
type SourceLink struct {
	source Source
	gain   *Gain

	// bk, mixer and seam are owned by the mix context once the link is
	// attached; needsMixer is the only cross-context member.
	bk    Bookkeeping
	mixer Mixer
	seam  []byte

	staleMu    sync.Mutex
	needsMixer bool
}

func newSourceLink(source Source) *SourceLink {
	l := &SourceLink{
		source:     source,
		gain:       NewGain(),
		needsMixer: true,
	}
	source.OnFormatChanged(l.invalidateMixer)
	return l
}

// Source returns the linked source.
func (l *SourceLink) Source() Source {
	return l.source
}

// Gain returns the link's two-stage gain control.
func (l *SourceLink) Gain() *Gain {
	return l.gain
}

// invalidateMixer marks the mixer for re-selection on the next mix pass.
// May be called from any goroutine.
func (l *SourceLink) invalidateMixer() {
	l.staleMu.Lock()
	l.needsMixer = true
	l.staleMu.Unlock()
}

// takeMixerStale consumes the re-selection request. Mix context only.
func (l *SourceLink) takeMixerStale() bool {
	l.staleMu.Lock()
	defer l.staleMu.Unlock()
	stale := l.needsMixer
	l.needsMixer = false
	return stale
}
