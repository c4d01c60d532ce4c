package capture

import (
	"math/bits"
	"time"

	"github.com/soundspine/capturemix/internal/errors"
)

// process is the body of the mix domain. Each wake it drives the capture
// machinery as far as it can: generating async slots, deciding whether the
// head buffer's next span of frames is safely behind the presentation
// fence, mixing that span, and committing fill progress. When the next
// span is not yet due it arms the domain timer and returns.
func (c *Capturer) process() {
	for {
		switch st := c.State(); st {
		case StateShutDown:
			// The mix domain is deactivated before the terminal state is
			// published, so a wake here means the shutdown ordering broke.
			panic("capture: mix context woken after shutdown")
		case StateStopping:
			c.finishAsyncStop()
			return
		case StateAwaitingBuffer, StateStoppingCallbackPending:
			// Nothing to produce until the session advances.
			return
		}

		c.qmu.Lock()
		if len(c.pending) == 0 {
			if c.State() == StateOperatingAsync {
				if !c.generateAsyncSlotLocked() {
					return
				}
				continue
			}
			c.qmu.Unlock()
			// Sync mode with nothing queued: drop the timeline anchor so
			// the next request starts a fresh discontinuous stream.
			c.invalidateTimeline("idle")
			c.mix.cancelTimer()
			return
		}
		head := c.pending[0]
		seq := head.Sequence
		offsetFrames := head.OffsetFrames
		filled := head.FilledFrames
		remaining := int64(head.NumFrames) - int64(filled)
		c.qmu.Unlock()

		if !c.framesToMono.Invertible() {
			c.framesToMono = c.format.FrameTimeline(c.frameCount, c.clock.Now())
			c.timelineGen++
		}

		mixFrames := remaining
		if mixFrames > c.maxFramesPerMix {
			mixFrames = c.maxFramesPerMix
		}
		lastFrameTime, err := c.framesToMono.Apply(c.frameCount + mixFrames)
		if err != nil {
			c.fatalFromMix(err)
			return
		}
		now := c.clock.Now()
		due := lastFrameTime + c.fenceDelay
		if due > now {
			c.mix.armTimer(time.Duration(due - now))
			return
		}

		started := time.Now()
		if !c.mixToScratch(mixFrames, now) {
			return
		}
		dest, err := c.payload.Slice(offsetFrames+filled, mixFrames)
		if err != nil {
			c.fatalFromMix(err)
			return
		}
		c.output(dest, c.scratch[:mixFrames*int64(c.format.Channels)])
		c.metrics.RecordMixDuration(time.Since(started))

		timestamp, err := c.framesToMono.Apply(c.frameCount)
		if err != nil {
			c.fatalFromMix(err)
			return
		}
		c.frameCount += mixFrames

		// Commit fill progress, revalidating the head: a flush may have
		// taken the buffer while we were mixing, in which case the frames
		// just produced are simply abandoned.
		c.qmu.Lock()
		if len(c.pending) == 0 || c.pending[0].Sequence != seq {
			c.qmu.Unlock()
			continue
		}
		p := c.pending[0]
		if p.FilledFrames == 0 {
			p.CaptureTimestamp = timestamp
			if c.discontinuity {
				p.Flags |= FlagDiscontinuous
				c.discontinuity = false
			}
		}
		p.FilledFrames += uint32(mixFrames)
		completed := p.FilledFrames == p.NumFrames
		firstFinished := false
		if completed {
			c.pending = c.pending[1:]
			firstFinished = len(c.finished) == 0
			c.finished = append(c.finished, p)
		}
		depth := len(c.pending)
		c.qmu.Unlock()

		c.metrics.SetPendingDepth(depth)
		if completed && firstFinished {
			c.ctl.post(c.deliverFinished)
		}
	}
}

// generateAsyncSlotLocked appends the next self-generated pending buffer.
// Called with qmu held; always unlocks it. Returns false on a fatal error.
func (c *Capturer) generateAsyncSlotLocked() bool {
	p, err := c.pool.Get()
	if err != nil {
		c.qmu.Unlock()
		c.fatalFromMix(err)
		return false
	}
	offset := c.asyncNextOffset
	frames := c.asyncFramesPerPacket
	// Ping-pong: wrap to the front when the next slot would not fit
	// contiguously.
	if uint64(offset)+uint64(frames) > uint64(c.payload.Frames()) {
		offset = 0
	}
	p.OffsetFrames = offset
	p.NumFrames = frames
	p.Sequence = c.nextSequence
	c.nextSequence++
	c.asyncNextOffset = offset + frames
	c.pending = append(c.pending, p)
	c.qmu.Unlock()
	return true
}

// invalidateTimeline breaks stream continuity: the destination timeline is
// forgotten and the next packet produced will carry the discontinuity flag.
func (c *Capturer) invalidateTimeline(reason string) {
	if c.framesToMono.Invertible() {
		c.framesToMono = TimelineFunction{}
		c.timelineGen++
		c.metrics.RecordDiscontinuity(reason)
	}
	c.discontinuity = true
}

// finishAsyncStop processes a pending async stop on the mix context:
// buffers with any content move to the finished queue, empty ones return to
// the pool, and delivery plus the stop callback run on the control context
// before the session re-enters synchronous mode.
func (c *Capturer) finishAsyncStop() {
	c.qmu.Lock()
	var discarded []*PendingCaptureBuffer
	for _, p := range c.pending {
		if p.FilledFrames > 0 {
			c.finished = append(c.finished, p)
		} else {
			discarded = append(discarded, p)
		}
	}
	c.pending = nil
	callback := c.stopCallback
	c.stopCallback = nil
	c.qmu.Unlock()

	for _, p := range discarded {
		c.pool.Put(p)
	}
	c.metrics.SetPendingDepth(0)
	c.mix.cancelTimer()
	c.invalidateTimeline("async_stop")

	c.setState(StateStoppingCallbackPending)
	c.ctl.post(func() {
		c.deliverFinished()
		c.client.OnEndOfStream()
		if callback != nil {
			callback()
		}
		// A shutdown may have raced the stop; the terminal state wins.
		if !c.shuttingDown.Load() {
			c.setState(StateOperatingSync)
		}
	})
	c.logger.Debug("async capture stopped")
}

// mixToScratch fills the first mixFrames frames of the scratch buffer from
// every audible linked source. Returns false after reporting a fatal error.
func (c *Capturer) mixToScratch(mixFrames int64, now int64) bool {
	scratch := c.scratch[:mixFrames*int64(c.format.Channels)]
	for i := range scratch {
		scratch[i] = 0
	}

	masterDb := c.gain.CombinedDb()
	if masterDb <= MutedGainDb {
		// Silence is still valid output; the zeroed scratch stands.
		return true
	}

	accumulate := false
	for _, link := range c.snapshotLinks() {
		if link.source.Type() != SourceTypeContinuous {
			continue
		}
		snap, ok := link.source.Ring()
		if !ok || !snap.MonoToFracFrames.Invertible() {
			continue
		}

		if stale := link.takeMixerStale(); link.mixer == nil || stale {
			srcFormat, known := link.source.Format()
			if !known {
				continue
			}
			mixer, err := c.selectMixer(srcFormat, c.format)
			if err != nil {
				c.fatalFromMix(errors.New(err).
					Component(ComponentCapture).
					Category(errors.CategoryInternal).
					Context("source_id", link.source.ID()).
					Build())
				return false
			}
			link.mixer = mixer
			link.bk = Bookkeeping{}
		}

		linkDb := link.gain.CombinedDb()
		if linkDb <= MutedGainDb {
			continue
		}
		totalDb := linkDb + masterDb
		if totalDb <= MutedGainDb {
			continue
		}
		link.bk.GainScale = DbToScale(totalDb)

		if link.bk.destGen != c.timelineGen || link.bk.sourceGen != snap.Generation {
			c.refreshLinkRate(link, snap)
		}

		if !c.mixLink(link, snap, scratch, mixFrames, now, accumulate) {
			return false
		}
		accumulate = true
	}
	return true
}

// refreshLinkRate recomputes the link's exact fractional source advance per
// destination frame by composing the destination frames-to-nanoseconds
// mapping with the source's nanoseconds-to-fractional-frames mapping.
func (c *Capturer) refreshLinkRate(link *SourceLink, snap RingSnapshot) {
	num := uint64(c.framesToMono.SubjectDelta) * uint64(snap.MonoToFracFrames.SubjectDelta)
	den := uint64(c.framesToMono.ReferenceDelta) * uint64(snap.MonoToFracFrames.ReferenceDelta)
	num, den = reduceRatio(num, den)
	link.bk.StepSize = Frac(num / den)
	link.bk.RateModulo = num % den
	link.bk.Denominator = den
	link.bk.PosModulo = 0
	link.bk.destGen = c.timelineGen
	link.bk.sourceGen = snap.Generation
}

// linkPos returns the exact fractional source advance after n destination
// frames, per the link's (step, modulo, denominator) triple.
func linkPos(bk *Bookkeeping, n int64) Frac {
	pos := Frac(int64(bk.StepSize) * n)
	if bk.RateModulo != 0 && bk.Denominator != 0 {
		quot, _ := mulDiv64(bk.RateModulo, uint64(n), bk.Denominator)
		pos += Frac(quot)
	}
	return pos
}

// posModuloAt returns the running remainder at destination frame n, the
// value the mixer continues from so sub-step error never accumulates.
func posModuloAt(bk *Bookkeeping, n int64) uint64 {
	if bk.RateModulo == 0 || bk.Denominator == 0 {
		return 0
	}
	_, rem := mulDiv64(bk.RateModulo, uint64(n), bk.Denominator)
	return rem
}

// mulDiv64 computes (a*b)/den and (a*b)%den with a 128-bit intermediate.
func mulDiv64(a, b, den uint64) (uint64, uint64) {
	hi, lo := bits.Mul64(a, b)
	return bits.Div64(hi, lo, den)
}

// mixLink mixes one source's contribution for the current job. The safely
// readable window of the ring is split into at most two contiguous regions
// at the ring-capacity boundary, each region is intersected with the job's
// fractional source interval, and the mixer consumes the overlap.
func (c *Capturer) mixLink(link *SourceLink, snap RingSnapshot, scratch []float32,
	mixFrames int64, now int64, accumulate bool) bool {

	// Latest source frame that is safely behind the fence.
	writeFrac, err := snap.MonoToFracFrames.Apply(now - c.fenceDelay)
	if err != nil {
		c.fatalFromMix(err)
		return false
	}
	writeFrame := Frac(writeFrac).Floor()
	earliest := writeFrame - snap.Frames
	if earliest < 0 {
		earliest = 0
	}
	if writeFrame <= earliest {
		return true
	}

	// The job's span expressed in fractional source frames.
	startMono, err := c.framesToMono.Apply(c.frameCount)
	if err != nil {
		c.fatalFromMix(err)
		return false
	}
	jobStartFrac, err := snap.MonoToFracFrames.Apply(startMono)
	if err != nil {
		c.fatalFromMix(err)
		return false
	}
	endMono, err := c.framesToMono.Apply(c.frameCount + mixFrames)
	if err != nil {
		c.fatalFromMix(err)
		return false
	}
	jobEndFrac, err := snap.MonoToFracFrames.Apply(endMono)
	if err != nil {
		c.fatalFromMix(err)
		return false
	}
	jobStart := Frac(jobStartFrac)
	jobEnd := Frac(jobEndFrac)
	if jobEnd <= jobStart {
		return true
	}

	// Split the readable window at the ring wrap point so each piece is
	// contiguous in memory.
	var regions [][2]int64
	boundary := (writeFrame / snap.Frames) * snap.Frames
	if boundary > earliest && boundary < writeFrame {
		regions = [][2]int64{{earliest, boundary}, {boundary, writeFrame}}
	} else {
		regions = [][2]int64{{earliest, writeFrame}}
	}

	for _, region := range regions {
		regionStart := FracFromFrames(region[0])
		regionEnd := FracFromFrames(region[1])
		interStart := jobStart
		if regionStart > interStart {
			interStart = regionStart
		}
		interEnd := jobEnd
		if regionEnd < interEnd {
			interEnd = regionEnd
		}
		if interEnd <= interStart {
			continue
		}

		// First destination frame whose source position lands inside the
		// intersection.
		destOffset := int64(0)
		if interStart > jobStart {
			destOffset = ceilDestFrames(&link.bk, interStart-jobStart)
		}
		if destOffset >= mixFrames {
			continue
		}
		sourcePos := jobStart + linkPos(&link.bk, destOffset)
		if sourcePos >= interEnd {
			continue
		}

		regionFrames := region[1] - region[0]
		ringOffset := region[0] % snap.Frames
		byteStart := ringOffset * int64(snap.BytesPerFrame)
		source := snap.Buffer[byteStart : byteStart+regionFrames*int64(snap.BytesPerFrame)]

		fracSourceOffset := sourcePos - regionStart
		link.bk.PosModulo = posModuloAt(&link.bk, destOffset)
		consumed := link.mixer.Mix(scratch, mixFrames, &destOffset,
			source, FracFromFrames(regionFrames), &fracSourceOffset,
			accumulate, &link.bk)

		// An interpolating sampler needs each frame's successor, so it
		// stops one fractional frame short of the wrap boundary and
		// reports the region as not fully consumed. Bridge those
		// destination frames from a two-frame copy spanning the seam;
		// the high region picks up again at the boundary itself.
		if !consumed && destOffset < mixFrames &&
			len(regions) == 2 && region[1] == boundary {
			c.mixWrapSeam(link, snap, scratch, mixFrames, jobStart, boundary,
				destOffset, regionStart+fracSourceOffset, accumulate)
		}
	}
	return true
}

// mixWrapSeam mixes the destination frames whose source position lies
// strictly inside the final fractional frame before the ring wrap. The
// frames on either side of the boundary are copied contiguously so the
// sampler can interpolate across the seam. Bookkeeping carries over from
// the low-region pass that stopped at destOffset.
func (c *Capturer) mixWrapSeam(link *SourceLink, snap RingSnapshot, scratch []float32,
	mixFrames int64, jobStart Frac, boundary, destOffset int64, sourcePos Frac,
	accumulate bool) {

	seamStart := FracFromFrames(boundary - 1)
	if sourcePos <= seamStart || sourcePos >= FracFromFrames(boundary) {
		return
	}
	destLimit := ceilDestFrames(&link.bk, FracFromFrames(boundary)-jobStart)
	if destLimit > mixFrames {
		destLimit = mixFrames
	}
	if destLimit <= destOffset {
		return
	}

	bpf := int64(snap.BytesPerFrame)
	if int64(cap(link.seam)) < 2*bpf {
		link.seam = make([]byte, 2*bpf)
	}
	seam := link.seam[:2*bpf]
	low := ((boundary - 1) % snap.Frames) * bpf
	high := (boundary % snap.Frames) * bpf
	copy(seam[:bpf], snap.Buffer[low:low+bpf])
	copy(seam[bpf:], snap.Buffer[high:high+bpf])

	fracSourceOffset := sourcePos - seamStart
	link.mixer.Mix(scratch, destLimit, &destOffset,
		seam, FracFromFrames(2), &fracSourceOffset,
		accumulate, &link.bk)
}

// ceilDestFrames returns the smallest destination frame count n whose
// fractional source advance reaches at least delta.
func ceilDestFrames(bk *Bookkeeping, delta Frac) int64 {
	if delta <= 0 {
		return 0
	}
	step := int64(bk.StepSize)
	if bk.RateModulo != 0 {
		// The modulo contributes strictly less than one fractional unit
		// per frame; treating it as part of the step gives a floor
		// estimate we then correct upward.
		step++
	}
	if step <= 0 {
		step = 1
	}
	n := int64(delta) / step
	for linkPos(bk, n) < delta {
		n++
	}
	for n > 0 && linkPos(bk, n-1) >= delta {
		n--
	}
	return n
}
