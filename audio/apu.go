// Package audio implements the DMG's four-channel sound generator: two
// square channels (one with frequency sweep), a programmable wave
// channel, and a noise channel, mixed down through NR50/NR51 into a
// stereo PCM stream at a host-selectable sample rate.
package audio

import (
	"github.com/kestrelcore/dmgcore/bit"
)

// Provider is the read-side and debug-control surface the engine and a
// front-end exposes audio through, independent of register plumbing.
type Provider interface {
	GetSamples(count int) []int16

	ToggleChannel(channel int)
	SoloChannel(channel int)
	GetChannelStatus() (ch1, ch2, ch3, ch4 bool)
	GetChannelVolumes() (ch1, ch2, ch3, ch4 uint8)
}

var _ Provider = (*APU)(nil)

// APU is the DMG audio processing unit: four sound channels, the 512 Hz
// frame sequencer driving their length/envelope/sweep units, and a
// nearest-sample mixer down to the host's output rate.
type APU struct {
	enabled bool
	ch      [4]channel

	vinLeft, vinRight bool
	volLeft, volRight uint8

	waveRAM [waveRAMSize]uint8

	// Frame sequencer
	seqStep   int
	seqCycles int

	// Mixing/resampling
	hostSampleRate     int
	pcmCyclesPerSample int
	pcmCycleAcc        int
	mixLeftAcc         int
	mixRightAcc        int
	mixAccumCycles     int
	pcmBuffer          []int16
	pcmCursor          int

	// Raw register shadow, needed so ReadRegister can report back
	// write-only bits and so WriteRegister can diff transitions.
	NR10, NR11, NR12, NR13, NR14 byte
	NR21, NR22, NR23, NR24       byte
	NR30, NR31, NR32, NR33, NR34 byte
	NR41, NR42, NR43, NR44       byte
	NR50, NR51, NR52             byte
}

// New returns a powered-off APU resampling to the standard 44.1kHz host
// rate.
func New() *APU {
	a := &APU{hostSampleRate: defaultHostSampleRate}
	a.pcmCyclesPerSample = CPUFrequency / a.hostSampleRate
	return a
}

// Tick advances every channel's generator and, every 8192 master clocks,
// steps the frame sequencer, then mixes and resamples the result.
func (a *APU) Tick(cycles int) {
	a.tickGenerators(cycles)

	a.seqCycles += cycles
	for a.seqCycles >= cyclesPerStep {
		a.seqCycles -= cyclesPerStep
		a.tickSequence()
	}

	a.flushMix(cycles)
}

// tickGenerators steps each channel's waveform generator and mixes its
// instantaneous output into the left/right accumulators according to
// NR51 panning and NR50 volume, ready for flushMix to resample.
func (a *APU) tickGenerators(cycles int) {
	levels := [4]int{
		a.stepSquare(&a.ch[0], cycles),
		a.stepSquare(&a.ch[1], cycles),
		a.stepWave(&a.ch[2], cycles),
		a.stepNoise(&a.ch[3], cycles),
	}

	var left, right int
	for i, level := range levels {
		if a.ch[i].left {
			left += level
		}
		if a.ch[i].right {
			right += level
		}
	}

	a.mixLeftAcc += left * cycles
	a.mixRightAcc += right * cycles
	a.mixAccumCycles += cycles
}

// flushMix advances the nearest-sample downsampling counter and, each
// time it crosses a host sample boundary, exports one averaged stereo
// sample scaled by the master volume.
func (a *APU) flushMix(cycles int) {
	a.pcmCycleAcc += cycles
	for a.pcmCycleAcc >= a.pcmCyclesPerSample {
		a.pcmCycleAcc -= a.pcmCyclesPerSample
		a.exportMixedSample()
	}
}

func (a *APU) exportMixedSample() {
	var avgLeft, avgRight int
	if a.mixAccumCycles > 0 {
		avgLeft = a.mixLeftAcc / a.mixAccumCycles
		avgRight = a.mixRightAcc / a.mixAccumCycles
	}
	a.mixLeftAcc, a.mixRightAcc, a.mixAccumCycles = 0, 0, 0

	left := scaleToPCM(avgLeft, a.volLeft)
	right := scaleToPCM(avgRight, a.volRight)
	a.pcmBuffer = append(a.pcmBuffer, left, right)
}

// scaleToPCM converts a summed channel level (roughly -60..60) into an
// int16 PCM sample gained by the NR50 0-7 master-volume field.
func scaleToPCM(level int, masterVol uint8) int16 {
	gain := int(masterVol) + 1
	sample := level * sampleScale * gain / 8
	switch {
	case sample > 32767:
		sample = 32767
	case sample < -32768:
		sample = -32768
	}
	return int16(sample)
}

// tickSequence advances one frame-sequencer step (0-7). Steps 0,2,4,6
// clock length counters; steps 2 and 6 also clock the sweep unit; step 7
// clocks the envelope units.
func (a *APU) tickSequence() {
	switch a.seqStep {
	case 0:
		a.tickLength()
	case 2:
		a.tickLength()
		a.tickSweep()
	case 4:
		a.tickLength()
	case 6:
		a.tickLength()
		a.tickSweep()
	case 7:
		a.tickEnvelope()
	}
	a.seqStep = (a.seqStep + 1) % 8
}

func (a *APU) tickLength() {
	for i := range a.ch {
		c := &a.ch[i]
		if !c.lengthEnable || c.length <= 0 {
			continue
		}
		c.length--
		if c.length == 0 {
			c.enabled = false
		}
	}
}

// tickSweep implements channel 1's frequency sweep: each active period,
// the shadow frequency is recalculated and, unless it overflows, written
// back into NR13/NR14 and the channel's period.
func (a *APU) tickSweep() {
	c := &a.ch[0]
	if !c.sweepEnabled {
		return
	}
	if c.sweepTimer > 0 {
		c.sweepTimer--
	}
	if c.sweepTimer != 0 {
		return
	}
	c.sweepTimer = c.sweepPeriod
	if c.sweepTimer == 0 {
		c.sweepTimer = 8
	}
	if c.sweepPeriod == 0 {
		return
	}

	if c.sweepDown {
		c.sweepNegUsed = true
	}
	next, overflow := c.calculateSweepFrequency()
	if overflow {
		c.enabled = false
		return
	}
	if c.sweepStep == 0 {
		return
	}

	c.shadowFreq = next
	c.period = next
	a.NR13 = bit.Low(next)
	a.NR14 = (a.NR14 &^ 0x07) | bit.ExtractBits(bit.High(next), 2, 0)

	// Overflow check runs twice per update per the documented quirk:
	// once to commit the frequency, once more to catch the *next* step.
	if _, overflow := c.calculateSweepFrequency(); overflow {
		c.enabled = false
	}
}

// tickEnvelope clocks the volume envelope for channels 0, 1 and 3 (the
// wave channel has no envelope).
func (a *APU) tickEnvelope() {
	for _, i := range [3]int{0, 1, 3} {
		c := &a.ch[i]
		if c.envelopePace == 0 || c.envelopeLatched {
			continue
		}
		if c.envelopeCounter > 0 {
			c.envelopeCounter--
		}
		if c.envelopeCounter != 0 {
			continue
		}
		c.envelopeCounter = c.envelopePace
		if c.envelopeUp && c.volume < 15 {
			c.volume++
		} else if !c.envelopeUp && c.volume > 0 {
			c.volume--
		} else {
			c.envelopeLatched = true
		}
	}
}

// GetSamples returns up to count*2 interleaved stereo int16 samples
// (left, right, left, right, ...) drained from the internal PCM buffer,
// zero-padded if fewer are available.
func (a *APU) GetSamples(count int) []int16 {
	if count <= 0 {
		return nil
	}

	needed := count * 2
	available := len(a.pcmBuffer) - a.pcmCursor
	if available <= 0 {
		return make([]int16, needed)
	}

	out := make([]int16, needed)
	toCopy := min(available, needed)
	copy(out, a.pcmBuffer[a.pcmCursor:a.pcmCursor+toCopy])
	a.pcmCursor += toCopy

	if a.pcmCursor >= len(a.pcmBuffer) {
		a.pcmBuffer = a.pcmBuffer[:0]
		a.pcmCursor = 0
	}

	return out
}

// ToggleChannel mutes/unmutes one of the four channels for debugging.
func (a *APU) ToggleChannel(idx int) {
	if idx < 0 || idx >= 4 {
		return
	}
	a.ch[idx].muted = !a.ch[idx].muted
}

// SoloChannel toggles on idx's own mute flag: when idx is muted, it
// unmutes idx and mutes every other channel; when idx is not muted
// (for example right after a solo), it unmutes every channel.
func (a *APU) SoloChannel(idx int) {
	if idx < 0 || idx >= 4 {
		return
	}
	if !a.ch[idx].muted {
		for i := range a.ch {
			a.ch[i].muted = false
		}
		return
	}
	for i := range a.ch {
		a.ch[i].muted = i != idx
	}
}

// GetChannelStatus reports whether each channel is currently producing
// sound (not whether it is muted/soloed for debugging).
func (a *APU) GetChannelStatus() (bool, bool, bool, bool) {
	return a.ch[0].enabled, a.ch[1].enabled, a.ch[2].enabled, a.ch[3].enabled
}

// GetChannelVolumes reports each channel's current envelope volume.
func (a *APU) GetChannelVolumes() (ch1, ch2, ch3, ch4 uint8) {
	return a.ch[0].volume, a.ch[1].volume, a.ch[2].volume, a.ch[3].volume
}

// Snapshot returns the APU's serializable register and generator state.
func (a *APU) Snapshot() APUState {
	s := APUState{
		Enabled: a.enabled,
		WaveRAM: a.waveRAM,
		SeqStep: int32(a.seqStep), SeqCycles: int32(a.seqCycles),
		NR10: a.NR10, NR11: a.NR11, NR12: a.NR12, NR13: a.NR13, NR14: a.NR14,
		NR21: a.NR21, NR22: a.NR22, NR23: a.NR23, NR24: a.NR24,
		NR30: a.NR30, NR31: a.NR31, NR32: a.NR32, NR33: a.NR33, NR34: a.NR34,
		NR41: a.NR41, NR42: a.NR42, NR43: a.NR43, NR44: a.NR44,
		NR50: a.NR50, NR51: a.NR51, NR52: a.NR52,
	}
	for i := range a.ch {
		s.Ch[i] = a.ch[i].snapshot()
	}
	return s
}

// Restore loads a previously captured APU state. The PCM output buffer
// is not part of the snapshot and starts empty.
func (a *APU) Restore(s APUState) {
	a.enabled = s.Enabled
	for i := range a.ch {
		a.ch[i].restore(s.Ch[i])
	}
	a.waveRAM = s.WaveRAM
	a.seqStep, a.seqCycles = int(s.SeqStep), int(s.SeqCycles)
	a.NR10, a.NR11, a.NR12, a.NR13, a.NR14 = s.NR10, s.NR11, s.NR12, s.NR13, s.NR14
	a.NR21, a.NR22, a.NR23, a.NR24 = s.NR21, s.NR22, s.NR23, s.NR24
	a.NR30, a.NR31, a.NR32, a.NR33, a.NR34 = s.NR30, s.NR31, s.NR32, s.NR33, s.NR34
	a.NR41, a.NR42, a.NR43, a.NR44 = s.NR41, s.NR42, s.NR43, s.NR44
	a.NR50, a.NR51, a.NR52 = s.NR50, s.NR51, s.NR52
	a.pcmBuffer = a.pcmBuffer[:0]
	a.pcmCursor = 0
}

// APUState is the plain-data form of the APU's state, suitable for the
// savestate package to encode directly.
type APUState struct {
	Enabled bool
	Ch      [4]ChannelState
	WaveRAM [waveRAMSize]uint8

	SeqStep, SeqCycles int32

	NR10, NR11, NR12, NR13, NR14 byte
	NR21, NR22, NR23, NR24       byte
	NR30, NR31, NR32, NR33, NR34 byte
	NR41, NR42, NR43, NR44       byte
	NR50, NR51, NR52             byte
}
