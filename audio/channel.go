package audio

// channel holds the generator and envelope/sweep/length state shared by
// modeling all four sound channels; not every field applies to every
// channel (e.g. sweep only applies to channel 1, wave fields only to
// channel 3).
type channel struct {
	enabled bool
	muted   bool
	left    bool
	right   bool

	dacEnabled bool

	// Square/wave/noise period & duty
	duty     uint8
	period   uint16
	dutyStep int
	freqTimer int

	// Length counter
	timer        uint8 // raw register value (64- or 256-based load)
	length       int
	lengthEnable bool
	trigger      bool

	// Envelope
	volume          uint8
	envelopeUp      bool
	envelopePace    uint8
	envelopeCounter uint8
	envelopeLatched bool

	// Sweep (channel 1 only)
	sweepPeriod  uint8
	sweepDown    bool
	sweepStep    uint8
	sweepEnabled bool
	sweepTimer   uint8
	shadowFreq   uint16
	sweepNegUsed bool

	// Wave channel (channel 3)
	waveIndex  int
	waveSample uint8

	// Noise channel (channel 4)
	noiseTimer  int
	lfsr        uint16
	use7bitLFSR bool
	shift       uint8
	divider     uint8
}

// ChannelState is the plain-data, fixed-width form of a channel's
// generator/envelope/sweep/length state, suitable for the savestate
// package to encode directly (channel itself carries plain int fields
// sized for arithmetic, not for encoding/binary).
type ChannelState struct {
	Enabled bool
	Muted   bool
	Left    bool
	Right   bool

	DACEnabled bool

	Duty      uint8
	Period    uint16
	DutyStep  int32
	FreqTimer int32

	Timer        uint8
	Length       int32
	LengthEnable bool
	Trigger      bool

	Volume          uint8
	EnvelopeUp      bool
	EnvelopePace    uint8
	EnvelopeCounter uint8
	EnvelopeLatched bool

	SweepPeriod  uint8
	SweepDown    bool
	SweepStep    uint8
	SweepEnabled bool
	SweepTimer   uint8
	ShadowFreq   uint16
	SweepNegUsed bool

	WaveIndex  int32
	WaveSample uint8

	NoiseTimer  int32
	LFSR        uint16
	Use7BitLFSR bool
	Shift       uint8
	Divider     uint8
}

func (c *channel) snapshot() ChannelState {
	return ChannelState{
		Enabled: c.enabled, Muted: c.muted, Left: c.left, Right: c.right,
		DACEnabled: c.dacEnabled,
		Duty:       c.duty, Period: c.period, DutyStep: int32(c.dutyStep), FreqTimer: int32(c.freqTimer),
		Timer: c.timer, Length: int32(c.length), LengthEnable: c.lengthEnable, Trigger: c.trigger,
		Volume: c.volume, EnvelopeUp: c.envelopeUp, EnvelopePace: c.envelopePace,
		EnvelopeCounter: c.envelopeCounter, EnvelopeLatched: c.envelopeLatched,
		SweepPeriod: c.sweepPeriod, SweepDown: c.sweepDown, SweepStep: c.sweepStep,
		SweepEnabled: c.sweepEnabled, SweepTimer: c.sweepTimer, ShadowFreq: c.shadowFreq,
		SweepNegUsed: c.sweepNegUsed,
		WaveIndex:    int32(c.waveIndex), WaveSample: c.waveSample,
		NoiseTimer: int32(c.noiseTimer), LFSR: c.lfsr, Use7BitLFSR: c.use7bitLFSR,
		Shift: c.shift, Divider: c.divider,
	}
}

func (c *channel) restore(s ChannelState) {
	c.enabled, c.muted, c.left, c.right = s.Enabled, s.Muted, s.Left, s.Right
	c.dacEnabled = s.DACEnabled
	c.duty, c.period, c.dutyStep, c.freqTimer = s.Duty, s.Period, int(s.DutyStep), int(s.FreqTimer)
	c.timer, c.length, c.lengthEnable, c.trigger = s.Timer, int(s.Length), s.LengthEnable, s.Trigger
	c.volume, c.envelopeUp, c.envelopePace = s.Volume, s.EnvelopeUp, s.EnvelopePace
	c.envelopeCounter, c.envelopeLatched = s.EnvelopeCounter, s.EnvelopeLatched
	c.sweepPeriod, c.sweepDown, c.sweepStep = s.SweepPeriod, s.SweepDown, s.SweepStep
	c.sweepEnabled, c.sweepTimer, c.shadowFreq = s.SweepEnabled, s.SweepTimer, s.ShadowFreq
	c.sweepNegUsed = s.SweepNegUsed
	c.waveIndex, c.waveSample = int(s.WaveIndex), s.WaveSample
	c.noiseTimer, c.lfsr, c.use7bitLFSR = int(s.NoiseTimer), s.LFSR, s.Use7BitLFSR
	c.shift, c.divider = s.Shift, s.Divider
}

// squarePeriodCycles returns the master-clock period of one duty step for
// a square channel: frequency = 131072/(2048-period) Hz, expressed here
// as the number of clocks per step (4 clocks per timer decrement).
func (a *APU) squarePeriodCycles(c *channel) int {
	return (2048 - int(c.period)) * 4
}

// wavePeriodCycles returns the per-sample period for the wave channel,
// twice as fast as the square channels.
func (a *APU) wavePeriodCycles(c *channel) int {
	return (2048 - int(c.period)) * 2
}

// noisePeriodCycles returns the LFSR-shift period for the noise channel.
func (a *APU) noisePeriodCycles(c *channel) int {
	return noiseDividers[c.divider] << c.shift
}

// calculateSweepFrequency computes the next channel-1 shadow frequency
// and reports whether it overflows past 2047 (which disables the channel).
func (c *channel) calculateSweepFrequency() (uint16, bool) {
	delta := c.shadowFreq >> c.sweepStep
	var next uint16
	if c.sweepDown {
		next = c.shadowFreq - delta
	} else {
		next = c.shadowFreq + delta
	}
	return next, next > 2047
}

// stepSquare advances a square channel's duty-step generator by the
// given number of master clocks and returns its current output level
// scaled by volume, or 0 if disabled/DAC-off/muted.
func (a *APU) stepSquare(c *channel, cycles int) int {
	period := a.squarePeriodCycles(c)
	c.freqTimer -= cycles
	for c.freqTimer <= 0 {
		c.freqTimer += period
		c.dutyStep = (c.dutyStep + 1) % 8
	}
	if !c.enabled || !c.dacEnabled || c.muted {
		return 0
	}
	if dutyPatterns[c.duty][c.dutyStep] == 0 {
		return -int(c.volume)
	}
	return int(c.volume)
}

// stepWave advances the wave channel's sample index and returns the
// current 4-bit sample shifted by the NR32 output-level field, centered
// around zero.
func (a *APU) stepWave(c *channel, cycles int) int {
	period := a.wavePeriodCycles(c)
	c.freqTimer -= cycles
	for c.freqTimer <= 0 {
		c.freqTimer += period
		c.waveIndex = (c.waveIndex + 1) % 32
		c.waveSample = a.readWaveSample(c.waveIndex)
	}
	if !c.enabled || !c.dacEnabled || c.muted {
		return 0
	}
	sample := int(c.waveSample)
	switch c.volume {
	case 0:
		sample = 0
	case 2:
		sample >>= 1
	case 3:
		sample >>= 2
	}
	return sample - 8
}

// readWaveSample returns the 4-bit nibble at the given sample index
// (0-31) out of the 16-byte wave RAM.
func (a *APU) readWaveSample(index int) uint8 {
	b := a.waveRAM[index/2]
	if index%2 == 0 {
		return b >> 4
	}
	return b & 0x0F
}

// stepNoise advances the noise channel's LFSR and returns its current
// output level scaled by volume.
func (a *APU) stepNoise(c *channel, cycles int) int {
	period := a.noisePeriodCycles(c)
	c.noiseTimer -= cycles
	for c.noiseTimer <= 0 {
		c.noiseTimer += period
		bit0 := c.lfsr & 1
		bit1 := (c.lfsr >> 1) & 1
		feedback := bit0 ^ bit1
		c.lfsr >>= 1
		c.lfsr |= feedback << 14
		if c.use7bitLFSR {
			c.lfsr &^= 1 << 6
			c.lfsr |= feedback << 6
		}
	}
	if !c.enabled || !c.dacEnabled || c.muted {
		return 0
	}
	if c.lfsr&1 == 0 {
		return int(c.volume)
	}
	return -int(c.volume)
}
