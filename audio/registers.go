package audio

import "github.com/kestrelcore/dmgcore/bit"

// ReadRegister returns the value of an NRxx register or wave RAM byte at
// its canonical offset within the audio I/O block (0x10-0x3F relative to
// NR10), applying the "unused bits read back as 1" masking documented
// for each register.
func (a *APU) ReadRegister(offset uint16) byte {
	switch offset {
	case 0x10:
		return a.NR10 | 0x80
	case 0x11:
		return a.NR11 | 0x3F
	case 0x12:
		return a.NR12
	case 0x13:
		return 0xFF
	case 0x14:
		return a.NR14 | 0xBF
	case 0x16:
		return a.NR21 | 0x3F
	case 0x17:
		return a.NR22
	case 0x18:
		return 0xFF
	case 0x19:
		return a.NR24 | 0xBF
	case 0x1A:
		return a.NR30 | 0x7F
	case 0x1B:
		return 0xFF
	case 0x1C:
		return a.NR32 | 0x9F
	case 0x1D:
		return 0xFF
	case 0x1E:
		return a.NR34 | 0xBF
	case 0x20:
		return 0xFF
	case 0x21:
		return a.NR42
	case 0x22:
		return a.NR43
	case 0x23:
		return a.NR44 | 0xBF
	case 0x24:
		return a.NR50
	case 0x25:
		return a.NR51
	case 0x26:
		return a.readNR52()
	default:
		if offset >= 0x30 && offset < 0x30+waveRAMSize {
			if a.ch[2].enabled {
				return a.waveRAM[a.ch[2].waveIndex/2]
			}
			return a.waveRAM[offset-0x30]
		}
		return 0xFF
	}
}

func (a *APU) readNR52() byte {
	var status byte
	for i := range a.ch {
		if a.ch[i].enabled {
			status |= 1 << uint(i)
		}
	}
	v := status & 0x0F
	if a.enabled {
		v |= 0x80
	}
	return v | 0x70
}

// WriteRegister writes an NRxx register or wave RAM byte and re-derives
// every channel's decoded generator state from the raw register shadow.
// Writes to any register but NR52 are ignored while the APU is powered
// off, except for length-timer registers (NR11/21/31/41), which the
// hardware still accepts.
func (a *APU) WriteRegister(offset uint16, value byte) {
	if !a.enabled && offset != 0x26 && !isLengthRegister(offset) {
		return
	}

	switch offset {
	case 0x10:
		a.NR10 = value & 0x7F
	case 0x11:
		a.NR11 = value
	case 0x12:
		a.NR12 = value
	case 0x13:
		a.NR13 = value
	case 0x14:
		a.NR14 = value
	case 0x16:
		a.NR21 = value
	case 0x17:
		a.NR22 = value
	case 0x18:
		a.NR23 = value
	case 0x19:
		a.NR24 = value
	case 0x1A:
		a.NR30 = value & 0x80
	case 0x1B:
		a.NR31 = value
	case 0x1C:
		a.NR32 = value & 0x60
	case 0x1D:
		a.NR33 = value
	case 0x1E:
		a.NR34 = value
	case 0x20:
		a.NR41 = value & 0x3F
	case 0x21:
		a.NR42 = value
	case 0x22:
		a.NR43 = value
	case 0x23:
		a.NR44 = value
	case 0x24:
		a.NR50 = value
	case 0x25:
		a.NR51 = value
	case 0x26:
		a.writeNR52(value)
	default:
		if offset >= 0x30 && offset < 0x30+waveRAMSize {
			if !a.ch[2].enabled {
				a.waveRAM[offset-0x30] = value
			}
		}
		return
	}

	a.mapRegistersToState(offset)
}

func isLengthRegister(offset uint16) bool {
	switch offset {
	case 0x11, 0x16, 0x1B, 0x20:
		return true
	default:
		return false
	}
}

func (a *APU) writeNR52(value byte) {
	a.enabled = bit.IsSet(7, value)
	if !a.enabled {
		a.NR10, a.NR11, a.NR12, a.NR13, a.NR14 = 0, 0, 0, 0, 0
		a.NR21, a.NR22, a.NR23, a.NR24 = 0, 0, 0, 0
		a.NR30, a.NR31, a.NR32, a.NR33, a.NR34 = 0, 0, 0, 0, 0
		a.NR41, a.NR42, a.NR43, a.NR44 = 0, 0, 0, 0
		a.NR50, a.NR51 = 0, 0
		for i := range a.ch {
			a.ch[i].enabled = false
		}
	}
}

// mapRegistersToState re-derives every channel's decoded fields (duty,
// period, envelope, sweep, panning, trigger) from the raw NRxx shadow.
// It runs after every register write so the generator loop never
// inspects raw register bits directly. offset is the register that was
// just written; only that channel's length counter is reloaded (a
// length counter otherwise only moves via the frame sequencer's 256 Hz
// tick in Tick, so an unrelated write like NR50/NR51 must not touch it).
func (a *APU) mapRegistersToState(offset uint16) {
	for i := range 4 {
		a.ch[i].right = bit.IsSet(uint8(i), a.NR51)
		a.ch[i].left = bit.IsSet(uint8(i+4), a.NR51)
	}
	a.vinLeft, a.vinRight = bit.IsSet(7, a.NR50), bit.IsSet(3, a.NR50)
	a.volLeft, a.volRight = bit.ExtractBits(a.NR50, 6, 4), bit.ExtractBits(a.NR50, 2, 0)

	a.mapSquareSweep(offset)
	a.mapSquare(offset)
	a.mapWave(offset)
	a.mapNoise(offset)

	for i := range a.ch {
		if !a.ch[i].dacEnabled {
			a.ch[i].enabled = false
		}
	}
}

// mapSquareSweep decodes channel 1 (square + sweep): NR10-NR14.
func (a *APU) mapSquareSweep(offset uint16) {
	c := &a.ch[0]

	prevSweepDown := c.sweepDown
	c.sweepPeriod = bit.ExtractBits(a.NR10, 6, 4)
	c.sweepDown = bit.IsSet(3, a.NR10)
	c.sweepStep = bit.ExtractBits(a.NR10, 2, 0)
	if !c.sweepDown && prevSweepDown && c.sweepNegUsed && (c.sweepPeriod > 0 || c.sweepStep > 0) {
		c.enabled = false
	}

	c.duty = bit.ExtractBits(a.NR11, 7, 6)
	c.timer = bit.ExtractBits(a.NR11, 5, 0)

	c.volume = bit.ExtractBits(a.NR12, 7, 4)
	c.envelopeUp = bit.IsSet(3, a.NR12)
	c.envelopePace = bit.ExtractBits(a.NR12, 2, 0)
	c.dacEnabled = c.volume > 0 || c.envelopeUp

	c.period = bit.Combine(a.NR14&0b111, a.NR13)

	prevLenEnable, lengthBefore := c.lengthEnable, c.length
	triggered := bit.IsSet(7, a.NR14)
	c.lengthEnable = bit.IsSet(6, a.NR14)
	c.trigger = triggered
	if c.trigger {
		if c.dacEnabled {
			c.enabled = true
		}
		c.envelopeLatched = false
		if c.envelopePace == 0 {
			c.envelopeCounter = 8
		} else {
			c.envelopeCounter = c.envelopePace
		}
		c.dutyStep = 0
		c.freqTimer = a.squarePeriodCycles(c)

		c.sweepEnabled = c.sweepPeriod > 0 || c.sweepStep > 0
		c.sweepTimer = c.sweepPeriod
		if c.sweepTimer == 0 {
			c.sweepTimer = 8
		}
		c.shadowFreq = c.period
		c.sweepNegUsed = false
		if c.sweepStep != 0 {
			if c.sweepDown {
				c.sweepNegUsed = true
			}
			if _, overflow := c.calculateSweepFrequency(); overflow {
				c.enabled = false
			}
		}

		a.NR14 = bit.Reset(7, a.NR14)
		c.trigger = false
	}
	if offset == 0x11 || offset == 0x14 {
		a.handleLengthEnableTransition(c, prevLenEnable, lengthBefore, triggered, 64)
	}
}

// mapSquare decodes channel 2 (square, no sweep): NR21-NR24.
func (a *APU) mapSquare(offset uint16) {
	c := &a.ch[1]

	c.duty = bit.ExtractBits(a.NR21, 7, 6)
	c.timer = bit.ExtractBits(a.NR21, 5, 0)

	c.volume = bit.ExtractBits(a.NR22, 7, 4)
	c.envelopeUp = bit.IsSet(3, a.NR22)
	c.envelopePace = bit.ExtractBits(a.NR22, 2, 0)
	c.dacEnabled = c.volume > 0 || c.envelopeUp

	c.period = bit.Combine(a.NR24&0b111, a.NR23)

	prevLenEnable, lengthBefore := c.lengthEnable, c.length
	triggered := bit.IsSet(7, a.NR24)
	c.lengthEnable = bit.IsSet(6, a.NR24)
	c.trigger = triggered
	if c.trigger {
		if c.dacEnabled {
			c.enabled = true
		}
		c.envelopeLatched = false
		if c.envelopePace == 0 {
			c.envelopeCounter = 8
		} else {
			c.envelopeCounter = c.envelopePace
		}
		c.dutyStep = 0
		c.freqTimer = a.squarePeriodCycles(c)
		a.NR24 = bit.Reset(7, a.NR24)
		c.trigger = false
	}
	if offset == 0x16 || offset == 0x19 {
		a.handleLengthEnableTransition(c, prevLenEnable, lengthBefore, triggered, 64)
	}
}

// mapWave decodes channel 3 (programmable wave): NR30-NR34.
func (a *APU) mapWave(offset uint16) {
	c := &a.ch[2]

	c.dacEnabled = bit.IsSet(7, a.NR30)
	c.timer = a.NR31
	c.volume = bit.ExtractBits(a.NR32, 6, 5)
	c.period = bit.Combine(a.NR34&0b111, a.NR33)

	prevLenEnable, lengthBefore := c.lengthEnable, c.length
	triggered := bit.IsSet(7, a.NR34)
	c.lengthEnable = bit.IsSet(6, a.NR34)
	c.trigger = triggered
	if c.trigger {
		if c.dacEnabled {
			c.enabled = true
		}
		c.freqTimer = a.wavePeriodCycles(c)
		c.waveIndex = 0
		c.waveSample = a.readWaveSample(0)
		a.NR34 = bit.Reset(7, a.NR34)
		c.trigger = false
	}
	if offset == 0x1B || offset == 0x1E {
		a.handleLengthEnableTransition(c, prevLenEnable, lengthBefore, triggered, 256)
	}
}

// mapNoise decodes channel 4 (noise): NR41-NR44.
func (a *APU) mapNoise(offset uint16) {
	c := &a.ch[3]

	c.timer = bit.ExtractBits(a.NR41, 5, 0)
	c.volume = bit.ExtractBits(a.NR42, 7, 4)
	c.envelopeUp = bit.IsSet(3, a.NR42)
	c.envelopePace = bit.ExtractBits(a.NR42, 2, 0)
	c.dacEnabled = c.volume > 0 || c.envelopeUp

	c.shift = bit.ExtractBits(a.NR43, 7, 4)
	c.use7bitLFSR = bit.IsSet(3, a.NR43)
	c.divider = bit.ExtractBits(a.NR43, 2, 0)

	prevLenEnable, lengthBefore := c.lengthEnable, c.length
	triggered := bit.IsSet(7, a.NR44)
	c.lengthEnable = bit.IsSet(6, a.NR44)
	c.trigger = triggered
	if c.trigger {
		if c.dacEnabled {
			c.enabled = true
		}
		c.envelopeLatched = false
		if c.envelopePace == 0 {
			c.envelopeCounter = 8
		} else {
			c.envelopeCounter = c.envelopePace
		}
		c.lfsr = 0x7FFF
		c.noiseTimer = a.noisePeriodCycles(c)
		a.NR44 = bit.Reset(7, a.NR44)
		c.trigger = false
	}
	if offset == 0x20 || offset == 0x23 {
		a.handleLengthEnableTransition(c, prevLenEnable, lengthBefore, triggered, 64)
	}
}

// handleLengthEnableTransition reloads the length counter from the
// channel's length register (max when a trigger finds the counter
// already at zero) and reproduces the obscure "extra length clock"
// quirk: enabling the length counter on a frame-sequencer step that
// does not itself clock length causes one extra decrement right away.
// If that decrement empties the counter, the channel is disabled unless
// a trigger is also happening, in which case it stays enabled with a
// length of zero.
func (a *APU) handleLengthEnableTransition(c *channel, wasEnabled bool, lengthBefore int, triggered bool, max int) {
	if c.timer == 0 {
		c.length = max
	} else {
		c.length = max - int(c.timer)
	}
	if triggered && lengthBefore <= 0 {
		c.length = max
	}

	lengthClockedThisStep := a.seqStep%2 == 1
	if !wasEnabled && c.lengthEnable && !lengthClockedThisStep && c.length > 0 {
		c.length--
		if c.length == 0 && !triggered {
			c.enabled = false
		}
	}
}
