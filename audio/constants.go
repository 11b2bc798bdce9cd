package audio

// Timing constants.
// Reference: https://gbdev.io/pandocs/Audio_details.html
const (
	// CPUFrequency is the DMG master clock rate in Hz.
	CPUFrequency = 4194304

	// cyclesPerStep is the number of master clocks per frame-sequencer
	// tick: the sequencer runs at 512 Hz, 4194304/512 = 8192.
	cyclesPerStep = 8192

	// defaultHostSampleRate is used when the engine does not request a
	// specific output rate.
	defaultHostSampleRate = 44100
)

// waveRAMSize is the size of wave pattern RAM in bytes (16 bytes, 32 nibbles).
const waveRAMSize = 16

// noiseDividers maps NR43's 3-bit divider code to its divisor.
var noiseDividers = [8]int{8, 16, 32, 48, 64, 80, 96, 112}

// dutyPatterns holds the four square-wave duty cycles as 8-step bit
// patterns (0=low, 1=high), MSB-first per the Pan Docs duty tables.
var dutyPatterns = [4][8]int{
	{0, 0, 0, 0, 0, 0, 0, 1}, // 12.5%
	{1, 0, 0, 0, 0, 0, 0, 1}, // 25%
	{1, 0, 0, 0, 0, 1, 1, 1}, // 50%
	{0, 1, 1, 1, 1, 1, 1, 0}, // 75%
}

// sampleScale converts a 0-15 channel level sum into the int16 PCM range.
const sampleScale = 32767 / 15
