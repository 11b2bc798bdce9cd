// Package debug builds the read-only, value-copied inspection views a
// debugger front-end drives the core through: CPU/PPU/timer register
// readout, the OAM sprite table and VRAM tile patterns, grounded on the
// teacher's jeebie/debug package (debug_data.go, oam.go, vram.go,
// memory_reader.go) and re-derived against this core's own tile/sprite
// encoding rather than its video package's internal types.
package debug

import "github.com/kestrelcore/dmgcore/bit"

// MemoryReader is the minimal read-only view a debug extractor needs;
// *memory.MMU satisfies it.
type MemoryReader interface {
	Read(address uint16) uint8
	ReadBit(index uint8, address uint16) bool
}

// CPUState is a value-copied snapshot of the CPU's registers and
// control flags.
type CPUState struct {
	A, F, B, C, D, E, H, L uint8
	SP, PC                 uint16
	IME                    bool
	Halted, Stopped        bool
	Cycles                 uint64
}

// PPUState is a value-copied snapshot of the PPU's scanline state and
// the LCD control/status registers.
type PPUState struct {
	Mode            uint8
	Line            int
	LCDC, STAT      uint8
	SCX, SCY        uint8
	WX, WY          uint8
	BGP, OBP0, OBP1 uint8
}

// TimerState is a value-copied snapshot of the DIV/TIMA/TMA/TAC
// registers.
type TimerState struct {
	DIV, TIMA, TMA, TAC uint8
}

// InterruptState is a value-copied snapshot of the IE/IF registers.
type InterruptState struct {
	IE, IF uint8
}

const (
	oamBase          = 0xFE00
	oamSpriteCount   = 40
	oamBytesPerEntry = 4
	spriteYOffset    = 16
	spriteXOffset    = 8

	vramTileBase     = 0x8000
	tileDataSize     = 16
	tilePatternCount = 384
	tilePixelSize    = 8

	regLCDC = 0xFF40
	regSTAT = 0xFF41
	regSCY  = 0xFF42
	regSCX  = 0xFF43
	regLY   = 0xFF44
	regBGP  = 0xFF47
	regOBP0 = 0xFF48
	regOBP1 = 0xFF49
	regWY   = 0xFF4A
	regWX   = 0xFF4B
	regDIV  = 0xFF04
	regTIMA = 0xFF05
	regTMA  = 0xFF06
	regTAC  = 0xFF07
	regIF   = 0xFF0F
	regIE   = 0xFFFF
)

// Sprite is one OAM entry, decoded from its raw four bytes.
type Sprite struct {
	Index              int
	Y, X               int
	TileIndex          uint8
	Flags              uint8
	BehindBackground   bool
	FlipY, FlipX       bool
	PaletteOBP1        bool
	VisibleOnLine      bool
}

// OAMSnapshot is every sprite's decoded attributes plus which ones are
// visible on the requested scanline, per the 10-sprites-per-line rule.
type OAMSnapshot struct {
	Line          int
	SpriteHeight  int
	Sprites       [oamSpriteCount]Sprite
	ActiveOnLine  int
}

// ExtractOAM decodes the OAM table (0xFE00-0xFE9F) and marks which
// sprites overlap line, by the same Y/X offset convention the PPU
// uses when compositing (video/render.go's drawSprites).
func ExtractOAM(mem MemoryReader, line, spriteHeight int) OAMSnapshot {
	snap := OAMSnapshot{Line: line, SpriteHeight: spriteHeight}
	for i := 0; i < oamSpriteCount; i++ {
		base := uint16(oamBase + i*oamBytesPerEntry)
		rawY := mem.Read(base)
		rawX := mem.Read(base + 1)
		tile := mem.Read(base + 2)
		flags := mem.Read(base + 3)

		y := int(rawY) - spriteYOffset
		x := int(rawX) - spriteXOffset
		visible := y <= line && y+spriteHeight > line && snap.ActiveOnLine < 10

		snap.Sprites[i] = Sprite{
			Index: i, Y: y, X: x, TileIndex: tile, Flags: flags,
			BehindBackground: bit.IsSet(7, flags),
			FlipY:            bit.IsSet(6, flags),
			FlipX:            bit.IsSet(5, flags),
			PaletteOBP1:      bit.IsSet(4, flags),
			VisibleOnLine:    visible,
		}
		if visible {
			snap.ActiveOnLine++
		}
	}
	return snap
}

// TilePattern is one 8x8 tile decoded to 2-bit palette indices (0-3,
// not yet mapped through a palette register).
type TilePattern struct {
	Index  int
	Pixels [tilePixelSize][tilePixelSize]uint8
}

// VRAMSnapshot is every tile in pattern table 0 (0x8000-0x97FF) plus
// which background/window layers are currently enabled.
type VRAMSnapshot struct {
	Tiles            [tilePatternCount]TilePattern
	BackgroundActive bool
	WindowActive     bool
	LCDC             uint8
}

// ExtractVRAM decodes all 384 8x8 tile patterns and the LCDC
// background/window enable bits.
func ExtractVRAM(mem MemoryReader) VRAMSnapshot {
	var snap VRAMSnapshot
	for i := 0; i < tilePatternCount; i++ {
		base := uint16(vramTileBase + i*tileDataSize)
		var tile TilePattern
		tile.Index = i
		for row := 0; row < tilePixelSize; row++ {
			low := mem.Read(base + uint16(row*2))
			high := mem.Read(base + uint16(row*2+1))
			for col := 0; col < tilePixelSize; col++ {
				bitIdx := uint8(7 - col)
				lo := boolToBit(bit.IsSet(bitIdx, low))
				hi := boolToBit(bit.IsSet(bitIdx, high))
				tile.Pixels[row][col] = hi<<1 | lo
			}
		}
		snap.Tiles[i] = tile
	}

	lcdc := mem.Read(regLCDC)
	snap.LCDC = lcdc
	snap.BackgroundActive = bit.IsSet(0, lcdc)
	snap.WindowActive = bit.IsSet(5, lcdc)
	return snap
}

func boolToBit(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// ReadPPUState reads the LCD control/status/position/palette registers
// directly, for callers that already have a PPUState.Mode/Line pair
// from the GPU itself (the PPU's scanline/mode fields aren't readable
// through the bus).
func ReadPPUState(mem MemoryReader, mode uint8, line int) PPUState {
	return PPUState{
		Mode: mode, Line: line,
		LCDC: mem.Read(regLCDC), STAT: mem.Read(regSTAT),
		SCX: mem.Read(regSCX), SCY: mem.Read(regSCY),
		WX: mem.Read(regWX), WY: mem.Read(regWY),
		BGP: mem.Read(regBGP), OBP0: mem.Read(regOBP0), OBP1: mem.Read(regOBP1),
	}
}

// ReadTimerState reads the timer register file off the bus.
func ReadTimerState(mem MemoryReader) TimerState {
	return TimerState{
		DIV: mem.Read(regDIV), TIMA: mem.Read(regTIMA),
		TMA: mem.Read(regTMA), TAC: mem.Read(regTAC),
	}
}

// ReadInterruptState reads the IE/IF register pair off the bus.
func ReadInterruptState(mem MemoryReader) InterruptState {
	return InterruptState{IE: mem.Read(regIE), IF: mem.Read(regIF)}
}

// Snapshot is the complete read-only debugger view: CPU, PPU, timer and
// interrupt registers, the OAM table and VRAM tile patterns, and the
// engine's last fatal error, if any. Every field is a value copy; a
// Snapshot never aliases engine-owned memory.
type Snapshot struct {
	CPU        CPUState
	PPU        PPUState
	Timer      TimerState
	Interrupts InterruptState
	OAM        OAMSnapshot
	VRAM       VRAMSnapshot
	FatalError error
}
