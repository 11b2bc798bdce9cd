// Package video implements the DMG picture processing unit: the
// HBlank/VBlank/OAM-scan/pixel-transfer mode state machine, background,
// window and sprite rendering into a 160x144 framebuffer.
package video

import (
	"github.com/kestrelcore/dmgcore/addr"
	"github.com/kestrelcore/dmgcore/bit"
)

// Mode is the PPU's current rendering stage, matching STAT bits 1-0.
type Mode int

const (
	HBlank Mode = 0
	VBlank Mode = 1
	OAMScan Mode = 2
	PixelTransfer Mode = 3
)

const (
	oamScanCycles  = 80
	hblankBaseCycles = 456 // oamScan + pixelTransfer + hblank: the length of every scanline
	scanlinesPerFrame = 154
	visibleLines      = 144
)

// Bus is the memory/interrupt surface the PPU reads registers and VRAM
// through and raises STAT/VBlank interrupts on.
type Bus interface {
	Read(address uint16) byte
	Write(address uint16, value byte)
	RequestInterrupt(kind addr.Interrupt)
}

// GPU is the DMG's picture processing unit.
type GPU struct {
	bus Bus

	framebuffer *FrameBuffer
	bgLine      [Width]byte // per-pixel BG/window color index, for sprite priority
	priority    spritePriority

	mode          Mode
	line          int
	cycles        int
	windowLine    int
	scanlineDrawn bool

	// spritesOnLine is counted during OAMScan and determines this
	// scanline's pixel-transfer duration: 172 + spritesOnLine*10. Real
	// hardware's timing also depends on scroll/window/sprite-X
	// alignment; that sub-cycle fidelity is out of scope here.
	spritesOnLine  int
	transferCycles int

	frameReady bool
}

// New returns a GPU in the power-up VBlank state (matching a freshly
// reset LY=144).
func New(bus Bus) *GPU {
	return &GPU{
		bus:         bus,
		framebuffer: NewFrameBuffer(),
		mode:        VBlank,
		line:        144,
	}
}

func (g *GPU) FrameBuffer() *FrameBuffer { return g.framebuffer }

// FrameReady reports and clears whether a full frame finished rendering
// since the last call.
func (g *GPU) FrameReady() bool {
	ready := g.frameReady
	g.frameReady = false
	return ready
}

// Tick advances the PPU by cycles master clocks, running the
// HBlank/OAMScan/PixelTransfer/VBlank state machine and rendering each
// scanline once, on entry to PixelTransfer.
func (g *GPU) Tick(cycles int) {
	if !g.lcdEnabled() {
		return
	}

	g.cycles += cycles

	switch g.mode {
	case OAMScan:
		if g.cycles < oamScanCycles {
			return
		}
		g.cycles -= oamScanCycles
		g.spritesOnLine = g.countSpritesOnLine()
		g.transferCycles = 172 + g.spritesOnLine*10
		g.scanlineDrawn = false
		g.setMode(PixelTransfer)
	case PixelTransfer:
		if !g.scanlineDrawn {
			g.drawScanline()
			g.scanlineDrawn = true
		}
		if g.cycles < g.transferCycles {
			return
		}
		g.cycles -= g.transferCycles
		g.setMode(HBlank)
		if g.statInterruptEnabled(3) {
			g.bus.RequestInterrupt(addr.LCDSTATInterrupt)
		}
	case HBlank:
		hblankCycles := hblankBaseCycles - oamScanCycles - g.transferCycles
		if g.cycles < hblankCycles {
			return
		}
		g.cycles -= hblankCycles
		g.setLY(g.line + 1)
		if g.line == visibleLines {
			g.setMode(VBlank)
			g.windowLine = 0
			g.bus.RequestInterrupt(addr.VBlankInterrupt)
			if g.statInterruptEnabled(4) {
				g.bus.RequestInterrupt(addr.LCDSTATInterrupt)
			}
			g.frameReady = true
		} else {
			g.setMode(OAMScan)
			if g.statInterruptEnabled(5) {
				g.bus.RequestInterrupt(addr.LCDSTATInterrupt)
			}
		}
	case VBlank:
		if g.cycles < hblankBaseCycles {
			return
		}
		g.cycles -= hblankBaseCycles
		if g.line == scanlinesPerFrame-1 {
			g.setLY(0)
			g.setMode(OAMScan)
			if g.statInterruptEnabled(5) {
				g.bus.RequestInterrupt(addr.LCDSTATInterrupt)
			}
		} else {
			g.setLY(g.line + 1)
		}
	}
}

func (g *GPU) lcdEnabled() bool { return bit.IsSet(7, g.bus.Read(addr.LCDC)) }

func (g *GPU) statInterruptEnabled(bitIndex uint8) bool {
	return bit.IsSet(bitIndex, g.bus.Read(addr.STAT))
}

func (g *GPU) setMode(mode Mode) {
	g.mode = mode
	stat := g.bus.Read(addr.STAT)
	stat = stat&0xFC | byte(mode)
	g.bus.Write(addr.STAT, stat)
}

func (g *GPU) setLY(line int) {
	g.line = line
	g.bus.Write(addr.LY, byte(line))

	ly := byte(line)
	lyc := g.bus.Read(addr.LYC)
	stat := g.bus.Read(addr.STAT)
	if ly == lyc {
		stat = bit.Set(2, stat)
		if bit.IsSet(6, stat) {
			g.bus.RequestInterrupt(addr.LCDSTATInterrupt)
		}
	} else {
		stat = bit.Reset(2, stat)
	}
	g.bus.Write(addr.STAT, stat)
}

// countSpritesOnLine replicates OAM-scan sprite selection (Y-only, up
// to 10 sprites) without drawing, purely to size this scanline's
// pixel-transfer duration.
func (g *GPU) countSpritesOnLine() int {
	height := 8
	if bit.IsSet(2, g.bus.Read(addr.LCDC)) {
		height = 16
	}
	count := 0
	for i := 0; i < 40; i++ {
		y := int(g.bus.Read(addr.OAMStart+uint16(i*4))) - 16
		if y <= g.line && g.line < y+height {
			count++
			if count == 10 {
				break
			}
		}
	}
	return count
}

// Snapshot/Restore support save states without exposing internal
// layout. Fields are fixed-width (int32 rather than the runtime int/Mode
// types GPU keeps internally) so encoding/binary can encode this struct
// directly; see memory.MBC3State.RTCSubSecondCycles for the same
// convention.
type State struct {
	Mode                          int32
	Line, Cycles, WindowLine      int32
	ScanlineDrawn                 bool
	SpritesOnLine, TransferCycles int32
	Framebuffer                   [Size]uint32
}

func (g *GPU) Snapshot() State {
	return State{
		Mode: int32(g.mode), Line: int32(g.line), Cycles: int32(g.cycles), WindowLine: int32(g.windowLine),
		ScanlineDrawn: g.scanlineDrawn, SpritesOnLine: int32(g.spritesOnLine),
		TransferCycles: int32(g.transferCycles), Framebuffer: g.framebuffer.buffer,
	}
}

func (g *GPU) Restore(s State) {
	g.mode, g.line, g.cycles, g.windowLine = Mode(s.Mode), int(s.Line), int(s.Cycles), int(s.WindowLine)
	g.scanlineDrawn, g.spritesOnLine, g.transferCycles = s.ScanlineDrawn, int(s.SpritesOnLine), int(s.TransferCycles)
	g.framebuffer.buffer = s.Framebuffer
}
