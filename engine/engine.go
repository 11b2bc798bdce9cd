// Package engine wires the CPU, memory map, PPU, timer and audio mixer
// into the single scheduler spec.md §4.8 calls for: it steps the CPU,
// forwards the clocks it reports to every time-driven subsystem, and
// exposes the run/pause/step/reset/save/load surface a host or
// debugger front-end drives the core through.
package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/kestrelcore/dmgcore/cpu"
	"github.com/kestrelcore/dmgcore/debug"
	"github.com/kestrelcore/dmgcore/memory"
	"github.com/kestrelcore/dmgcore/savestate"
	"github.com/kestrelcore/dmgcore/video"
)

// ClocksPerFrame is the fixed master-clock length of one frame: 154
// scanlines of 456 dots each (spec.md §8).
const ClocksPerFrame = 154 * 456

// Sentinel configuration errors, matching SPEC_FULL.md §2.1's
// errors.New + errors.Is convention. Save/Load state errors are the
// savestate package's own sentinels (savestate.ErrBadMagic and
// friends); SaveState/LoadState pass them through unwrapped so callers
// can errors.Is against them directly.
var (
	ErrROMTooSmall       = errors.New("engine: ROM image is too small to contain a header")
	ErrUnsupportedMapper = errors.New("engine: unsupported cartridge mapper")
)

// Engine is the root scheduler: it owns the CPU, memory map and PPU,
// and coordinates run/pause/step/save/load. All mutation happens on
// whichever goroutine calls Run/StepInstruction/StepFrame; the control
// fields below are the only state safe to touch from a different
// goroutine (a host UI thread), per spec.md §5.
type Engine struct {
	CPU *cpu.CPU
	MMU *memory.MMU
	GPU *video.GPU

	logger *slog.Logger

	batteryPath string

	paused atomic.Bool
	fatal  atomic.Pointer[error]

	instructionCount uint64
	frameCount       uint64
}

// New returns an Engine with no cartridge inserted, useful for tests
// that only need the memory map and CPU powered on.
func New() *Engine {
	return newFrom(memory.New())
}

// NewWithCartridge returns an Engine for an already-parsed cartridge.
// An unsupported mapper type is a configuration error (spec.md §7);
// the engine refuses to start.
func NewWithCartridge(cart *memory.Cartridge) (*Engine, error) {
	mmu, err := memory.NewWithCartridge(cart)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedMapper, err)
	}
	return newFrom(mmu), nil
}

// NewWithROM reads romPath, parses its header, and returns a running
// Engine. A load failure or unsupported mapper is a configuration
// error and the engine is not constructed.
func NewWithROM(romPath string) (*Engine, error) {
	data, err := os.ReadFile(romPath)
	if err != nil {
		return nil, fmt.Errorf("opening ROM %q: %w", romPath, err)
	}
	if len(data) <= 0x014D {
		return nil, fmt.Errorf("%w: %q is %d bytes", ErrROMTooSmall, romPath, len(data))
	}
	e, err := NewWithCartridge(memory.NewCartridgeWithData(data))
	if err != nil {
		return nil, err
	}
	e.batteryPath = defaultBatteryPath(romPath)
	if err := memory.LoadBatteryRAM(e.MMU.Mapper(), e.batteryPath); err != nil {
		e.logger.Warn("could not load battery RAM", "path", e.batteryPath, "error", err)
	}
	return e, nil
}

func newFrom(mmu *memory.MMU) *Engine {
	e := &Engine{
		MMU:    mmu,
		GPU:    video.New(mmu),
		logger: slog.Default(),
	}
	e.CPU = cpu.New(mmu)
	return e
}

// SetLogger overrides the default slog logger, matching the teacher's
// configurable slog.TextHandler wiring in cmd/jeebie/main.go.
func (e *Engine) SetLogger(logger *slog.Logger) { e.logger = logger }

// LoadBootROM installs a boot ROM and resets CPU registers to the
// all-zero pre-boot-ROM state the real boot sequence would start from,
// rather than the post-boot-ROM power-up values New uses.
func (e *Engine) LoadBootROM(data []byte) error {
	if err := e.MMU.LoadBootROM(data); err != nil {
		return err
	}
	e.CPU.Restore(cpu.State{PC: 0x0000, SP: 0x0000})
	return nil
}

// SetBatteryPath overrides where FlushBatteryRAM writes to and
// NewWithROM's automatic load reads from.
func (e *Engine) SetBatteryPath(path string) { e.batteryPath = path }

// FlushBatteryRAM saves the cartridge's external RAM to its battery
// path, if the mapper has one. Called by the host on shutdown
// (spec.md §3 Lifecycle) and safe to call even if no battery is
// present (a no-op).
func (e *Engine) FlushBatteryRAM() error {
	if e.batteryPath == "" {
		return nil
	}
	return memory.SaveBatteryRAM(e.MMU.Mapper(), e.batteryPath)
}

func defaultBatteryPath(romPath string) string {
	return trimExt(romPath) + ".sav"
}

func trimExt(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[:i]
		}
	}
	return path
}

// Pause requests the run loop stop at the next instruction boundary.
// Cooperative and safe to call from another goroutine.
func (e *Engine) Pause() { e.paused.Store(true) }

// Resume clears a pause request.
func (e *Engine) Resume() { e.paused.Store(false) }

// Paused reports whether the engine is currently paused (including the
// fatal-error paused state).
func (e *Engine) Paused() bool { return e.paused.Load() || e.FatalError() != nil }

// FatalError returns the error that halted the CPU, if any, per the
// "runtime fatal" taxonomy in spec.md §7: illegal opcode encountered,
// CPU halted, engine remains paused for debugger inspection.
func (e *Engine) FatalError() error {
	if p := e.fatal.Load(); p != nil {
		return *p
	}
	return nil
}

// StepInstruction executes exactly one CPU step (an instruction, an
// interrupt dispatch, or one tick of HALT/STOP/fatal-frozen idle) and
// forwards the clocks it consumed to the timer, PPU and audio mixer.
// Returns the number of master clocks consumed.
func (e *Engine) StepInstruction() int {
	clocks := e.CPU.Step()
	e.instructionCount++

	if err := e.CPU.FatalError(); err != nil && e.fatal.Load() == nil {
		e.fatal.Store(&err)
		e.logger.Error("CPU halted on fatal condition", "error", err, "pc", e.CPU.PC())
	}

	e.MMU.Tick(clocks)
	e.GPU.Tick(clocks)
	e.MMU.APU.Tick(clocks)

	return clocks
}

// StepFrame runs until the PPU reports a completed frame (VBlank
// entry) or the engine becomes paused/fatal, whichever comes first.
func (e *Engine) StepFrame() {
	for {
		if e.Paused() {
			return
		}
		e.StepInstruction()
		if e.GPU.FrameReady() {
			e.frameCount++
			return
		}
	}
}

// Run executes frames until Pause is called or a fatal condition is
// hit. It returns as soon as either becomes true, at an instruction
// boundary, matching the cooperative cancellation semantics of
// spec.md §5.
func (e *Engine) Run() {
	for !e.Paused() {
		e.StepFrame()
	}
}

// Reset powers the engine back on with the same cartridge inserted,
// clearing the fatal/paused state and all subsystem state. The MMU is
// rebuilt from the current cartridge, the battery path is preserved,
// and battery RAM is reloaded from that path.
func (e *Engine) Reset() error {
	cart := e.MMU.Cartridge()
	mmu, err := memory.NewWithCartridge(cart)
	if err != nil {
		return err
	}
	batteryPath := e.batteryPath
	*e = Engine{logger: e.logger, batteryPath: batteryPath}
	e.MMU = mmu
	e.GPU = video.New(mmu)
	e.CPU = cpu.New(mmu)
	return memory.LoadBatteryRAM(e.MMU.Mapper(), e.batteryPath)
}

// HandlePress/HandleRelease forward a host button event to the
// joypad matrix, and exit STOP on any press.
func (e *Engine) HandlePress(key memory.JoypadKey)   { e.MMU.HandlePress(key) }
func (e *Engine) HandleRelease(key memory.JoypadKey) { e.MMU.HandleRelease(key) }

// SaveState writes a complete snapshot of CPU, memory and PPU state to
// w. The running cartridge is not included; LoadState expects the same
// ROM to already be loaded.
func (e *Engine) SaveState(w io.Writer) error {
	return savestate.Save(w, e.CPU, e.MMU, e.GPU)
}

// LoadState restores a snapshot written by SaveState. On success it
// clears any fatal error; the paused flag is left as it was.
func (e *Engine) LoadState(r io.Reader) error {
	if err := savestate.Load(r, e.CPU, e.MMU, e.GPU); err != nil {
		return err
	}
	e.fatal.Store(nil)
	return nil
}

// DebugSnapshot returns a read-only, value-copied view of the engine's
// entire register and memory-mapped-register state, for a debugger
// front-end. Nothing in the returned Snapshot aliases engine-owned
// memory: slices and framebuffer contents are copied, not referenced.
func (e *Engine) DebugSnapshot() debug.Snapshot {
	cs := e.CPU.Snapshot()
	gs := e.GPU.Snapshot()

	return debug.Snapshot{
		CPU: debug.CPUState{
			A: cs.A, F: cs.F, B: cs.B, C: cs.C, D: cs.D, E: cs.E, H: cs.H, L: cs.L,
			SP: cs.SP, PC: cs.PC, IME: cs.IME,
			Halted: cs.Halted, Stopped: cs.Stopped, Cycles: cs.Cycles,
		},
		PPU:        debug.ReadPPUState(e.MMU, uint8(gs.Mode), int(gs.Line)),
		Timer:      debug.ReadTimerState(e.MMU),
		Interrupts: debug.ReadInterruptState(e.MMU),
		OAM:        debug.ExtractOAM(e.MMU, int(gs.Line), e.spriteHeight()),
		VRAM:       debug.ExtractVRAM(e.MMU),
		FatalError: e.FatalError(),
	}
}

// spriteHeight reads LCDC bit 2, the 8x8-vs-8x16 sprite size flag.
func (e *Engine) spriteHeight() int {
	if e.MMU.ReadBit(2, 0xFF40) {
		return 16
	}
	return 8
}

// FrameBuffer returns the PPU's most recently rendered frame.
func (e *Engine) FrameBuffer() *video.FrameBuffer { return e.GPU.FrameBuffer() }

// InstructionCount and FrameCount report run totals, for the headless
// driver's progress logging.
func (e *Engine) InstructionCount() uint64 { return e.instructionCount }
func (e *Engine) FrameCount() uint64       { return e.frameCount }
