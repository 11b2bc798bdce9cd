// Command dmgcore runs the DMG core against a ROM file, either
// headless for a fixed number of frames or interactively in a
// tcell-based terminal view, grounded on the teacher's root main.go
// TerminalRenderer and cmd/jeebie/main.go flag set.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/urfave/cli"

	"github.com/kestrelcore/dmgcore/engine"
	"github.com/kestrelcore/dmgcore/memory"
	"github.com/kestrelcore/dmgcore/savestate"
)

// exitError carries a specific process exit code (spec.md §6: 0 clean,
// 1 file-open failure, 2 state-load version mismatch) through cli's
// Action error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fileError(err error) error  { return &exitError{code: 1, err: err} }
func stateError(err error) error { return &exitError{code: 2, err: err} }

func main() {
	app := cli.NewApp()
	app.Name = "dmgcore"
	app.Description = "A DMG-compatible 8-bit system core"
	app.Usage = "dmgcore [options] <ROM file>"
	app.Version = "1.0.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "rom", Usage: "Path to the ROM file"},
		cli.StringFlag{Name: "boot", Usage: "Path to a boot ROM image"},
		cli.StringFlag{Name: "save", Usage: "Path to the battery-RAM save file (defaults to the ROM path with .sav)"},
		cli.StringFlag{Name: "state", Usage: "Path to a state snapshot to load at startup"},
		cli.BoolFlag{Name: "headless", Usage: "Run without a terminal view"},
		cli.IntFlag{Name: "frames", Usage: "Number of frames to run in headless mode", Value: 0},
		cli.BoolFlag{Name: "tui", Usage: "Open the terminal debugger view"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		code := 1
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		slog.Error("dmgcore exiting", "error", err, "exit_code", code)
		os.Exit(code)
	}
}

func run(c *cli.Context) error {
	romPath := c.String("rom")
	if romPath == "" {
		if c.NArg() > 0 {
			romPath = c.Args().Get(0)
		} else {
			cli.ShowAppHelp(c)
			return fileError(errors.New("no ROM path provided"))
		}
	}

	e, err := engine.NewWithROM(romPath)
	if err != nil {
		return fileError(fmt.Errorf("loading ROM %q: %w", romPath, err))
	}

	if bootPath := c.String("boot"); bootPath != "" {
		data, err := os.ReadFile(bootPath)
		if err != nil {
			return fileError(fmt.Errorf("loading boot ROM %q: %w", bootPath, err))
		}
		if err := e.LoadBootROM(data); err != nil {
			return fileError(fmt.Errorf("installing boot ROM: %w", err))
		}
	}

	if savePath := c.String("save"); savePath != "" {
		e.SetBatteryPath(savePath)
		if err := memory.LoadBatteryRAM(e.MMU.Mapper(), savePath); err != nil {
			slog.Warn("could not load battery RAM", "path", savePath, "error", err)
		}
	}

	if statePath := c.String("state"); statePath != "" {
		f, err := os.Open(statePath)
		if err != nil {
			return fileError(fmt.Errorf("opening state %q: %w", statePath, err))
		}
		loadErr := e.LoadState(f)
		f.Close()
		if loadErr != nil {
			if errors.Is(loadErr, savestate.ErrVersionMismatch) {
				return stateError(fmt.Errorf("loading state %q: %w", statePath, loadErr))
			}
			return fileError(fmt.Errorf("loading state %q: %w", statePath, loadErr))
		}
	}

	if c.Bool("headless") {
		return runHeadless(e, c.Int("frames"))
	}
	return runTUI(e)
}

func runHeadless(e *engine.Engine, frames int) error {
	if frames <= 0 {
		return fileError(errors.New("headless mode requires --frames with a positive value"))
	}

	slog.Info("running headless", "frames", frames)
	for i := 0; i < frames; i++ {
		e.StepFrame()
		if err := e.FatalError(); err != nil {
			slog.Error("engine halted", "error", err, "frame", i+1)
			break
		}
		if (i+1)%60 == 0 {
			slog.Info("frame progress", "completed", i+1, "total", frames)
		}
	}

	if err := e.FlushBatteryRAM(); err != nil {
		slog.Warn("could not flush battery RAM", "error", err)
	}
	slog.Info("headless run complete", "frames", e.FrameCount(), "instructions", e.InstructionCount())
	return nil
}

const (
	scaleX    = 2 // terminal characters are taller than wide; double the x scale
	scaleY    = 1
	frameTime = time.Second / 60
)

var shadeChars = []rune{'█', '▓', '▒', '░'}

// terminalView renders the engine's framebuffer to a tcell screen each
// frame and forwards key presses to the joypad, adapted from the
// teacher's root-level TerminalRenderer.
type terminalView struct {
	screen  tcell.Screen
	engine  *engine.Engine
	running bool
}

func runTUI(e *engine.Engine) error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return fileError(fmt.Errorf("initializing terminal: %w", err))
	}
	if err := screen.Init(); err != nil {
		return fileError(fmt.Errorf("initializing terminal: %w", err))
	}

	v := &terminalView{screen: screen, engine: e, running: true}
	return v.run()
}

func (v *terminalView) run() error {
	defer v.screen.Fini()

	v.screen.SetStyle(tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorWhite))
	v.screen.Clear()

	go v.handleInput()

	ticker := time.NewTicker(frameTime)
	defer ticker.Stop()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	for v.running {
		select {
		case <-ticker.C:
			v.engine.StepFrame()
			if err := v.engine.FatalError(); err != nil {
				slog.Error("engine halted", "error", err)
			}
			v.render()
			v.screen.Show()
		case <-signals:
			v.running = false
			slog.Info("received signal to stop")
		}
	}

	return v.engine.FlushBatteryRAM()
}

func (v *terminalView) handleInput() {
	keymap := map[tcell.Key]memory.JoypadKey{
		tcell.KeyUp:    memory.JoypadUp,
		tcell.KeyDown:  memory.JoypadDown,
		tcell.KeyLeft:  memory.JoypadLeft,
		tcell.KeyRight: memory.JoypadRight,
		tcell.KeyEnter: memory.JoypadStart,
	}
	runeMap := map[rune]memory.JoypadKey{
		'z': memory.JoypadA,
		'x': memory.JoypadB,
		' ': memory.JoypadSelect,
	}

	for v.running {
		ev := v.screen.PollEvent()
		switch ev := ev.(type) {
		case *tcell.EventKey:
			if ev.Key() == tcell.KeyEscape {
				v.running = false
				return
			}
			if key, ok := keymap[ev.Key()]; ok {
				v.engine.HandlePress(key)
				continue
			}
			if key, ok := runeMap[ev.Rune()]; ok {
				v.engine.HandlePress(key)
			}
		case *tcell.EventResize:
			v.screen.Sync()
		}
	}
}

func (v *terminalView) render() {
	fb := v.engine.FrameBuffer()
	pixels := fb.Pixels()

	v.screen.Clear()
	const width, height = 160, 144

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			pixel := pixels[y*width+x]
			shade := 3 - (pixel>>24)/64
			if shade > 3 {
				shade = 3
			}

			style := tcell.StyleDefault.Foreground(tcell.ColorWhite)
			char := shadeChars[int(shade)]

			screenX := x * scaleX
			screenY := y * scaleY
			for sx := 0; sx < scaleX; sx++ {
				v.screen.SetContent(screenX+sx, screenY, char, nil, style)
			}
		}
	}
}
