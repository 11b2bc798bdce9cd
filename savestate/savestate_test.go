package savestate_test

import (
	"bytes"
	"testing"

	"github.com/kestrelcore/dmgcore/cpu"
	"github.com/kestrelcore/dmgcore/memory"
	"github.com/kestrelcore/dmgcore/savestate"
	"github.com/kestrelcore/dmgcore/video"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTripsNoMBC(t *testing.T) {
	mmu := memory.New()
	c := cpu.New(mmu)
	gpu := video.New(mmu)

	mmu.Write(0xC000, 0x42)
	mmu.Write(0xFF40, 0x91)
	c.Restore(cpu.State{A: 0x12, F: 0xB0, SP: 0xFFEE, PC: 0x0150, IME: true, Cycles: 123})

	var buf bytes.Buffer
	require.NoError(t, savestate.Save(&buf, c, mmu, gpu))

	mmu2 := memory.New()
	c2 := cpu.New(mmu2)
	gpu2 := video.New(mmu2)
	require.NoError(t, savestate.Load(&buf, c2, mmu2, gpu2))

	assert.Equal(t, uint8(0x42), mmu2.Read(0xC000))
	assert.Equal(t, c.Snapshot(), c2.Snapshot())
}

func TestLoadRejectsBadMagic(t *testing.T) {
	mmu := memory.New()
	c := cpu.New(mmu)
	gpu := video.New(mmu)

	err := savestate.Load(bytes.NewReader([]byte("not a save state at all")), c, mmu, gpu)
	assert.ErrorIs(t, err, savestate.ErrBadMagic)
}

func TestLoadRejectsVersionMismatch(t *testing.T) {
	mmu := memory.New()
	c := cpu.New(mmu)
	gpu := video.New(mmu)

	var buf bytes.Buffer
	require.NoError(t, savestate.Save(&buf, c, mmu, gpu))

	corrupted := buf.Bytes()
	corrupted[4] = 0xFF // version low byte

	err := savestate.Load(bytes.NewReader(corrupted), c, mmu, gpu)
	assert.ErrorIs(t, err, savestate.ErrVersionMismatch)
}

func TestSaveLoadRoundTripsMBC3WithRTC(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0x0147] = 0x10 // MBC3+TIMER+RAM+BATTERY
	rom[0x0149] = 0x02 // 1 RAM bank

	cart := memory.NewCartridgeWithData(rom)
	mmu, err := memory.NewWithCartridge(cart)
	require.NoError(t, err)
	c := cpu.New(mmu)
	gpu := video.New(mmu)

	mapper, ok := mmu.Mapper().(*memory.MBC3)
	require.True(t, ok)
	mapper.Write(0x0000, 0x0A) // enable RAM
	mapper.Write(0xA000, 0x55)

	var buf bytes.Buffer
	require.NoError(t, savestate.Save(&buf, c, mmu, gpu))

	mmu2, err := memory.NewWithCartridge(memory.NewCartridgeWithData(rom))
	require.NoError(t, err)
	c2 := cpu.New(mmu2)
	gpu2 := video.New(mmu2)
	require.NoError(t, savestate.Load(&buf, c2, mmu2, gpu2))

	mapper2, ok := mmu2.Mapper().(*memory.MBC3)
	require.True(t, ok)
	mapper2.Write(0x0000, 0x0A)
	assert.Equal(t, uint8(0x55), mapper2.Read(0xA000))
}

func TestSaveLoadRejectsMismatchedMapper(t *testing.T) {
	mmu := memory.New() // NoMBC
	c := cpu.New(mmu)
	gpu := video.New(mmu)

	var buf bytes.Buffer
	require.NoError(t, savestate.Save(&buf, c, mmu, gpu))

	rom := make([]byte, 0x8000)
	rom[0x0147] = 0x01 // MBC1
	mmu2, err := memory.NewWithCartridge(memory.NewCartridgeWithData(rom))
	require.NoError(t, err)
	c2 := cpu.New(mmu2)
	gpu2 := video.New(mmu2)

	err = savestate.Load(&buf, c2, mmu2, gpu2)
	assert.ErrorIs(t, err, savestate.ErrUnknownMapper)
}
