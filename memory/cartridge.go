package memory

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/kestrelcore/dmgcore/addr"
)

// MapperType identifies which cartridge mapper chip governs bank
// switching for a loaded ROM.
type MapperType uint8

const (
	NoMBCType MapperType = iota
	MBC1Type
	MBC1MultiType
	MBC2Type
	MBC3Type
	MBC5Type
	MBCUnknownType
)

// ramBankCountByCode maps the 0x0149 header byte to a RAM bank count
// (each bank is 8 KiB, except MBC2's built-in 512x4-bit RAM which is
// handled separately). Code 0x01's nominal 2 KiB is rounded up to one
// 8 KiB bank.
var ramBankCountByCode = map[uint8]uint8{
	0x00: 0,
	0x01: 1,
	0x02: 1,
	0x03: 4,
	0x04: 16,
	0x05: 8,
}

// Cartridge is a parsed ROM image: the raw header-derived metadata plus
// the full ROM byte slice handed to the mapper.
type Cartridge struct {
	data []byte

	title        string
	mbcType      MapperType
	hasBattery   bool
	hasRTC       bool
	hasRumble    bool
	ramBankCount uint8
	romBankCount uint16
	headerChecksum uint8
}

// NewCartridge returns an empty, mapper-less cartridge useful for
// powering on the engine with no ROM inserted.
func NewCartridge() *Cartridge {
	return &Cartridge{
		data:    make([]byte, 0x8000),
		mbcType: NoMBCType,
	}
}

// NewCartridgeWithData parses a raw ROM image's header and returns the
// resulting Cartridge. The header is not validated beyond bounds
// checking; an unrecognized mapper type code yields MBCUnknownType.
func NewCartridgeWithData(data []byte) *Cartridge {
	cart := &Cartridge{
		data: make([]byte, len(data)),
	}
	copy(cart.data, data)

	if len(data) <= int(addr.HeaderChecksum) {
		cart.mbcType = NoMBCType
		return cart
	}

	titleBytes := data[addr.HeaderTitleStart : addr.HeaderTitleEnd+1]
	cart.title = cleanGameboyTitle(titleBytes)
	cart.headerChecksum = data[addr.HeaderChecksum]

	cartType := data[addr.HeaderCartType]
	cart.mbcType, cart.hasBattery, cart.hasRTC, cart.hasRumble = decodeCartridgeType(cartType)

	romCode := data[addr.HeaderROMSize]
	cart.romBankCount = 2 << romCode

	if cart.mbcType == MBC2Type {
		// MBC2 has 512x4-bit RAM built into the mapper chip; the header
		// RAM-size byte is conventionally 0 and ignored.
		cart.ramBankCount = 0
	} else {
		ramCode := data[addr.HeaderRAMSize]
		cart.ramBankCount = ramBankCountByCode[ramCode]
	}

	return cart
}

// decodeCartridgeType maps the 0x0147 header byte to a mapper type and
// its battery/RTC/rumble feature flags, per the documented DMG
// cartridge-type table.
func decodeCartridgeType(code uint8) (mbc MapperType, battery, rtc, rumble bool) {
	switch code {
	case 0x00:
		return NoMBCType, false, false, false
	case 0x08:
		return NoMBCType, false, false, false
	case 0x09:
		return NoMBCType, true, false, false
	case 0x01:
		return MBC1Type, false, false, false
	case 0x02:
		return MBC1Type, false, false, false
	case 0x03:
		return MBC1Type, true, false, false
	case 0x05:
		return MBC2Type, false, false, false
	case 0x06:
		return MBC2Type, true, false, false
	case 0x0F:
		return MBC3Type, true, true, false
	case 0x10:
		return MBC3Type, true, true, false
	case 0x11:
		return MBC3Type, false, false, false
	case 0x12:
		return MBC3Type, false, false, false
	case 0x13:
		return MBC3Type, true, false, false
	case 0x19:
		return MBC5Type, false, false, false
	case 0x1A:
		return MBC5Type, false, false, false
	case 0x1B:
		return MBC5Type, true, false, false
	case 0x1C:
		return MBC5Type, false, false, true
	case 0x1D:
		return MBC5Type, false, false, true
	case 0x1E:
		return MBC5Type, true, false, true
	default:
		return MBCUnknownType, false, false, false
	}
}

// Title returns the cleaned-up game title from the header.
func (c *Cartridge) Title() string { return c.title }

// HasBattery reports whether external/RTC RAM should be persisted.
func (c *Cartridge) HasBattery() bool { return c.hasBattery }

// RAMBankCount returns the number of 8 KiB external RAM banks declared
// by the header (0 for cartridges without external RAM, and for MBC2
// whose RAM is built into the mapper).
func (c *Cartridge) RAMBankCount() uint8 { return c.ramBankCount }

// LoadBatteryRAM reads a save-RAM file into mbc, if the mapper supports
// persistent RAM and the file exists and matches the expected size.
func LoadBatteryRAM(mbc MBC, path string) error {
	persist, ok := mbc.(BatteryBacked)
	if !ok {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("loading battery RAM: %w", err)
	}
	if len(data) != len(persist.BatteryRAM()) {
		return fmt.Errorf("battery RAM size mismatch: file has %d bytes, expected %d", len(data), len(persist.BatteryRAM()))
	}
	copy(persist.BatteryRAM(), data)
	return nil
}

// SaveBatteryRAM writes the mapper's persistent RAM to path, if any.
func SaveBatteryRAM(mbc MBC, path string) error {
	persist, ok := mbc.(BatteryBacked)
	if !ok {
		return nil
	}
	if err := os.WriteFile(path, persist.BatteryRAM(), 0o644); err != nil {
		return fmt.Errorf("saving battery RAM: %w", err)
	}
	return nil
}

// cleanGameboyTitle converts a raw header title field into a printable
// string: NUL bytes become spaces, non-printable bytes become '?', and
// an empty result is rendered as "(Untitled)".
func cleanGameboyTitle(titleBytes []byte) string {
	runes := make([]rune, 0, len(titleBytes))
	for _, b := range titleBytes {
		r := rune(b)
		switch {
		case r == 0:
			r = ' '
		case !unicode.IsPrint(r):
			r = '?'
		}
		runes = append(runes, r)
	}

	title := strings.TrimSpace(string(runes))
	if title == "" {
		return "(Untitled)"
	}
	return title
}
