package memory

// MBC is the polymorphic contract every cartridge mapper implements:
// ROM reads/writes (writes are mapper commands, not storage) and
// external-RAM reads/writes.
type MBC interface {
	Read(address uint16) uint8
	Write(address uint16, value uint8)
}

// BatteryBacked is implemented by mappers whose external RAM should be
// persisted to a save file across runs.
type BatteryBacked interface {
	BatteryRAM() []byte
}

// NoMBC is cartridges with no banking hardware: ROM is a fixed 32 KiB
// window, and RAM, if present at all, is a single fixed 8 KiB bank.
type NoMBC struct {
	rom []uint8
	ram []uint8
}

// NewNoMBC returns a mapper for the given ROM image. ramBankCount of 0
// disables external RAM entirely.
func NewNoMBC(rom []uint8, ramBankCount uint8) *NoMBC {
	var ram []uint8
	if ramBankCount > 0 {
		ram = make([]uint8, 0x2000)
	}
	return &NoMBC{rom: rom, ram: ram}
}

func (m *NoMBC) Read(address uint16) uint8 {
	switch {
	case address <= 0x7FFF:
		if int(address) >= len(m.rom) {
			return 0xFF
		}
		return m.rom[address]
	case address >= 0xA000 && address <= 0xBFFF:
		if m.ram == nil {
			return 0xFF
		}
		return m.ram[address-0xA000]
	default:
		return 0xFF
	}
}

func (m *NoMBC) Write(address uint16, value uint8) {
	if address >= 0xA000 && address <= 0xBFFF && m.ram != nil {
		m.ram[address-0xA000] = value
	}
	// ROM region writes are silently dropped: there is no mapper to command.
}

func (m *NoMBC) BatteryRAM() []byte { return m.ram }

// NoMBCState is NoMBC's save-state payload: just its RAM, since it has
// no banking registers.
type NoMBCState struct{ RAM []byte }

func (m *NoMBC) Snapshot() NoMBCState { return NoMBCState{RAM: append([]byte(nil), m.ram...)} }
func (m *NoMBC) Restore(s NoMBCState) {
	if m.ram != nil {
		copy(m.ram, s.RAM)
	}
}

// MBC1 is the most common first-generation mapper: up to 2 MiB ROM (125
// switchable 16 KiB banks) and up to 32 KiB RAM (4 banks), with a mode
// flag that decides whether the upper bank-select bits widen the ROM
// bank or select the RAM bank.
type MBC1 struct {
	rom []uint8
	ram []uint8

	romBankLow  uint8 // lower 5 bits of the ROM bank select
	bankHi      uint8 // upper 2 bits, shared between ROM bank and RAM bank
	ramEnabled  bool
	bankingMode uint8 // 0 = ROM banking mode, 1 = RAM banking mode

	hasBattery bool
}

// NewMBC1 returns an MBC1 mapper for rom with ramBankCount 8 KiB RAM banks.
func NewMBC1(rom []uint8, hasBattery bool, ramBankCount uint8) *MBC1 {
	return &MBC1{
		rom:        rom,
		ram:        make([]uint8, uint32(ramBankCount)*0x2000),
		romBankLow: 1,
		hasBattery: hasBattery,
	}
}

func (m *MBC1) effectiveROMBank() uint32 {
	bank := uint32(m.romBankLow)
	if m.bankingMode == 0 {
		bank |= uint32(m.bankHi) << 5
	}
	return bank
}

func (m *MBC1) effectiveRAMBank() uint8 {
	if m.bankingMode == 1 {
		return m.bankHi & 0x03
	}
	return 0
}

func (m *MBC1) Read(address uint16) uint8 {
	switch {
	case address <= 0x3FFF:
		return m.romByte(0, address)
	case address <= 0x7FFF:
		return m.romByte(m.effectiveROMBank(), address-0x4000)
	case address >= 0xA000 && address <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return 0xFF
		}
		offset := uint32(m.effectiveRAMBank())*0x2000 + uint32(address-0xA000)
		return m.ram[offset%uint32(len(m.ram))]
	default:
		return 0xFF
	}
}

func (m *MBC1) romByte(bank uint32, offset uint16) uint8 {
	if len(m.rom) == 0 {
		return 0xFF
	}
	idx := (bank*0x4000 + uint32(offset)) % uint32(len(m.rom))
	return m.rom[idx]
}

func (m *MBC1) Write(address uint16, value uint8) {
	switch {
	case address <= 0x1FFF:
		m.ramEnabled = value&0x0F == 0x0A
	case address <= 0x3FFF:
		bank := value & 0x1F
		if bank == 0 {
			// Bank 0 is promoted to 1: the bank register can never
			// select bank 0 for the switchable window.
			bank = 1
		}
		m.romBankLow = bank
	case address <= 0x5FFF:
		m.bankHi = value & 0x03
	case address <= 0x7FFF:
		m.bankingMode = value & 0x01
	case address >= 0xA000 && address <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return
		}
		offset := uint32(m.effectiveRAMBank())*0x2000 + uint32(address-0xA000)
		m.ram[offset%uint32(len(m.ram))] = value
	}
}

func (m *MBC1) BatteryRAM() []byte {
	if !m.hasBattery {
		return nil
	}
	return m.ram
}

// MBC1State is MBC1's save-state payload: its banking registers plus RAM.
type MBC1State struct {
	RAM                               []byte
	RomBankLow, BankHi, BankingMode   uint8
	RamEnabled                        bool
}

func (m *MBC1) Snapshot() MBC1State {
	return MBC1State{
		RAM: append([]byte(nil), m.ram...), RomBankLow: m.romBankLow,
		BankHi: m.bankHi, BankingMode: m.bankingMode, RamEnabled: m.ramEnabled,
	}
}

func (m *MBC1) Restore(s MBC1State) {
	copy(m.ram, s.RAM)
	m.romBankLow, m.bankHi, m.bankingMode, m.ramEnabled = s.RomBankLow, s.BankHi, s.BankingMode, s.RamEnabled
}

// MBC2 has a 4-bit-wide 512-byte RAM built into the mapper chip itself
// (not "external" in the cartridge sense) and a single combined
// RAM-enable/ROM-bank-select command region distinguished by address
// bit 8.
type MBC2 struct {
	rom []uint8
	ram [512]uint8 // only the low nibble of each byte is meaningful

	romBank    uint8
	ramEnabled bool
	hasBattery bool
}

// NewMBC2 returns an MBC2 mapper for rom.
func NewMBC2(rom []uint8, hasBattery bool) *MBC2 {
	return &MBC2{rom: rom, romBank: 1, hasBattery: hasBattery}
}

func (m *MBC2) Read(address uint16) uint8 {
	switch {
	case address <= 0x3FFF:
		if len(m.rom) == 0 {
			return 0xFF
		}
		return m.rom[uint32(address)%uint32(len(m.rom))]
	case address <= 0x7FFF:
		if len(m.rom) == 0 {
			return 0xFF
		}
		idx := (uint32(m.romBank)*0x4000 + uint32(address-0x4000)) % uint32(len(m.rom))
		return m.rom[idx]
	case address >= 0xA000 && address <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		return m.ram[address&0x1FF] | 0xF0
	default:
		return 0xFF
	}
}

func (m *MBC2) Write(address uint16, value uint8) {
	switch {
	case address <= 0x3FFF:
		// Bit 8 of the address distinguishes RAM-enable from ROM-bank-select.
		if address&0x0100 == 0 {
			m.ramEnabled = value&0x0F == 0x0A
		} else {
			bank := value & 0x0F
			if bank == 0 {
				bank = 1
			}
			m.romBank = bank
		}
	case address >= 0xA000 && address <= 0xBFFF:
		if m.ramEnabled {
			m.ram[address&0x1FF] = value & 0x0F
		}
	}
}

func (m *MBC2) BatteryRAM() []byte {
	if !m.hasBattery {
		return nil
	}
	return m.ram[:]
}

// MBC2State is MBC2's save-state payload.
type MBC2State struct {
	RAM        [512]uint8
	RomBank    uint8
	RamEnabled bool
}

func (m *MBC2) Snapshot() MBC2State {
	return MBC2State{RAM: m.ram, RomBank: m.romBank, RamEnabled: m.ramEnabled}
}

func (m *MBC2) Restore(s MBC2State) {
	m.ram, m.romBank, m.ramEnabled = s.RAM, s.RomBank, s.RamEnabled
}

// mbc3RTC holds the MBC3 real-time-clock register bank: five live
// registers continuously updated, and their latched snapshot presented
// to reads while the cartridge holds a latch.
type mbc3RTC struct {
	live    [5]uint8 // seconds, minutes, hours, day-low, day-high(flags)
	latched [5]uint8
	latchSeq uint8 // tracks the 0-then-1 write sequence to 0x6000-0x7FFF
	subSecondCycles int
}

const mbc3CyclesPerSecond = 4194304

func (r *mbc3RTC) tick(cycles int) {
	if r.live[4]&0x40 != 0 {
		// halted
		return
	}
	r.subSecondCycles += cycles
	for r.subSecondCycles >= mbc3CyclesPerSecond {
		r.subSecondCycles -= mbc3CyclesPerSecond
		r.live[0]++
		if r.live[0] == 60 {
			r.live[0] = 0
			r.live[1]++
			if r.live[1] == 60 {
				r.live[1] = 0
				r.live[2]++
				if r.live[2] == 24 {
					r.live[2] = 0
					day := (uint16(r.live[4]&0x01) << 8) | uint16(r.live[3])
					day++
					if day > 0x1FF {
						day = 0
						r.live[4] |= 0x80 // day-counter carry
					}
					r.live[3] = uint8(day)
					r.live[4] = (r.live[4] &^ 0x01) | uint8((day>>8)&0x01)
				}
			}
		}
	}
}

func (r *mbc3RTC) latch(value uint8) {
	if r.latchSeq == 0 && value == 0x00 {
		r.latchSeq = 1
		return
	}
	if r.latchSeq == 1 && value == 0x01 {
		r.latched = r.live
	}
	r.latchSeq = 0
}

// MBC3 adds a 7-bit ROM bank, a 2-bit RAM bank (or RTC register
// select), and a real-time clock to the MBC1 shape.
type MBC3 struct {
	rom []uint8
	ram []uint8
	rtc *mbc3RTC

	romBank    uint8
	ramRTCSel  uint8 // 0x00-0x03 selects RAM bank, 0x08-0x0C selects an RTC register
	ramEnabled bool

	hasBattery bool
}

// NewMBC3 returns an MBC3 mapper. rtc is non-nil only for cartridges
// whose header declares RTC support.
func NewMBC3(rom []uint8, ramBankCount uint8, hasRTC bool, hasBattery bool) *MBC3 {
	m := &MBC3{
		rom:        rom,
		ram:        make([]uint8, uint32(ramBankCount)*0x2000),
		romBank:    1,
		hasBattery: hasBattery,
	}
	if hasRTC {
		m.rtc = &mbc3RTC{}
	}
	return m
}

// Tick advances the real-time clock, if the cartridge has one.
func (m *MBC3) Tick(cycles int) {
	if m.rtc != nil {
		m.rtc.tick(cycles)
	}
}

func (m *MBC3) Read(address uint16) uint8 {
	switch {
	case address <= 0x3FFF:
		if len(m.rom) == 0 {
			return 0xFF
		}
		return m.rom[uint32(address)%uint32(len(m.rom))]
	case address <= 0x7FFF:
		if len(m.rom) == 0 {
			return 0xFF
		}
		idx := (uint32(m.romBank)*0x4000 + uint32(address-0x4000)) % uint32(len(m.rom))
		return m.rom[idx]
	case address >= 0xA000 && address <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		if m.rtc != nil && m.ramRTCSel >= 0x08 && m.ramRTCSel <= 0x0C {
			return m.rtc.latched[m.ramRTCSel-0x08]
		}
		if len(m.ram) == 0 {
			return 0xFF
		}
		offset := uint32(m.ramRTCSel)*0x2000 + uint32(address-0xA000)
		return m.ram[offset%uint32(len(m.ram))]
	default:
		return 0xFF
	}
}

func (m *MBC3) Write(address uint16, value uint8) {
	switch {
	case address <= 0x1FFF:
		m.ramEnabled = value&0x0F == 0x0A
	case address <= 0x3FFF:
		bank := value & 0x7F
		if bank == 0 {
			bank = 1
		}
		m.romBank = bank
	case address <= 0x5FFF:
		m.ramRTCSel = value
	case address <= 0x7FFF:
		if m.rtc != nil {
			m.rtc.latch(value)
		}
	case address >= 0xA000 && address <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		if m.rtc != nil && m.ramRTCSel >= 0x08 && m.ramRTCSel <= 0x0C {
			m.rtc.live[m.ramRTCSel-0x08] = value
			return
		}
		if len(m.ram) == 0 {
			return
		}
		offset := uint32(m.ramRTCSel)*0x2000 + uint32(address-0xA000)
		m.ram[offset%uint32(len(m.ram))] = value
	}
}

func (m *MBC3) BatteryRAM() []byte {
	if !m.hasBattery {
		return nil
	}
	return m.ram
}

// MBC3State is MBC3's save-state payload, including the RTC register
// bank when the cartridge has one.
type MBC3State struct {
	RAM               []byte
	RomBank, RamRTCSel uint8
	RamEnabled        bool
	HasRTC            bool
	RTCLive, RTCLatched [5]uint8
	RTCLatchSeq       uint8
	RTCSubSecondCycles int32
}

func (m *MBC3) Snapshot() MBC3State {
	s := MBC3State{
		RAM: append([]byte(nil), m.ram...), RomBank: m.romBank,
		RamRTCSel: m.ramRTCSel, RamEnabled: m.ramEnabled,
	}
	if m.rtc != nil {
		s.HasRTC = true
		s.RTCLive, s.RTCLatched = m.rtc.live, m.rtc.latched
		s.RTCLatchSeq = m.rtc.latchSeq
		s.RTCSubSecondCycles = int32(m.rtc.subSecondCycles)
	}
	return s
}

func (m *MBC3) Restore(s MBC3State) {
	copy(m.ram, s.RAM)
	m.romBank, m.ramRTCSel, m.ramEnabled = s.RomBank, s.RamRTCSel, s.RamEnabled
	if m.rtc != nil && s.HasRTC {
		m.rtc.live, m.rtc.latched = s.RTCLive, s.RTCLatched
		m.rtc.latchSeq = s.RTCLatchSeq
		m.rtc.subSecondCycles = int(s.RTCSubSecondCycles)
	}
}

// MBC5 is the simplest late-generation mapper: a full 9-bit ROM bank
// (bank 0 is a legal switchable-window selection, unlike MBC1) and a
// 4-bit RAM bank, with no banking-mode quirks.
type MBC5 struct {
	rom []uint8
	ram []uint8

	romBank    uint16
	ramBank    uint8
	ramEnabled bool

	hasBattery bool
	hasRumble  bool
}

// NewMBC5 returns an MBC5 mapper.
func NewMBC5(rom []uint8, hasBattery, hasRumble bool, ramBankCount uint8) *MBC5 {
	return &MBC5{
		rom:        rom,
		ram:        make([]uint8, uint32(ramBankCount)*0x2000),
		romBank:    1,
		hasBattery: hasBattery,
		hasRumble:  hasRumble,
	}
}

func (m *MBC5) Read(address uint16) uint8 {
	switch {
	case address <= 0x3FFF:
		if len(m.rom) == 0 {
			return 0xFF
		}
		return m.rom[uint32(address)%uint32(len(m.rom))]
	case address <= 0x7FFF:
		if len(m.rom) == 0 {
			return 0xFF
		}
		idx := (uint32(m.romBank)*0x4000 + uint32(address-0x4000)) % uint32(len(m.rom))
		return m.rom[idx]
	case address >= 0xA000 && address <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return 0xFF
		}
		offset := uint32(m.ramBank)*0x2000 + uint32(address-0xA000)
		return m.ram[offset%uint32(len(m.ram))]
	default:
		return 0xFF
	}
}

func (m *MBC5) Write(address uint16, value uint8) {
	switch {
	case address <= 0x1FFF:
		m.ramEnabled = value&0x0F == 0x0A
	case address <= 0x2FFF:
		m.romBank = (m.romBank & 0x100) | uint16(value)
	case address <= 0x3FFF:
		m.romBank = (m.romBank & 0x0FF) | (uint16(value&0x01) << 8)
	case address <= 0x5FFF:
		// The rumble motor, where present, steals bit 3 of this field;
		// this core has no haptic host to drive, so the bit is masked
		// off and ignored rather than wired to anything.
		mask := uint8(0x0F)
		if m.hasRumble {
			mask = 0x07
		}
		m.ramBank = value & mask
	case address >= 0xA000 && address <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return
		}
		offset := uint32(m.ramBank)*0x2000 + uint32(address-0xA000)
		m.ram[offset%uint32(len(m.ram))] = value
	}
}

func (m *MBC5) BatteryRAM() []byte {
	if !m.hasBattery {
		return nil
	}
	return m.ram
}

// MBC5State is MBC5's save-state payload.
type MBC5State struct {
	RAM                    []byte
	RomBank                uint16
	RamBank                uint8
	RamEnabled             bool
}

func (m *MBC5) Snapshot() MBC5State {
	return MBC5State{
		RAM: append([]byte(nil), m.ram...), RomBank: m.romBank,
		RamBank: m.ramBank, RamEnabled: m.ramEnabled,
	}
}

func (m *MBC5) Restore(s MBC5State) {
	copy(m.ram, s.RAM)
	m.romBank, m.ramBank, m.ramEnabled = s.RomBank, s.RamBank, s.RamEnabled
}
