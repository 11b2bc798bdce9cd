package video

import (
	"github.com/kestrelcore/dmgcore/addr"
	"github.com/kestrelcore/dmgcore/bit"
)

// drawScanline renders the current line's background, window and
// sprite layers into the framebuffer, in that priority order.
func (g *GPU) drawScanline() {
	if !g.lcdEnabled() {
		for x := 0; x < Width; x++ {
			g.framebuffer.SetPixel(x, g.line, White)
		}
		return
	}

	g.drawBackground()
	g.drawWindow()
	g.drawSprites()
}

func (g *GPU) drawBackground() {
	lcdc := g.bus.Read(addr.LCDC)
	if !bit.IsSet(0, lcdc) {
		palette := g.bus.Read(addr.BGP)
		color := palette & 0x03
		for x := 0; x < Width; x++ {
			g.framebuffer.SetPixel(x, g.line, ShadeToColor(color))
			g.bgLine[x] = 0
		}
		return
	}

	tilesAddr, signed := g.bgWindowTileData(lcdc)
	tileMapAddr := addr.TileMap0
	if bit.IsSet(3, lcdc) {
		tileMapAddr = addr.TileMap1
	}

	scx := g.bus.Read(addr.SCX)
	scy := g.bus.Read(addr.SCY)
	y := (g.line + int(scy)) & 0xFF
	tileRow := (y / 8) * 32
	pixelY2 := (y % 8) * 2
	palette := g.bus.Read(addr.BGP)

	for x := 0; x < Width; x++ {
		mapX := (x + int(scx)) & 0xFF
		tileCol := mapX / 8
		tileX := mapX % 8

		tileID := g.bus.Read(tileMapAddr + uint16(tileRow+tileCol))
		tileAddr := tileDataAddr(tilesAddr, signed, tileID, pixelY2)

		low := g.bus.Read(tileAddr)
		high := g.bus.Read(tileAddr + 1)
		color := pixelColor(low, high, uint8(7-tileX))

		shade := (palette >> (color * 2)) & 0x03
		g.framebuffer.SetPixel(x, g.line, ShadeToColor(shade))
		g.bgLine[x] = color
	}
}

func (g *GPU) drawWindow() {
	lcdc := g.bus.Read(addr.LCDC)
	if !bit.IsSet(5, lcdc) || g.windowLine > 143 {
		return
	}

	rawWX := int(g.bus.Read(addr.WX))
	if rawWX > 166 {
		return
	}
	wx := rawWX - 7
	wy := int(g.bus.Read(addr.WY))
	if wy > g.line {
		return
	}

	tilesAddr, signed := g.bgWindowTileData(lcdc)
	tileMapAddr := addr.TileMap0
	if bit.IsSet(6, lcdc) {
		tileMapAddr = addr.TileMap1
	}

	tileRow := (g.windowLine / 8) * 32
	pixelY2 := (g.windowLine % 8) * 2
	palette := g.bus.Read(addr.BGP)

	for x := 0; x < Width; x++ {
		winX := x - wx
		if winX < 0 {
			continue
		}
		tileCol := winX / 8
		tileX := winX % 8

		tileID := g.bus.Read(tileMapAddr + uint16(tileRow+tileCol))
		tileAddr := tileDataAddr(tilesAddr, signed, tileID, pixelY2)

		low := g.bus.Read(tileAddr)
		high := g.bus.Read(tileAddr + 1)
		color := pixelColor(low, high, uint8(7-tileX))

		shade := (palette >> (color * 2)) & 0x03
		g.framebuffer.SetPixel(x, g.line, ShadeToColor(shade))
		g.bgLine[x] = color
	}
	g.windowLine++
}

func (g *GPU) drawSprites() {
	lcdc := g.bus.Read(addr.LCDC)
	if !bit.IsSet(1, lcdc) {
		return
	}

	height := 8
	if bit.IsSet(2, lcdc) {
		height = 16
	}

	var onLine []int
	for i := 0; i < 40; i++ {
		y := int(g.bus.Read(addr.OAMStart+uint16(i*4))) - 16
		if y <= g.line && g.line < y+height {
			onLine = append(onLine, i)
			if len(onLine) == 10 {
				break
			}
		}
	}

	g.priority.reset()
	for _, idx := range onLine {
		x := int(g.bus.Read(addr.OAMStart+uint16(idx*4)+1)) - 8
		for px := 0; px < 8; px++ {
			g.priority.claim(x+px, idx, x)
		}
	}

	for _, idx := range onLine {
		base := addr.OAMStart + uint16(idx*4)
		y := int(g.bus.Read(base)) - 16
		x := int(g.bus.Read(base+1)) - 8
		tile := g.bus.Read(base + 2)
		flags := g.bus.Read(base + 3)

		owned := false
		for px := 0; px < 8; px++ {
			if g.priority.ownerOf(x+px) == idx {
				owned = true
				break
			}
		}
		if !owned {
			continue
		}

		mask := byte(0xFF)
		if height == 16 {
			mask = 0xFE
		}
		paletteAddr := addr.OBP0
		if bit.IsSet(4, flags) {
			paletteAddr = addr.OBP1
		}
		flipX := bit.IsSet(5, flags)
		flipY := bit.IsSet(6, flags)
		aboveBG := !bit.IsSet(7, flags)

		row := g.line - y
		if flipY {
			row = height - 1 - row
		}
		tileOffset := uint16(0)
		if row >= 8 {
			row -= 8
			tileOffset = 16
		}

		tileAddr := addr.TileData0 + uint16(int(tile&mask)*16) + uint16(row*2) + tileOffset
		low := g.bus.Read(tileAddr)
		high := g.bus.Read(tileAddr + 1)

		for px := 0; px < 8; px++ {
			bx := x + px
			if bx < 0 || bx >= Width || g.priority.ownerOf(bx) != idx {
				continue
			}

			pixelIdx := uint8(7 - px)
			if flipX {
				pixelIdx = uint8(px)
			}
			color := pixelColor(low, high, pixelIdx)
			if color == 0 {
				continue
			}
			if !aboveBG && g.bgLine[bx] != 0 {
				continue
			}

			palette := g.bus.Read(paletteAddr)
			shade := (palette >> (color * 2)) & 0x03
			g.framebuffer.SetPixel(bx, g.line, ShadeToColor(shade))
		}
	}
}

// bgWindowTileData returns the tile-data base address and whether it
// uses the signed (0x9000-centered) addressing mode, per LCDC bit 4.
func (g *GPU) bgWindowTileData(lcdc byte) (uint16, bool) {
	if bit.IsSet(4, lcdc) {
		return addr.TileData0, false
	}
	return addr.TileData2, true
}

func tileDataAddr(base uint16, signed bool, tileID byte, pixelY2 int) uint16 {
	if signed {
		offset := int(int8(tileID)) * 16
		return uint16(int(base) + offset + pixelY2)
	}
	return base + uint16(int(tileID)*16) + uint16(pixelY2)
}

// pixelColor combines the low/high tile-data bit planes at bitIndex
// (7=leftmost) into a 0-3 color index.
func pixelColor(low, high byte, bitIndex uint8) byte {
	var color byte
	if bit.IsSet(bitIndex, low) {
		color |= 1
	}
	if bit.IsSet(bitIndex, high) {
		color |= 2
	}
	return color
}
