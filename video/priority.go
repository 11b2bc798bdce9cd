package video

// spritePriority resolves, per pixel, which of the sprites selected for
// a scanline owns that pixel: lower X coordinate wins, and ties break
// toward the lower OAM index, matching DMG (non-CGB) sprite priority.
type spritePriority struct {
	owner  [Width]int
	ownerX [Width]int
}

func (s *spritePriority) reset() {
	for i := range s.owner {
		s.owner[i] = -1
		s.ownerX[i] = 0xFF
	}
}

func (s *spritePriority) claim(pixelX, spriteIndex, spriteX int) {
	if pixelX < 0 || pixelX >= Width {
		return
	}
	current := s.owner[pixelX]
	if current == -1 || spriteX < s.ownerX[pixelX] || (spriteX == s.ownerX[pixelX] && spriteIndex < current) {
		s.owner[pixelX] = spriteIndex
		s.ownerX[pixelX] = spriteX
	}
}

func (s *spritePriority) ownerOf(pixelX int) int {
	if pixelX < 0 || pixelX >= Width {
		return -1
	}
	return s.owner[pixelX]
}
