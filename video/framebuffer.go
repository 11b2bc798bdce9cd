package video

// Color is one of the four DMG shades, stored as a packed RGBA value.
type Color uint32

const (
	White     Color = 0xFFFFFFFF
	LightGrey Color = 0x989898FF
	DarkGrey  Color = 0x4C4C4CFF
	Black     Color = 0x000000FF
)

// ShadeToColor maps a 2-bit DMG palette index (0-3) to its display color.
func ShadeToColor(shade byte) Color {
	switch shade {
	case 0:
		return White
	case 1:
		return LightGrey
	case 2:
		return DarkGrey
	default:
		return Black
	}
}

const (
	Width  = 160
	Height = 144
	Size   = Width * Height
)

// FrameBuffer holds one rendered frame as packed RGBA pixels.
type FrameBuffer struct {
	buffer [Size]uint32
}

func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

func (fb *FrameBuffer) SetPixel(x, y int, c Color) {
	fb.buffer[y*Width+x] = uint32(c)
}

func (fb *FrameBuffer) GetPixel(x, y int) uint32 {
	return fb.buffer[y*Width+x]
}

// Pixels returns the full frame as packed RGBA values, row-major.
func (fb *FrameBuffer) Pixels() []uint32 {
	return fb.buffer[:]
}

func (fb *FrameBuffer) Clear() {
	for i := range fb.buffer {
		fb.buffer[i] = uint32(Black)
	}
}
