package drm

// Fourcc builds a DRM pixel format code.
func Fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

var (
	FormatXRGB8888 = Fourcc('X', 'R', '2', '4')
	FormatARGB8888 = Fourcc('A', 'R', '2', '4')
	FormatXBGR8888 = Fourcc('X', 'B', '2', '4')
	FormatRGB565   = Fourcc('R', 'G', '1', '6')
	FormatNV12     = Fourcc('N', 'V', '1', '2')
)

// Format modifiers.
const (
	ModifierLinear  uint64 = 0
	ModifierInvalid uint64 = 0x00ffffffffffffff
)

// FormatName renders a fourcc code as its four characters.
func FormatName(format uint32) string {
	b := []byte{byte(format), byte(format >> 8), byte(format >> 16), byte(format >> 24)}
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			b[i] = '?'
		}
	}
	return string(b)
}
