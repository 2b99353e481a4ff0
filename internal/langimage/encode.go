package langimage

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// encodeESCP writes 24-dot column graphics: one ESC * line per 24-row band
func encodeESCP(bm *Bitmap, density DotDensity) []byte {
	var buf bytes.Buffer

	// 24/180 inch line spacing so bands touch
	buf.Write([]byte{0x1B, 0x33, 24})

	for band := 0; band < bm.Height; band += 24 {
		buf.Write([]byte{0x1B, '*', density.Mode(), byte(bm.Width & 0xFF), byte(bm.Width >> 8)})
		for x := 0; x < bm.Width; x++ {
			for slice := 0; slice < 3; slice++ {
				var b byte
				for bit := 0; bit < 8; bit++ {
					if bm.Black(x, band+slice*8+bit) {
						b |= 0x80 >> uint(bit)
					}
				}
				buf.WriteByte(b)
			}
		}
		buf.WriteByte('\n')
	}

	// back to default line spacing
	buf.Write([]byte{0x1B, 0x32})

	return buf.Bytes()
}

// encodeEPL writes a GW direct graphic. EPL prints cleared bits, so the
// bitmap is inverted.
func encodeEPL(bm *Bitmap, x, y int) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "GW%d,%d,%d,%d,", x, y, bm.BytesPerRow, bm.Height)
	for _, b := range bm.Bits {
		buf.WriteByte(^b)
	}
	buf.WriteByte('\n')

	return buf.Bytes()
}

// encodeZPL writes a ^GFA graphic field in ASCII hex
func encodeZPL(bm *Bitmap) []byte {
	total := len(bm.Bits)
	return []byte(fmt.Sprintf("^GFA,%d,%d,%d,%s", total, total, bm.BytesPerRow,
		strings.ToUpper(hex.EncodeToString(bm.Bits))))
}
