package render

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/disintegration/imaging"
)

// bytes of image data per hex line
const psLineBytes = 36

// WritePostScript encodes pages as a DSC-conforming PostScript document.
// Every page is an 8-bit grayscale image scaled to the page size.
func WritePostScript(w io.Writer, pages []Page, title string) error {
	if len(pages) == 0 {
		return ErrNothingToRender
	}

	var maxW, maxH float64
	for _, p := range pages {
		maxW = math.Max(maxW, p.Width)
		maxH = math.Max(maxH, p.Height)
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%%!PS-Adobe-3.0\n")
	fmt.Fprintf(bw, "%%%%Creator: spool-engine\n")
	if title != "" {
		fmt.Fprintf(bw, "%%%%Title: %s\n", psText(title))
	}
	fmt.Fprintf(bw, "%%%%Pages: %d\n", len(pages))
	fmt.Fprintf(bw, "%%%%BoundingBox: 0 0 %d %d\n", int(math.Ceil(maxW)), int(math.Ceil(maxH)))
	fmt.Fprintf(bw, "%%%%EndComments\n")

	line := make([]byte, hex.EncodedLen(psLineBytes))
	for i, p := range pages {
		gray := imaging.Grayscale(p.Image)
		pw, ph := gray.Bounds().Dx(), gray.Bounds().Dy()

		fmt.Fprintf(bw, "%%%%Page: %d %d\n", i+1, i+1)
		fmt.Fprintf(bw, "%%%%PageBoundingBox: 0 0 %d %d\n", int(math.Ceil(p.Width)), int(math.Ceil(p.Height)))
		fmt.Fprintf(bw, "<< /PageSize [%.2f %.2f] >> setpagedevice\n", p.Width, p.Height)
		fmt.Fprintf(bw, "gsave\n%.2f %.2f scale\n", p.Width, p.Height)
		fmt.Fprintf(bw, "/picstr %d string def\n", pw)
		fmt.Fprintf(bw, "%d %d 8 [%d 0 0 -%d 0 %d]\n", pw, ph, pw, ph, ph)
		fmt.Fprintf(bw, "{ currentfile picstr readhexstring pop } image\n")

		// one gray byte per pixel, taken from the red channel of the NRGBA
		row := make([]byte, pw)
		chunk := make([]byte, 0, psLineBytes)
		for y := 0; y < ph; y++ {
			pix := gray.Pix[y*gray.Stride:]
			for x := 0; x < pw; x++ {
				row[x] = pix[x*4]
			}
			for _, v := range row {
				chunk = append(chunk, v)
				if len(chunk) == psLineBytes {
					hex.Encode(line, chunk)
					bw.Write(line)
					bw.WriteByte('\n')
					chunk = chunk[:0]
				}
			}
		}
		if len(chunk) > 0 {
			n := hex.Encode(line, chunk)
			bw.Write(line[:n])
			bw.WriteByte('\n')
		}

		fmt.Fprintf(bw, "grestore\nshowpage\n")
	}
	fmt.Fprintf(bw, "%%%%EOF\n")

	return bw.Flush()
}

// psText keeps a DSC comment value on one line
func psText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, s)
}
