package serialport

// maxFrameSize bounds a partial frame; longer input is discarded
const maxFrameSize = 8 << 10

// framer extracts payloads delimited by a begin and an end byte
type framer struct {
	begin, end byte
	buf        []byte
	inFrame    bool
}

// feed consumes a chunk and returns every payload it completed
func (f *framer) feed(chunk []byte) [][]byte {
	var out [][]byte
	for _, b := range chunk {
		switch {
		case f.inFrame && b == f.end:
			payload := make([]byte, len(f.buf))
			copy(payload, f.buf)
			out = append(out, payload)
			f.reset()
		case b == f.begin:
			// a new begin byte restarts the frame
			f.buf = f.buf[:0]
			f.inFrame = true
		case f.inFrame:
			f.buf = append(f.buf, b)
			if len(f.buf) > maxFrameSize {
				f.reset()
			}
		}
	}
	return out
}

func (f *framer) reset() {
	f.buf = f.buf[:0]
	f.inFrame = false
}
