package session

import "bytes"

// LineBuffer assembles newline-delimited frames from an arbitrary sequence
// of writes. A payload may arrive whole, split across writes, or with
// several frames per write; the callback fires once per complete line,
// with the trailing newline stripped.
type LineBuffer struct {
	buf    bytes.Buffer
	onLine func(line []byte)
}

// NewLineBuffer creates a LineBuffer that invokes onLine for each
// complete line.
func NewLineBuffer(onLine func(line []byte)) *LineBuffer {
	return &LineBuffer{onLine: onLine}
}

// Write implements io.Writer. It never returns an error; partial frames
// are retained until the terminating newline arrives.
func (b *LineBuffer) Write(p []byte) (int, error) {
	b.buf.Write(p)
	for {
		data := b.buf.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return len(p), nil
		}
		line := make([]byte, i)
		copy(line, data[:i])
		b.buf.Next(i + 1)
		if len(line) > 0 {
			b.onLine(line)
		}
	}
}

// Flush emits any buffered partial line. Called when the stream closes
// without a final newline.
func (b *LineBuffer) Flush() {
	if b.buf.Len() == 0 {
		return
	}
	line := make([]byte, b.buf.Len())
	copy(line, b.buf.Bytes())
	b.buf.Reset()
	b.onLine(line)
}
