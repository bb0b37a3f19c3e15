package streaming

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/BaSui01/genflow/types"
)

// DefaultMaxLineSize bounds a single SSE line.
const DefaultMaxLineSize = 1 << 20

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Frame is one dispatched Server-Sent Event.
type Frame struct {
	Event    string
	Data     string
	ID       string
	Retry    time.Duration
	HasRetry bool
}

// Decoder splits an SSE byte stream into frames. Lines are assembled as
// bytes so multi-byte characters split across reads stay intact.
type Decoder struct {
	r       *bufio.Reader
	maxLine int
	line    []byte
	started bool
	err     error

	event    string
	id       string
	data     bytes.Buffer
	hasData  bool
	retry    time.Duration
	hasRetry bool
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithDecoderMaxLineSize sets the longest accepted line in bytes.
func WithDecoderMaxLineSize(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.maxLine = n
		}
	}
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader, opts ...DecoderOption) *Decoder {
	d := &Decoder{maxLine: DefaultMaxLineSize}
	for _, opt := range opts {
		opt(d)
	}
	size := 4096
	if d.maxLine < size {
		size = d.maxLine + 2
	}
	d.r = bufio.NewReaderSize(r, size)
	return d
}

// Next returns the next frame, io.EOF at the end of the stream, a
// DECODE_ERROR for malformed input, or the underlying read error.
// Errors are sticky.
func (d *Decoder) Next() (Frame, error) {
	if d.err != nil {
		return Frame{}, d.err
	}
	for {
		line, err := d.readLine()
		if err != nil {
			d.err = err
			return Frame{}, err
		}
		if len(line) == 0 {
			if frame, ok := d.dispatch(); ok {
				return frame, nil
			}
			continue
		}
		d.processLine(line)
	}
}

// All ranges over the remaining frames.
func (d *Decoder) All() iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for {
			frame, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(frame, err) || err != nil {
				return
			}
		}
	}
}

// readLine returns one line without its terminator. A partial line at EOF
// is dropped and io.EOF returned.
func (d *Decoder) readLine() ([]byte, error) {
	d.line = d.line[:0]
	for {
		chunk, err := d.r.ReadSlice('\n')
		d.line = append(d.line, chunk...)
		if len(d.line) > d.maxLine+2 {
			return nil, types.NewDecodeError(
				fmt.Sprintf("sse line exceeds %d bytes", d.maxLine), nil)
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return nil, err
	}

	line := d.line[:len(d.line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	if !d.started {
		d.started = true
		line = bytes.TrimPrefix(line, utf8BOM)
	}
	if len(line) > d.maxLine {
		return nil, types.NewDecodeError(
			fmt.Sprintf("sse line exceeds %d bytes", d.maxLine), nil)
	}
	if !utf8.Valid(line) {
		return nil, types.NewDecodeError("sse line is not valid UTF-8", nil)
	}
	return line, nil
}

func (d *Decoder) processLine(line []byte) {
	if line[0] == ':' {
		return
	}

	field, value := line, []byte(nil)
	if i := bytes.IndexByte(line, ':'); i >= 0 {
		field, value = line[:i], line[i+1:]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
	}

	switch string(field) {
	case "data":
		if d.hasData {
			d.data.WriteByte('\n')
		}
		d.data.Write(value)
		d.hasData = true
	case "event":
		d.event = string(value)
	case "id":
		// ids containing NUL are ignored by browsers as well.
		if bytes.IndexByte(value, 0) < 0 {
			d.id = string(value)
		}
	case "retry":
		// 超出 time.Duration 表示范围的值与非数字一样忽略
		ms, err := strconv.ParseUint(string(value), 10, 64)
		if err == nil && ms <= math.MaxInt64/uint64(time.Millisecond) {
			d.retry = time.Duration(ms) * time.Millisecond
			d.hasRetry = true
		}
	}
}

func (d *Decoder) dispatch() (Frame, bool) {
	defer d.reset()
	if !d.hasData {
		return Frame{}, false
	}
	return Frame{
		Event:    d.event,
		Data:     d.data.String(),
		ID:       d.id,
		Retry:    d.retry,
		HasRetry: d.hasRetry,
	}, true
}

func (d *Decoder) reset() {
	d.event = ""
	d.id = ""
	d.data.Reset()
	d.hasData = false
	d.retry = 0
	d.hasRetry = false
}
