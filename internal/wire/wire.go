// Package wire implements the text ingestion protocol.
//
// One point is three CRLF-terminated fields on a persistent stream:
//
//	+<series key>
//	+<timestamp> | :<nanoseconds>
//	+<value>     | :<integer value>
//
// A '+' field carries a string payload, a ':' field a base-10 integer.
// Timestamps in string form use ISO-8601 basic layout
// (YYYYMMDDThhmmss with optional fractional seconds). The wire grammar
// is an external contract; the engine only needs the decoded point.
package wire

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/carouseldb/carousel/internal/errors"
	"github.com/carouseldb/carousel/internal/storage/types"
)

// DefaultMaxFrameSize bounds a single field line.
const DefaultMaxFrameSize = 4096

// Reader decodes points from an ingestion stream.
type Reader struct {
	r        *bufio.Reader
	maxFrame int
}

// NewReader creates a Reader wrapping the given io.Reader. maxFrame
// bounds the length of a single field line; 0 means
// DefaultMaxFrameSize.
func NewReader(r io.Reader, maxFrame int) *Reader {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &Reader{r: bufio.NewReader(r), maxFrame: maxFrame}
}

// ReadPoint reads and decodes the next point.
//
// io.EOF is returned only at a frame boundary; a stream ending inside
// a frame yields io.ErrUnexpectedEOF. Decode failures return an error
// matching errors.ErrDecode; the remaining field lines of the broken
// frame are consumed first, so the reader stays usable and the next
// ReadPoint starts at a frame boundary. One malformed point never
// aborts the stream or desynchronizes it.
func (r *Reader) ReadPoint() (types.Point, error) {
	var p types.Point

	sym, payload, err := r.readField()
	if err != nil {
		if errors.IsDecode(err) {
			r.skipFields(2)
		}
		return p, err // io.EOF at frame boundary
	}
	if sym != '+' {
		r.skipFields(2)
		return p, errors.Wrapf(errors.ErrUnexpectedSymbol, "series field %q", sym)
	}
	series, err := types.CanonicalSeries(payload)
	if err != nil {
		r.skipFields(2)
		return p, errors.NewDecode(err.Error())
	}
	p.Series = series

	sym, payload, err = r.readField()
	if err != nil {
		if errors.IsDecode(err) {
			r.skipFields(1)
			return p, err
		}
		return p, unexpectedEOF(err)
	}
	switch sym {
	case ':':
		ns, perr := strconv.ParseInt(payload, 10, 64)
		if perr != nil {
			r.skipFields(1)
			return p, errors.Wrapf(errors.ErrBadTimestamp, "%q", payload)
		}
		p.Timestamp = ns
	case '+':
		ns, perr := types.ParseTimestamp(payload)
		if perr != nil {
			r.skipFields(1)
			return p, errors.Wrapf(errors.ErrBadTimestamp, "%q", payload)
		}
		p.Timestamp = ns
	default:
		r.skipFields(1)
		return p, errors.Wrapf(errors.ErrUnexpectedSymbol, "timestamp field %q", sym)
	}

	sym, payload, err = r.readField()
	if err != nil {
		if errors.IsDecode(err) {
			return p, err
		}
		return p, unexpectedEOF(err)
	}
	switch sym {
	case ':':
		iv, perr := strconv.ParseInt(payload, 10, 64)
		if perr != nil {
			return p, errors.Wrapf(errors.ErrBadValue, "%q", payload)
		}
		p.Value = float64(iv)
	case '+':
		fv, perr := strconv.ParseFloat(payload, 64)
		if perr != nil {
			return p, errors.Wrapf(errors.ErrBadValue, "%q", payload)
		}
		p.Value = fv
	default:
		return p, errors.Wrapf(errors.ErrUnexpectedSymbol, "value field %q", sym)
	}

	return p, nil
}

// skipFields discards n field lines, realigning the reader to the next
// frame boundary after a mid-frame decode failure. Malformed lines are
// discarded like any other; a read error ends the skip and surfaces on
// the next ReadPoint.
func (r *Reader) skipFields(n int) {
	for i := 0; i < n; i++ {
		if _, _, err := r.readField(); err != nil && !errors.IsDecode(err) {
			return
		}
	}
}

// readField reads one field line and returns its leading symbol and
// payload with the CRLF stripped.
func (r *Reader) readField() (byte, string, error) {
	line, err := r.readLine()
	if err != nil {
		return 0, "", err
	}

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return 0, "", errors.NewDecode("empty field line")
	}
	return line[0], line[1:], nil
}

// readLine reads one newline-terminated line, enforcing maxFrame while
// reading so an unbounded newline-free stream cannot grow memory past
// the cap. An overlong line is discarded through its terminator and
// reported as ErrFrameTooLarge.
func (r *Reader) readLine() (string, error) {
	var buf []byte
	for {
		chunk, err := r.r.ReadSlice('\n')
		buf = append(buf, chunk...)

		if len(buf) > r.maxFrame {
			if err == bufio.ErrBufferFull {
				r.discardLine()
			}
			return "", errors.Wrapf(errors.ErrFrameTooLarge, "%d bytes", len(buf))
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			if err == io.EOF && len(buf) != 0 {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		return string(buf), nil
	}
}

// discardLine consumes input through the next newline or read error.
func (r *Reader) discardLine() {
	for {
		if _, err := r.r.ReadSlice('\n'); err != bufio.ErrBufferFull {
			return
		}
	}
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Writer encodes points onto an ingestion stream. It is used by client
// tooling and tests; the server side only reads.
type Writer struct {
	w *bufio.Writer
}

// NewWriter creates a Writer wrapping the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WritePoint encodes one point as three field lines.
func (w *Writer) WritePoint(p types.Point) error {
	if _, err := w.w.WriteString("+" + p.Series + "\r\n"); err != nil {
		return err
	}
	if _, err := w.w.WriteString(":" + strconv.FormatInt(p.Timestamp, 10) + "\r\n"); err != nil {
		return err
	}
	if _, err := w.w.WriteString("+" + strconv.FormatFloat(p.Value, 'g', -1, 64) + "\r\n"); err != nil {
		return err
	}
	return nil
}

// Flush flushes buffered frames to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}
