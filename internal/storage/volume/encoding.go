package volume

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/carouseldb/carousel/internal/storage/types"
)

// Point encoding format (binary, little-endian):
//   - Series length (2 bytes) + series key bytes
//   - Timestamp (8 bytes, nanoseconds)
//   - Value (8 bytes, float64)
//
// The encoded length must match types.Point.EncodedSize, which the
// ring uses for free-space accounting.

// encodePoint appends the encoded form of p to buf.
func encodePoint(buf []byte, p types.Point) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(p.Series)))
	buf = append(buf, p.Series...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Timestamp))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.Value))
	return buf
}

// decodePoint decodes one point starting at offset. It returns the
// point and the offset just past it.
func decodePoint(data []byte, offset int) (types.Point, int, error) {
	var p types.Point

	if offset+2 > len(data) {
		return p, offset, fmt.Errorf("data too short for series length")
	}
	n := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2

	if offset+n+16 > len(data) {
		return p, offset, fmt.Errorf("data too short for point body")
	}
	p.Series = string(data[offset : offset+n])
	offset += n

	p.Timestamp = int64(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8
	p.Value = math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8

	return p, offset, nil
}
