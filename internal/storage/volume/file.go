package volume

import (
	"fmt"
	"os"

	"github.com/ncw/directio"
)

// backingFile is the on-disk region behind a volume. It is append-only
// between resets; a reset rewinds the write offset to zero and
// truncates, reclaiming the region for the next generation.
//
// In direct mode the file is opened with O_DIRECT and writes are
// staged in a block-aligned buffer, flushed one full block at a time.
// The trailing partial block is only written on close, padded with
// zeros; recovery from volume files is out of scope, so the padding
// is never read back.
type backingFile struct {
	f      *os.File
	direct bool

	// direct-mode staging
	block []byte
	fill  int

	offset int64
}

func openBackingFile(path string, direct bool) (*backingFile, error) {
	var (
		f   *os.File
		err error
	)
	flags := os.O_RDWR | os.O_CREATE | os.O_TRUNC
	if direct {
		f, err = directio.OpenFile(path, flags, 0644)
	} else {
		f, err = os.OpenFile(path, flags, 0644)
	}
	if err != nil {
		return nil, fmt.Errorf("open volume file: %w", err)
	}

	bf := &backingFile{f: f, direct: direct}
	if direct {
		bf.block = directio.AlignedBlock(directio.BlockSize)
	}
	return bf, nil
}

func (b *backingFile) write(data []byte) error {
	if !b.direct {
		n, err := b.f.WriteAt(data, b.offset)
		b.offset += int64(n)
		return err
	}

	for len(data) > 0 {
		n := copy(b.block[b.fill:], data)
		b.fill += n
		data = data[n:]
		if b.fill == len(b.block) {
			if err := b.flushBlock(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *backingFile) flushBlock() error {
	if _, err := b.f.WriteAt(b.block, b.offset); err != nil {
		return err
	}
	b.offset += int64(len(b.block))
	b.fill = 0
	return nil
}

func (b *backingFile) reset() error {
	b.offset = 0
	b.fill = 0
	if b.direct {
		for i := range b.block {
			b.block[i] = 0
		}
		return nil
	}
	return b.f.Truncate(0)
}

func (b *backingFile) close() error {
	if b.direct && b.fill > 0 {
		// Pad the trailing partial block.
		for i := b.fill; i < len(b.block); i++ {
			b.block[i] = 0
		}
		if err := b.flushBlock(); err != nil {
			b.f.Close()
			return err
		}
	}
	return b.f.Close()
}
