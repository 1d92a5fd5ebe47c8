package asdf

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"
)

var blockMagic = []byte{0xd3, 'B', 'L', 'K'}

// headerSize is the size of the block header following the magic and the
// size field itself.
const headerSize = 48

const (
	compressionNone = ""
	compressionZlib = "zlib"
)

type blockHeader struct {
	flags       uint32
	compression string
	allocated   uint64
	used        uint64
	dataSize    uint64
	checksum    [16]byte
}

func writeBlock(w io.Writer, data []byte, compression string) error {
	used := data
	switch compression {
	case compressionNone:
	case compressionZlib:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		used = buf.Bytes()
	default:
		return fmt.Errorf("asdf: unsupported compression %q", compression)
	}

	var hdr [4 + 2 + headerSize]byte
	copy(hdr[:4], blockMagic)
	binary.BigEndian.PutUint16(hdr[4:6], headerSize)
	// flags at [6:10] stay zero: no streamed blocks.
	copy(hdr[10:14], compression)
	binary.BigEndian.PutUint64(hdr[14:22], uint64(len(used)))
	binary.BigEndian.PutUint64(hdr[22:30], uint64(len(used)))
	binary.BigEndian.PutUint64(hdr[30:38], uint64(len(data)))
	sum := md5.Sum(data)
	copy(hdr[38:54], sum[:])

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(used)
	return err
}

// readBlocks decodes every block in b, which starts at the first magic.
func readBlocks(b []byte) ([][]byte, error) {
	var out [][]byte
	for len(b) > 0 {
		if !bytes.HasPrefix(b, blockMagic) {
			// Trailing block index or padding.
			break
		}
		if len(b) < 6 {
			return nil, &FormatError{Msg: "truncated block header"}
		}
		size := int(binary.BigEndian.Uint16(b[4:6]))
		if size < headerSize || len(b) < 6+size {
			return nil, &FormatError{Msg: fmt.Sprintf("block %d: bad header size %d", len(out), size)}
		}
		h := b[6 : 6+size]
		bh := blockHeader{
			flags:       binary.BigEndian.Uint32(h[0:4]),
			compression: string(bytes.TrimRight(h[4:8], "\x00")),
			allocated:   binary.BigEndian.Uint64(h[8:16]),
			used:        binary.BigEndian.Uint64(h[16:24]),
			dataSize:    binary.BigEndian.Uint64(h[24:32]),
		}
		copy(bh.checksum[:], h[32:48])
		b = b[6+size:]
		if bh.allocated > uint64(len(b)) || bh.used > bh.allocated {
			return nil, &FormatError{Msg: fmt.Sprintf("block %d: truncated data", len(out))}
		}
		data, err := decodeBlock(b[:bh.used], bh)
		if err != nil {
			return nil, &FormatError{Msg: fmt.Sprintf("block %d: %v", len(out), err)}
		}
		out = append(out, data)
		b = b[bh.allocated:]
	}
	return out, nil
}

func decodeBlock(used []byte, bh blockHeader) ([]byte, error) {
	var data []byte
	switch bh.compression {
	case compressionNone:
		data = append([]byte(nil), used...)
	case compressionZlib:
		zr, err := zlib.NewReader(bytes.NewReader(used))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		limit := int64(math.MaxInt64)
		if bh.dataSize < math.MaxInt64 {
			limit = int64(bh.dataSize) + 1
		}
		data, err = io.ReadAll(io.LimitReader(zr, limit))
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported compression %q", bh.compression)
	}
	if uint64(len(data)) != bh.dataSize {
		return nil, fmt.Errorf("expected %d bytes, got %d", bh.dataSize, len(data))
	}
	if bh.checksum != ([16]byte{}) && md5.Sum(data) != bh.checksum {
		return nil, fmt.Errorf("checksum mismatch")
	}
	return data, nil
}
