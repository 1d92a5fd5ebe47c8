package fits

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/spacetelescope/stdatamodels-go/ndarray"
)

// Read decodes a FITS stream.
func Read(r io.Reader) (*HDUList, error) {
	br := bufio.NewReader(r)
	l := &HDUList{}
	for idx := 0; ; idx++ {
		images, err := readHeaderImages(br)
		if errors.Is(err, io.EOF) && idx > 0 {
			break
		}
		if err != nil {
			return nil, &FormatError{HDU: idx, Msg: err.Error()}
		}
		hdr, err := parseHeader(images)
		if err != nil {
			return nil, err
		}
		h, err := readHDU(br, hdr, idx)
		if err != nil {
			var fe *FormatError
			if errors.As(err, &fe) {
				return nil, err
			}
			return nil, &FormatError{HDU: idx, Msg: err.Error()}
		}
		l.HDUs = append(l.HDUs, h)
	}
	return l, nil
}

// readHeaderImages reads whole blocks until the END card. A clean end of
// stream before any byte of a new header yields io.EOF.
func readHeaderImages(br *bufio.Reader) ([]string, error) {
	var images []string
	block := make([]byte, blockLen)
	for first := true; ; first = false {
		n, err := io.ReadFull(br, block)
		if err != nil {
			if first && n == 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
				return nil, io.EOF
			}
			if first && allZero(block[:n]) && errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("truncated header: %w", err)
		}
		if first && allZero(block) {
			return nil, io.EOF
		}
		for i := 0; i < blockLen; i += cardLen {
			img := string(block[i : i+cardLen])
			if strings.TrimRight(img[:keyLen], " ") == "END" {
				return images, nil
			}
			images = append(images, img)
		}
	}
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func readHDU(br *bufio.Reader, hdr *Header, idx int) (*HDU, error) {
	h := &HDU{Header: hdr}
	switch {
	case idx == 0:
		if _, ok := hdr.Get("SIMPLE"); !ok {
			return nil, errors.New("missing SIMPLE keyword")
		}
		h.Kind = Primary
	default:
		switch strings.TrimSpace(hdr.StringValue("XTENSION")) {
		case "IMAGE":
			h.Kind = Image
		case "BINTABLE":
			h.Kind = BinTable
		default:
			return nil, fmt.Errorf("unsupported XTENSION %q", hdr.StringValue("XTENSION"))
		}
	}

	if h.Kind == BinTable {
		data, err := readTable(br, hdr)
		if err != nil {
			return nil, err
		}
		h.Data = data
		return h, nil
	}
	data, err := readImage(br, hdr)
	if err != nil {
		return nil, err
	}
	h.Data = data
	return h, nil
}

// readPadded reads size bytes of data and the block padding after them. The
// buffer grows with what the stream delivers, so a header claiming more data
// than exists fails as truncated without allocating the claimed size.
func readPadded(br *bufio.Reader, size int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	padded := size
	if rem := size % blockLen; rem != 0 {
		if size > math.MaxInt-blockLen {
			return nil, errSizeOverflow
		}
		padded += blockLen - rem
	}
	var buf bytes.Buffer
	n, err := io.CopyN(&buf, br, int64(padded))
	if err != nil && n < int64(size) {
		return nil, fmt.Errorf("truncated data: %w", err)
	}
	return buf.Bytes()[:size], nil
}

var errSizeOverflow = errors.New("data size overflows")

// dataSize multiplies itemSize by dims, failing when a dimension is
// negative or the product does not fit in an int.
func dataSize(itemSize int, dims ...int) (int, error) {
	n := itemSize
	for _, d := range dims {
		if d < 0 {
			return 0, fmt.Errorf("negative dimension %d", d)
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, errSizeOverflow
		}
		n *= d
	}
	return n, nil
}

// heapSize is the data size plus PCOUNT extra bytes, times GCOUNT groups.
func heapSize(hdr *Header, itemSize, count int) (int, error) {
	pcount := hdr.Int("PCOUNT", 0)
	gcount := hdr.Int("GCOUNT", 1)
	if pcount < 0 || gcount < 0 || pcount > math.MaxInt-int64(count) {
		return 0, fmt.Errorf("invalid PCOUNT %d or GCOUNT %d", pcount, gcount)
	}
	return dataSize(itemSize, int(gcount), int(pcount)+count)
}

func imageShape(hdr *Header) ([]int, error) {
	naxis := hdr.Int("NAXIS", -1)
	if naxis < 0 || naxis > 999 {
		return nil, fmt.Errorf("invalid NAXIS")
	}
	shape := make([]int, naxis)
	for i := int64(1); i <= naxis; i++ {
		n := hdr.Int(fmt.Sprintf("NAXIS%d", i), -1)
		if n < 0 || n > math.MaxInt {
			return nil, fmt.Errorf("missing or invalid NAXIS%d", i)
		}
		shape[naxis-i] = int(n)
	}
	return shape, nil
}

func readImage(br *bufio.Reader, hdr *Header) (*ndarray.Array, error) {
	bitpix := hdr.Int("BITPIX", 0)
	stored, err := kindOfBitpix(bitpix)
	if err != nil {
		return nil, err
	}
	shape, err := imageShape(hdr)
	if err != nil {
		return nil, err
	}
	if len(shape) == 0 {
		return nil, nil
	}
	count, err := dataSize(1, shape...)
	if err != nil {
		return nil, err
	}
	if _, err := dataSize(stored.Size(), count); err != nil {
		return nil, err
	}
	size, err := heapSize(hdr, stored.Size(), count)
	if err != nil {
		return nil, err
	}
	raw, err := readPadded(br, size)
	if err != nil {
		return nil, err
	}
	if len(raw) < stored.Size()*count {
		return nil, fmt.Errorf("GCOUNT %d leaves no room for %d pixels", hdr.Int("GCOUNT", 1), count)
	}
	raw = raw[:stored.Size()*count]

	zero, hasZero := hdr.Value("BZERO")
	scale := 1.0
	if v, ok := hdr.Value("BSCALE"); ok {
		if s, ok := offsetValue(v); ok {
			scale = s
		}
	}
	z, _ := offsetValue(zero)
	switch {
	case !hasZero && scale == 1, hasZero && z == 0 && scale == 1:
		return &ndarray.Array{Dtype: ndarray.ScalarType(stored), Shape: shape, Data: raw}, nil
	case scale == 1:
		if k, ok := logicalKind(stored, zero); ok {
			flipSign(raw, stored.Size())
			return &ndarray.Array{Dtype: ndarray.ScalarType(k), Shape: shape, Data: raw}, nil
		}
	}
	src := &ndarray.Array{Dtype: ndarray.ScalarType(stored), Shape: shape, Data: raw}
	out := ndarray.New(ndarray.ScalarType(ndarray.Float64), shape...)
	for i := 0; i < count; i++ {
		out.SetFloat64(i, src.Float64At(i)*scale+z)
	}
	return out, nil
}

func readTable(br *bufio.Reader, hdr *Header) (*ndarray.Array, error) {
	if hdr.Int("NAXIS", 0) != 2 {
		return nil, errors.New("binary table must have NAXIS = 2")
	}
	rowLen := int(hdr.Int("NAXIS1", -1))
	rows := int(hdr.Int("NAXIS2", -1))
	nfields := int(hdr.Int("TFIELDS", -1))
	if rowLen < 0 || rows < 0 || nfields < 0 {
		return nil, errors.New("binary table missing NAXIS1, NAXIS2 or TFIELDS")
	}
	cols := make([]column, nfields)
	fields := make([]ndarray.Field, nfields)
	stored := 0
	for i := 0; i < nfields; i++ {
		n := i + 1
		name := hdr.StringValue(fmt.Sprintf("TTYPE%d", n))
		if name == "" {
			name = fmt.Sprintf("col%d", n)
		}
		zero, _ := hdr.Value(fmt.Sprintf("TZERO%d", n))
		c, err := parseColumn(name, hdr.StringValue(fmt.Sprintf("TFORM%d", n)), hdr.StringValue(fmt.Sprintf("TDIM%d", n)), zero)
		if err != nil {
			return nil, err
		}
		cols[i] = c
		fields[i] = c.field
		stored += c.stored.Size()
	}
	if stored != rowLen {
		return nil, fmt.Errorf("column widths sum to %d bytes, NAXIS1 is %d", stored, rowLen)
	}
	body, err := dataSize(rowLen, rows)
	if err != nil {
		return nil, err
	}
	size, err := heapSize(hdr, 1, body)
	if err != nil {
		return nil, err
	}
	raw, err := readPadded(br, size)
	if err != nil {
		return nil, err
	}
	if len(raw) < body {
		return nil, fmt.Errorf("GCOUNT %d leaves no room for %d rows", hdr.Int("GCOUNT", 1), rows)
	}
	out := ndarray.NewTable(ndarray.Structured(fields...), rows)
	dstRow := out.Dtype.ItemSize()
	for r := 0; r < rows; r++ {
		sOff := r * rowLen
		for i, c := range cols {
			dOff := r*dstRow + out.Dtype.Offset(i)
			c.decodeCell(raw[sOff:sOff+c.stored.Size()], out.Data[dOff:dOff+c.field.Size()])
			sOff += c.stored.Size()
		}
	}
	return out, nil
}
