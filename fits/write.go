package fits

import (
	"bytes"
	"fmt"
	"io"

	"github.com/spacetelescope/stdatamodels-go/ndarray"
)

// WriteTo writes the whole list as a FITS stream.
func (l *HDUList) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for i := range l.HDUs {
		hdr, data, err := l.encode(i)
		if err != nil {
			return total, err
		}
		n, err := w.Write(hdr)
		total += int64(n)
		if err != nil {
			return total, err
		}
		n, err = w.Write(data)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Bytes returns the serialized file.
func (l *HDUList) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := l.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HeaderBytes returns the header of HDU i exactly as WriteTo renders it,
// structural keywords included.
func (l *HDUList) HeaderBytes(i int) ([]byte, error) {
	hdr, _, err := encodeHDU(l.HDUs[i], i == 0)
	if err != nil {
		return nil, &FormatError{HDU: i, Msg: err.Error()}
	}
	return hdr.Bytes()
}

func (l *HDUList) encode(i int) ([]byte, []byte, error) {
	hdr, data, err := encodeHDU(l.HDUs[i], i == 0)
	if err != nil {
		return nil, nil, &FormatError{HDU: i, Msg: err.Error()}
	}
	hb, err := hdr.Bytes()
	if err != nil {
		return nil, nil, err
	}
	if rem := len(data) % blockLen; rem != 0 {
		data = append(data, make([]byte, blockLen-rem)...)
	}
	return hb, data, nil
}

func encodeHDU(h *HDU, primary bool) (*Header, []byte, error) {
	out := NewHeader()
	var data []byte
	var err error
	switch {
	case h.Kind == BinTable:
		if primary {
			return nil, nil, fmt.Errorf("a binary table cannot be the primary HDU")
		}
		data, err = encodeTable(out, h.Data)
	default:
		data, err = encodeImage(out, h.Data, primary)
	}
	if err != nil {
		return nil, nil, err
	}
	for _, c := range h.Header.cards {
		if structural(c.Key) {
			continue
		}
		out.Append(c)
	}
	return out, data, nil
}

func encodeImage(out *Header, a *ndarray.Array, primary bool) ([]byte, error) {
	if primary {
		out.Append(Card{Key: "SIMPLE", Value: true, Comment: "conforms to FITS standard"})
	} else {
		out.Append(Card{Key: "XTENSION", Value: "IMAGE", Comment: "Image extension"})
	}
	if a == nil || len(a.Shape) == 0 {
		out.Append(Card{Key: "BITPIX", Value: int64(8), Comment: "array data type"})
		out.Append(Card{Key: "NAXIS", Value: int64(0), Comment: "number of array dimensions"})
		imageTail(out, primary)
		return nil, nil
	}
	if a.Dtype.IsStructured() {
		return nil, fmt.Errorf("image data cannot be a table (%s)", a.Dtype)
	}
	if !a.Resolved() {
		return nil, fmt.Errorf("image data is an unresolved link to %s", a.Source)
	}
	bitpix, ok := bitpixOf[a.Dtype.Kind]
	if !ok {
		return nil, fmt.Errorf("unsupported image kind %s", a.Dtype.Kind)
	}
	out.Append(Card{Key: "BITPIX", Value: bitpix, Comment: "array data type"})
	out.Append(Card{Key: "NAXIS", Value: int64(len(a.Shape)), Comment: "number of array dimensions"})
	for i := len(a.Shape) - 1; i >= 0; i-- {
		out.Append(Card{Key: fmt.Sprintf("NAXIS%d", len(a.Shape)-i), Value: int64(a.Shape[i])})
	}
	imageTail(out, primary)
	data := append([]byte(nil), a.Data...)
	if off, ok := kindOffsets[a.Dtype.Kind]; ok {
		out.Append(Card{Key: "BSCALE", Value: int64(1)})
		out.Append(Card{Key: "BZERO", Value: off})
		flipSign(data, a.Dtype.Kind.Size())
	}
	return data, nil
}

func imageTail(out *Header, primary bool) {
	if primary {
		out.Append(Card{Key: "EXTEND", Value: true})
		return
	}
	out.Append(Card{Key: "PCOUNT", Value: int64(0), Comment: "number of parameters"})
	out.Append(Card{Key: "GCOUNT", Value: int64(1), Comment: "number of groups"})
}

func encodeTable(out *Header, a *ndarray.Array) ([]byte, error) {
	if a == nil {
		a = ndarray.NewTable(ndarray.Dtype{}, 0)
	}
	if !a.Dtype.IsStructured() && a.Len() > 0 {
		return nil, fmt.Errorf("table data must be structured, got %s", a.Dtype)
	}
	if !a.Resolved() {
		return nil, fmt.Errorf("table data is an unresolved link to %s", a.Source)
	}
	cols := make([]column, len(a.Dtype.Fields))
	rowLen := 0
	for i, f := range a.Dtype.Fields {
		c, err := columnFor(f)
		if err != nil {
			return nil, err
		}
		cols[i] = c
		rowLen += c.stored.Size()
	}
	rows := a.Len()
	if !a.Dtype.IsStructured() {
		rows = 0
	}
	out.Append(Card{Key: "XTENSION", Value: "BINTABLE", Comment: "binary table extension"})
	out.Append(Card{Key: "BITPIX", Value: int64(8), Comment: "array data type"})
	out.Append(Card{Key: "NAXIS", Value: int64(2), Comment: "number of array dimensions"})
	out.Append(Card{Key: "NAXIS1", Value: int64(rowLen), Comment: "length of dimension 1"})
	out.Append(Card{Key: "NAXIS2", Value: int64(rows), Comment: "length of dimension 2"})
	out.Append(Card{Key: "PCOUNT", Value: int64(0), Comment: "number of group parameters"})
	out.Append(Card{Key: "GCOUNT", Value: int64(1), Comment: "number of groups"})
	out.Append(Card{Key: "TFIELDS", Value: int64(len(cols)), Comment: "number of table fields"})
	for i, c := range cols {
		n := i + 1
		out.Append(Card{Key: fmt.Sprintf("TTYPE%d", n), Value: c.field.Name})
		out.Append(Card{Key: fmt.Sprintf("TFORM%d", n), Value: c.tform})
		if c.tdim != "" {
			out.Append(Card{Key: fmt.Sprintf("TDIM%d", n), Value: c.tdim})
		}
		if c.tzero != nil {
			out.Append(Card{Key: fmt.Sprintf("TZERO%d", n), Value: c.tzero})
			out.Append(Card{Key: fmt.Sprintf("TSCAL%d", n), Value: int64(1)})
		}
	}

	data := make([]byte, rowLen*rows)
	srcRow := a.Dtype.ItemSize()
	for r := 0; r < rows; r++ {
		dOff := r * rowLen
		for i, c := range cols {
			sOff := r*srcRow + a.Dtype.Offset(i)
			src := a.Data[sOff : sOff+c.field.Size()]
			dst := data[dOff : dOff+c.stored.Size()]
			c.encodeCell(src, dst)
			dOff += c.stored.Size()
		}
	}
	return data, nil
}
