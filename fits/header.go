package fits

import (
	"bytes"
	"fmt"
	"strings"
)

// Header is an ordered list of cards. Keyword lookups are case-insensitive.
type Header struct {
	cards []Card
}

// NewHeader returns a header holding cards.
func NewHeader(cards ...Card) *Header {
	h := &Header{}
	for _, c := range cards {
		h.Append(c)
	}
	return h
}

// Len is the number of cards.
func (h *Header) Len() int { return len(h.cards) }

// Cards returns a copy of the cards in order.
func (h *Header) Cards() []Card { return append([]Card(nil), h.cards...) }

// Clone returns a deep copy.
func (h *Header) Clone() *Header { return &Header{cards: h.Cards()} }

// Index returns the position of the first card with key, or -1.
func (h *Header) Index(key string) int {
	key = strings.ToUpper(key)
	for i, c := range h.cards {
		if c.Key == key {
			return i
		}
	}
	return -1
}

// Get returns the first card with key.
func (h *Header) Get(key string) (Card, bool) {
	i := h.Index(key)
	if i < 0 {
		return Card{}, false
	}
	return h.cards[i], true
}

// Value returns the value of the first card with key.
func (h *Header) Value(key string) (any, bool) {
	c, ok := h.Get(key)
	return c.Value, ok
}

// StringValue returns a string-valued keyword, trimmed.
func (h *Header) StringValue(key string) string {
	v, _ := h.Value(key)
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// Int returns an integer keyword or def when absent or not an integer.
func (h *Header) Int(key string, def int64) int64 {
	v, ok := h.Value(key)
	if !ok {
		return def
	}
	switch x := v.(type) {
	case int64:
		return x
	case float64:
		if x == float64(int64(x)) {
			return int64(x)
		}
	}
	return def
}

// Set replaces the value and comment of the first card with key, or appends
// a new card.
func (h *Header) Set(key string, value any, comment string) {
	c := Card{Key: strings.ToUpper(key), Value: value, Comment: comment}
	if i := h.Index(key); i >= 0 && !IsCommentary(c.Key) {
		h.cards[i] = c
		return
	}
	h.cards = append(h.cards, c)
}

// Append adds c at the end, keeping duplicates.
func (h *Header) Append(c Card) {
	c.Key = strings.ToUpper(c.Key)
	h.cards = append(h.cards, c)
}

// Insert places c at position i.
func (h *Header) Insert(i int, c Card) {
	c.Key = strings.ToUpper(c.Key)
	if i >= len(h.cards) {
		h.cards = append(h.cards, c)
		return
	}
	if i < 0 {
		i = 0
	}
	h.cards = append(h.cards[:i], append([]Card{c}, h.cards[i:]...)...)
}

// Delete removes every card with key.
func (h *Header) Delete(key string) {
	key = strings.ToUpper(key)
	out := h.cards[:0]
	for _, c := range h.cards {
		if c.Key != key {
			out = append(out, c)
		}
	}
	h.cards = out
}

// Commentary returns the texts of every card with key, such as HISTORY.
func (h *Header) Commentary(key string) []string {
	key = strings.ToUpper(key)
	var out []string
	for _, c := range h.cards {
		if c.Key == key {
			s, _ := c.Value.(string)
			out = append(out, s)
		}
	}
	return out
}

// Bytes renders the header including END, padded to a whole block.
func (h *Header) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	for _, c := range h.cards {
		lines, err := c.format()
		if err != nil {
			return nil, err
		}
		for _, l := range lines {
			buf.WriteString(l)
		}
	}
	buf.WriteString(pad("END"))
	if rem := buf.Len() % blockLen; rem != 0 {
		buf.Write(bytes.Repeat([]byte{' '}, blockLen-rem))
	}
	return buf.Bytes(), nil
}

// parseHeader decodes card images up to END. It merges CONTINUE cards into
// the preceding long string.
func parseHeader(images []string) (*Header, error) {
	h := &Header{}
	for _, img := range images {
		c, err := parseCard(img)
		if err != nil {
			return nil, err
		}
		if c.Key == "CONTINUE" && len(h.cards) > 0 {
			prev := &h.cards[len(h.cards)-1]
			if s, ok := prev.Value.(string); ok && strings.HasSuffix(s, "&") {
				text, _ := c.Value.(string)
				chunk, rest, err := parseQuoted(strings.TrimLeft(text, " "))
				if err != nil {
					return nil, &FormatError{Msg: fmt.Sprintf("CONTINUE after %s: %v", prev.Key, err)}
				}
				prev.Value = s[:len(s)-1] + chunk
				if cm := parseComment(rest); cm != "" {
					prev.Comment = cm
				}
				continue
			}
		}
		h.cards = append(h.cards, c)
	}
	return h, nil
}
