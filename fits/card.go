package fits

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	cardLen   = 80
	blockLen  = 2880
	keyLen    = 8
	valueCol  = 10 // value field starts after "KEYWORD = "
	fixedEnd  = 30 // fixed-format numbers and logicals end in column 30
	maxStrLen = cardLen - valueCol - 2
)

// Card is one header record. Value is one of string, bool, int64, uint64,
// float64 or nil (an undefined value). For commentary cards (COMMENT,
// HISTORY and blank keywords) Value holds the text and Comment is empty.
type Card struct {
	Key     string
	Value   any
	Comment string
}

// IsCommentary reports whether key names a commentary card.
func IsCommentary(key string) bool {
	switch strings.ToUpper(strings.TrimSpace(key)) {
	case "COMMENT", "HISTORY", "":
		return true
	}
	return false
}

// NormalizeValue converts Go scalars to the value types a Card holds.
func NormalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, int64, uint64, float64:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint:
		return normalizeUint(uint64(x)), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	default:
		return nil, fmt.Errorf("fits: unsupported header value type %T", v)
	}
}

func normalizeUint(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return u
}

// format renders c as one or more 80-column card images.
func (c Card) format() ([]string, error) {
	key := strings.ToUpper(c.Key)
	if len(key) > keyLen {
		return nil, &FormatError{Msg: fmt.Sprintf("keyword %q longer than %d characters", c.Key, keyLen)}
	}
	if IsCommentary(key) {
		text, _ := c.Value.(string)
		return formatCommentary(key, text), nil
	}
	if s, ok := c.Value.(string); ok {
		return formatString(key, s, c.Comment), nil
	}
	val, err := formatFixed(c.Value)
	if err != nil {
		return nil, &FormatError{Msg: fmt.Sprintf("keyword %s: %v", key, err)}
	}
	line := fmt.Sprintf("%-8s= %20s", key, val)
	return []string{withComment(line, c.Comment)}, nil
}

func formatCommentary(key, text string) []string {
	const width = cardLen - keyLen
	if text == "" {
		return []string{pad(fmt.Sprintf("%-8s", key))}
	}
	var out []string
	for len(text) > 0 {
		n := width
		if len(text) < n {
			n = len(text)
		}
		out = append(out, pad(fmt.Sprintf("%-8s%s", key, text[:n])))
		text = text[n:]
	}
	return out
}

func formatFixed(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case bool:
		if x {
			return "T", nil
		}
		return "F", nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return formatFloat(x)
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("cannot store %v in a header", f)
	}
	s := strconv.FormatFloat(f, 'G', -1, 64)
	for prec := 16; len(s) > 20 && prec > 0; prec-- {
		s = strconv.FormatFloat(f, 'G', prec, 64)
	}
	if strings.ContainsAny(s, ".") {
		return s, nil
	}
	if i := strings.IndexByte(s, 'E'); i >= 0 {
		return s[:i] + ".0" + s[i:], nil
	}
	return s + ".0", nil
}

// formatString writes a quoted string value, spilling onto CONTINUE cards
// when it does not fit one card.
func formatString(key, s, comment string) []string {
	quoted := quote(s)
	if len(quoted) <= maxStrLen {
		line := fmt.Sprintf("%-8s= '%-8s'", key, quoted)
		return []string{withComment(line, comment)}
	}
	chunks := splitQuoted(s, maxStrLen-1)
	out := make([]string, 0, len(chunks))
	for i, ch := range chunks {
		q := quote(ch)
		if i < len(chunks)-1 {
			q += "&"
		}
		var line string
		if i == 0 {
			line = fmt.Sprintf("%-8s= '%s'", key, q)
		} else {
			line = fmt.Sprintf("CONTINUE  '%s'", q)
		}
		if i == len(chunks)-1 {
			line = withComment(line, comment)
		}
		out = append(out, pad(line))
	}
	return out
}

func quote(s string) string { return strings.ReplaceAll(s, "'", "''") }

// splitQuoted splits s into pieces whose quoted form is at most width bytes.
func splitQuoted(s string, width int) []string {
	var out []string
	var cur strings.Builder
	n := 0
	for _, r := range s {
		w := len(string(r))
		if r == '\'' {
			w = 2
		}
		if n+w > width {
			out = append(out, cur.String())
			cur.Reset()
			n = 0
		}
		cur.WriteRune(r)
		n += w
	}
	if cur.Len() > 0 || len(out) == 0 {
		out = append(out, cur.String())
	}
	return out
}

func withComment(line, comment string) string {
	if comment != "" && len(line) < cardLen-3 {
		if len(line) < fixedEnd+1 {
			line = fmt.Sprintf("%-30s", line)
		}
		line += " / " + comment
	}
	return pad(line)
}

func pad(line string) string {
	if len(line) > cardLen {
		return line[:cardLen]
	}
	return line + strings.Repeat(" ", cardLen-len(line))
}

// parseCard decodes one 80-byte card image.
func parseCard(img string) (Card, error) {
	if len(img) != cardLen {
		return Card{}, &FormatError{Msg: fmt.Sprintf("card has %d bytes", len(img))}
	}
	key := strings.TrimRight(img[:keyLen], " ")
	if IsCommentary(key) || key == "CONTINUE" || img[keyLen:valueCol] != "= " {
		return Card{Key: key, Value: strings.TrimRight(img[keyLen:], " ")}, nil
	}
	val, comment, err := parseValue(img[valueCol:])
	if err != nil {
		return Card{}, &FormatError{Msg: fmt.Sprintf("keyword %s: %v", key, err)}
	}
	return Card{Key: key, Value: val, Comment: comment}, nil
}

func parseValue(field string) (any, string, error) {
	trimmed := strings.TrimLeft(field, " ")
	if strings.HasPrefix(trimmed, "'") {
		s, rest, err := parseQuoted(trimmed)
		if err != nil {
			return nil, "", err
		}
		return s, parseComment(rest), nil
	}
	raw, comment := trimmed, ""
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		raw, comment = trimmed[:i], strings.TrimSpace(trimmed[i+1:])
	}
	raw = strings.TrimSpace(raw)
	switch raw {
	case "":
		return nil, comment, nil
	case "T":
		return true, comment, nil
	case "F":
		return false, comment, nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i, comment, nil
	}
	if u, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return u, comment, nil
	}
	if f, err := strconv.ParseFloat(strings.Replace(raw, "D", "E", 1), 64); err == nil {
		return f, comment, nil
	}
	// Complex and other exotic values are kept verbatim.
	return raw, comment, nil
}

func parseQuoted(s string) (string, string, error) {
	var b strings.Builder
	i := 1
	for i < len(s) {
		if s[i] == '\'' {
			if i+1 < len(s) && s[i+1] == '\'' {
				b.WriteByte('\'')
				i += 2
				continue
			}
			return strings.TrimRight(b.String(), " "), s[i+1:], nil
		}
		b.WriteByte(s[i])
		i++
	}
	return "", "", fmt.Errorf("unterminated string %q", s)
}

func parseComment(rest string) string {
	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, "/") {
		return strings.TrimSpace(rest[1:])
	}
	return ""
}
