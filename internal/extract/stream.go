package extract

import (
	"bytes"
	"strconv"
	"strings"
	"unicode"
)

// columnGapKern is the TJ kerning threshold (in thousandths of text space
// units, negative leftward) beyond which a gap is treated as a column
// separator rather than ordinary letter spacing. Table layouts rely on the
// resulting two-space separation between name, specification, and price.
const columnGapKern = -180

// streamLines parses PDF content stream operators into text lines. Text
// show operators (Tj, TJ, ') accumulate into the current line; positioning
// operators (Td, TD, T*) terminate it. This deliberately ignores font and
// transform state: the publisher's table rows are emitted top-to-bottom with
// one positioning operator per row, which is all the normalizer needs.
func streamLines(data []byte) []string {
	var lines []string
	var current strings.Builder

	flush := func() {
		text := cleanLine(current.String())
		if text != "" {
			lines = append(lines, text)
		}
		current.Reset()
	}

	for _, raw := range bytes.Split(data, []byte{'\n'}) {
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}

		switch {
		case bytes.HasSuffix(line, []byte("Tj")):
			for _, part := range literalStrings(line) {
				current.WriteString(part)
			}

		case bytes.HasSuffix(line, []byte("TJ")):
			writeArrayText(&current, line)

		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			flush()
			for _, part := range literalStrings(line) {
				current.WriteString(part)
			}

		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")),
			bytes.Equal(line, []byte("T*")), bytes.Equal(line, []byte("ET")):
			flush()
		}
	}
	flush()

	return lines
}

// writeArrayText renders a TJ array: string elements append text, large
// negative kerning values become a column gap.
func writeArrayText(sb *strings.Builder, line []byte) {
	depth := 0
	var str bytes.Buffer
	var num bytes.Buffer

	flushNum := func() {
		if num.Len() == 0 {
			return
		}
		if v, err := strconv.ParseFloat(num.String(), 64); err == nil && v < columnGapKern {
			sb.WriteString("  ")
		}
		num.Reset()
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		if depth > 0 {
			if c == '\\' && i+1 < len(line) {
				str.WriteByte(c)
				i++
				str.WriteByte(line[i])
				continue
			}
			if c == ')' {
				depth--
				if depth == 0 {
					sb.WriteString(decodePDFString(str.Bytes()))
					str.Reset()
					continue
				}
			}
			if c == '(' {
				depth++
			}
			str.WriteByte(c)
			continue
		}

		switch {
		case c == '(':
			flushNum()
			depth = 1
		case c == '-' || c == '.' || (c >= '0' && c <= '9'):
			num.WriteByte(c)
		default:
			flushNum()
		}
	}
	flushNum()
}

// literalStrings decodes every parenthesized string literal on the line.
func literalStrings(line []byte) []string {
	var out []string
	depth := 0
	var str bytes.Buffer
	for i := 0; i < len(line); i++ {
		c := line[i]
		if depth > 0 {
			if c == '\\' && i+1 < len(line) {
				str.WriteByte(c)
				i++
				str.WriteByte(line[i])
				continue
			}
			if c == ')' {
				depth--
				if depth == 0 {
					out = append(out, decodePDFString(str.Bytes()))
					str.Reset()
					continue
				}
			}
			if c == '(' {
				depth++
			}
			str.WriteByte(c)
			continue
		}
		if c == '(' {
			depth = 1
		}
	}
	return out
}

// decodePDFString handles basic PDF escape sequences, including octal.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			if raw[i] >= '0' && raw[i] <= '7' {
				val := int(raw[i] - '0')
				for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
					i++
					val = val*8 + int(raw[i]-'0')
				}
				sb.WriteByte(byte(val))
			} else {
				sb.WriteByte(raw[i])
			}
		}
	}
	return sb.String()
}

// cleanLine trims a raw line, drops non-printable runes, and collapses runs
// of three or more spaces to exactly two so downstream column splitting sees
// a stable separator.
func cleanLine(text string) string {
	var sb strings.Builder
	spaces := 0
	for _, r := range text {
		if r == '\n' || r == '\r' || r == '\t' {
			r = ' '
		}
		if r == ' ' {
			spaces++
			continue
		}
		if !unicode.IsPrint(r) || (r >= 0xE000 && r <= 0xF8FF) || r == 0xFFFD {
			continue
		}
		if spaces > 0 && sb.Len() > 0 {
			if spaces >= 2 {
				sb.WriteString("  ")
			} else {
				sb.WriteByte(' ')
			}
		}
		spaces = 0
		sb.WriteRune(r)
	}
	return strings.TrimSpace(sb.String())
}
