package program

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Repr returns the canonical representation, e.g.
//
//	Symbol(name='main', address=0x401000, size=0x20, binding=<SymbolBinding.GLOBAL: 2>, kind=<SymbolKind.FUNC: 2>)
//
// It fails when the binding or kind class fails; no field is ever left out.
func (s *Symbol) Repr() (string, error) {
	rec := s.record()
	binding, err := s.Binding()
	if err != nil {
		return "", err
	}
	kind, err := s.Kind()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Symbol(name=%s, address=0x%x, size=0x%x, binding=%s, kind=%s)",
		quoteName(rec.Name()), rec.Address(), rec.Size(), binding.Repr(), kind.Repr()), nil
}

// String implements fmt.Stringer. A failing Repr is rendered as the error.
func (s *Symbol) String() string {
	r, err := s.Repr()
	if err != nil {
		return fmt.Sprintf("Symbol(<error: %v>)", err)
	}
	return r
}

// quoteName quotes name the way a Python str repr does: single quotes
// unless the name holds a single quote and no double quote, with backslash
// escapes for the quote, backslashes and non-printable characters.
func quoteName(name string) string {
	quote := byte('\'')
	if strings.IndexByte(name, '\'') >= 0 && strings.IndexByte(name, '"') < 0 {
		quote = '"'
	}
	var b strings.Builder
	b.Grow(len(name) + 2)
	b.WriteByte(quote)
	for i := 0; i < len(name); {
		r, n := utf8.DecodeRuneInString(name[i:])
		if r == utf8.RuneError && n == 1 {
			fmt.Fprintf(&b, `\x%02x`, name[i])
			i++
			continue
		}
		i += n
		switch {
		case r == rune(quote) || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, r)
		case unicode.IsPrint(r):
			b.WriteRune(r)
		case r <= 0xff:
			fmt.Fprintf(&b, `\x%02x`, r)
		case r <= 0xffff:
			fmt.Fprintf(&b, `\u%04x`, r)
		default:
			fmt.Fprintf(&b, `\U%08x`, r)
		}
	}
	b.WriteByte(quote)
	return b.String()
}
