package registry

import (
	"regexp"
	"strings"
)

// SplitArgs splits a macro argument list on top-level commas. Commas
// inside parens, brackets, braces, strings, and string interpolations
// do not split, so `render(conn, :show, user: %{name: "a, b"})` comes
// apart at exactly two places.
func SplitArgs(s string) []string {
	var args []string
	var cur strings.Builder

	// Each frame is either a string (quote != 0) or code tracking its
	// own bracket depth. Interpolation pushes a code frame from inside
	// a string.
	type frame struct {
		quote byte
		depth int
	}
	stack := []frame{{}}

	for i := 0; i < len(s); i++ {
		c := s[i]
		f := &stack[len(stack)-1]

		if f.quote != 0 {
			switch {
			case c == '\\' && i+1 < len(s):
				cur.WriteByte(c)
				i++
				c = s[i]
			case c == '#' && i+1 < len(s) && s[i+1] == '{':
				cur.WriteByte(c)
				i++
				c = s[i]
				stack = append(stack, frame{depth: 1})
			case c == f.quote:
				stack = stack[:len(stack)-1]
			}
			cur.WriteByte(c)
			continue
		}

		switch c {
		case '(', '[', '{':
			f.depth++
		case ')', ']':
			if f.depth > 0 {
				f.depth--
			}
		case '}':
			if f.depth > 0 {
				f.depth--
				if f.depth == 0 && len(stack) > 1 {
					// Closed an interpolation; back to the string.
					stack = stack[:len(stack)-1]
				}
			}
		case '"', '\'':
			stack = append(stack, frame{quote: c})
		case ',':
			if f.depth == 0 && len(stack) == 1 {
				args = append(args, strings.TrimSpace(cur.String()))
				cur.Reset()
				continue
			}
		}
		cur.WriteByte(c)
	}

	if tail := strings.TrimSpace(cur.String()); tail != "" {
		args = append(args, tail)
	}
	return args
}

var keywordRe = regexp.MustCompile(`^([a-z_][a-zA-Z0-9_]*):\s*(.+)$`)

// KeywordOpts separates positional arguments from trailing keyword
// options. Order among positionals is preserved; a keyword seen twice
// keeps the last value.
func KeywordOpts(args []string) (positional []string, opts map[string]string) {
	opts = make(map[string]string)
	for _, arg := range args {
		if m := keywordRe.FindStringSubmatch(arg); m != nil {
			opts[m[1]] = strings.TrimSpace(m[2])
			continue
		}
		positional = append(positional, arg)
	}
	return positional, opts
}

// AtomList parses `:a`, `[:a, :b]`, or `[ :a ]` into atom names
// without the leading colon. Anything unparseable yields nil.
func AtomList(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")

	var atoms []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(part, ":") || len(part) < 2 {
			continue
		}
		atoms = append(atoms, part[1:])
	}
	return atoms
}

// Unquote strips one matching pair of double or single quotes.
func Unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// Atom strips a leading colon from an atom literal, leaving other
// values untouched.
func Atom(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, ":") {
		return s[1:]
	}
	return s
}

// TruthyOpt reports whether a keyword option value is the literal true.
func TruthyOpt(s string) bool {
	return strings.TrimSpace(s) == "true"
}
