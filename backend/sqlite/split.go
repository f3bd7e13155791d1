package sqlite

import "strings"

// splitStatements splits a script on semicolons outside string literals,
// quoted identifiers and comments. Leading comments are removed and
// statements left empty are dropped.
func splitStatements(script string) []string {
	var out []string
	add := func(stmt string) {
		if stmt = strings.TrimSpace(trimLeading(stmt)); stmt != "" {
			out = append(out, stmt)
		}
	}

	start := 0
	for i := 0; i < len(script); i++ {
		switch c := script[i]; c {
		case '\'', '"', '`':
			i = closing(script, i, c)
		case '[':
			i = indexFrom(script, i+1, "]")
		case '-':
			if strings.HasPrefix(script[i:], "--") {
				i = indexFrom(script, i+2, "\n")
			}
		case '/':
			if strings.HasPrefix(script[i:], "/*") {
				i = indexFrom(script, i+2, "*/") + 1
			}
		case ';':
			add(script[start:i])
			start = i + 1
		}
	}
	if start < len(script) {
		add(script[start:])
	}
	return out
}

// closing returns the index of the quote ending the literal that starts at
// open. Doubled quotes are escapes.
func closing(s string, open int, q byte) int {
	for j := open + 1; j < len(s); j++ {
		if s[j] != q {
			continue
		}
		if j+1 < len(s) && s[j+1] == q {
			j++
			continue
		}
		return j
	}
	return len(s) - 1
}

// indexFrom returns the index of sep at or after from, or the last index
// of s when there is none.
func indexFrom(s string, from int, sep string) int {
	if from > len(s) {
		return len(s) - 1
	}
	if j := strings.Index(s[from:], sep); j >= 0 {
		return from + j
	}
	return len(s) - 1
}

// trimLeading drops whitespace and comments from the start of stmt.
func trimLeading(stmt string) string {
	for i := 0; i < len(stmt); i++ {
		switch {
		case stmt[i] == ' ' || stmt[i] == '\t' || stmt[i] == '\n' || stmt[i] == '\r':
		case strings.HasPrefix(stmt[i:], "--"):
			i = indexFrom(stmt, i+2, "\n")
		case strings.HasPrefix(stmt[i:], "/*"):
			i = indexFrom(stmt, i+2, "*/") + 1
		default:
			return stmt[i:]
		}
	}
	return ""
}
