package visibility

import (
	"fmt"
	"strconv"
	"strings"
)

// Bind rewrites :name placeholders in query into pgx positional placeholders and
// returns the matching argument list. A name used twice binds to the same position.
// Placeholders inside quoted literals or identifiers and :: casts are left untouched.
func Bind(query string, params map[string]any) (string, []any, error) {
	var (
		sb    strings.Builder
		args  []any
		index = map[string]int{}
	)
	sb.Grow(len(query))
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'' || ch == '"':
			end := strings.IndexByte(query[i+1:], ch)
			if end < 0 {
				return "", nil, fmt.Errorf("bind: unterminated %c at offset %d", ch, i)
			}
			sb.WriteString(query[i : i+end+2])
			i += end + 1
		case ch == ':' && i+1 < len(query) && query[i+1] == ':':
			sb.WriteString("::")
			i++
		case ch == ':' && i+1 < len(query) && isNameStart(query[i+1]):
			j := i + 1
			for j < len(query) && isNamePart(query[j]) {
				j++
			}
			name := query[i+1 : j]
			pos, ok := index[name]
			if !ok {
				v, found := params[name]
				if !found {
					return "", nil, fmt.Errorf("bind: missing parameter %q", name)
				}
				args = append(args, v)
				pos = len(args)
				index[name] = pos
			}
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(pos))
			i = j - 1
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String(), args, nil
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNamePart(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}
