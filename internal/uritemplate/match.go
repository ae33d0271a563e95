package uritemplate

import (
	"strconv"
	"strings"
)

// Match walks uri against t's segment list, per spec.md §4.4's matching
// rule. A placeholder segment consumes bytes up to the first occurrence
// of the next literal segment's leading byte (or the rest of the URI if
// it is the last segment). Returns the extracted, typed parameter set
// and true on a full match, or nil/false otherwise.
func Match(t *Template, uri string) (map[string]interface{}, bool) {
	result := make(map[string]interface{})
	pos := 0

	for i, seg := range t.Segments {
		if seg.IsLiteral {
			if !strings.HasPrefix(uri[pos:], seg.Literal) {
				return nil, false
			}
			pos += len(seg.Literal)
			continue
		}

		span, ok := captureSpan(t.Segments, i, uri, pos)
		if !ok {
			return nil, false
		}

		if span == "" {
			if !seg.Optional {
				return nil, false
			}
			if seg.HasDefault {
				val, ok := typedDefault(seg)
				if !ok {
					return nil, false
				}
				result[seg.Name] = val
			}
			continue
		}

		val, ok := validateTyped(seg, span)
		if !ok {
			return nil, false
		}
		result[seg.Name] = val
		pos += len(span)
	}

	if pos != len(uri) {
		return nil, false
	}
	return result, true
}

// captureSpan determines the substring a placeholder at index i
// consumes, scanning forward to the next literal segment's first byte,
// or to the end of the URI if no literal segment follows.
func captureSpan(segments []Segment, i int, uri string, pos int) (string, bool) {
	for j := i + 1; j < len(segments); j++ {
		if segments[j].IsLiteral {
			if segments[j].Literal == "" {
				continue
			}
			delim := segments[j].Literal[0]
			idx := strings.IndexByte(uri[pos:], delim)
			if idx == -1 {
				return "", false
			}
			return uri[pos : pos+idx], true
		}
	}
	return uri[pos:], true
}

func typedDefault(seg Segment) (interface{}, bool) {
	return validateTyped(seg, seg.Default)
}

func validateTyped(seg Segment, span string) (interface{}, bool) {
	switch seg.Type {
	case TypeInt:
		n, err := strconv.ParseInt(span, 10, 64)
		if err != nil || !isDigitsWithOptionalSign(span) {
			return nil, false
		}
		return n, true
	case TypeFloat:
		f, err := strconv.ParseFloat(span, 64)
		if err != nil {
			return nil, false
		}
		return f, true
	case TypeBool:
		switch span {
		case "true":
			return true, true
		case "false":
			return false, true
		default:
			return nil, false
		}
	case TypePattern:
		if !matchGlob(seg.GlobPattern, span) {
			return nil, false
		}
		return span, true
	default:
		return span, true
	}
}

func isDigitsWithOptionalSign(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '-' {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// matchGlob matches span against the restricted glob syntax spec.md
// §4.4 allows: '*' matches any run of non-'/' characters, every other
// character matches itself literally.
func matchGlob(pattern, span string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == span
	}

	if !strings.HasPrefix(span, parts[0]) {
		return false
	}
	span = span[len(parts[0]):]

	for idx := 1; idx < len(parts); idx++ {
		part := parts[idx]
		last := idx == len(parts)-1
		if part == "" {
			if last {
				return !strings.Contains(span, "/")
			}
			continue
		}
		if last {
			if !strings.HasSuffix(span, part) {
				return false
			}
			rest := span[:len(span)-len(part)]
			return !strings.Contains(rest, "/")
		}
		at := strings.Index(span, part)
		if at == -1 {
			return false
		}
		if strings.Contains(span[:at], "/") {
			return false
		}
		span = span[at+len(part):]
	}
	return true
}
