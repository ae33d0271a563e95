package uritemplate

import (
	"strconv"
	"strings"

	"mcpfabric/pkg/mcperr"
)

// Expand renders t with the given named params, per spec.md §4.4's
// expansion rule: format per type, fall back to a declared default,
// emit nothing for an absent optional, fail otherwise.
func Expand(t *Template, params map[string]interface{}) (string, error) {
	var b strings.Builder
	for _, seg := range t.Segments {
		if seg.IsLiteral {
			b.WriteString(seg.Literal)
			continue
		}

		val, present := params[seg.Name]
		if !present {
			if seg.HasDefault {
				b.WriteString(seg.Default)
				continue
			}
			if seg.Optional {
				continue
			}
			return "", mcperr.Newf(mcperr.InvalidParams, "uritemplate: missing required param %q", seg.Name)
		}

		formatted, err := formatValue(seg, val)
		if err != nil {
			return "", err
		}
		b.WriteString(formatted)
	}
	return b.String(), nil
}

func formatValue(seg Segment, val interface{}) (string, error) {
	switch seg.Type {
	case TypeInt:
		switch v := val.(type) {
		case int:
			return strconv.Itoa(v), nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		}
		return "", mcperr.Newf(mcperr.InvalidParams, "uritemplate: param %q is not an int", seg.Name)
	case TypeFloat:
		switch v := val.(type) {
		case float64:
			return strconv.FormatFloat(v, 'g', -1, 64), nil
		case float32:
			return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
		}
		return "", mcperr.Newf(mcperr.InvalidParams, "uritemplate: param %q is not a float", seg.Name)
	case TypeBool:
		b, ok := val.(bool)
		if !ok {
			return "", mcperr.Newf(mcperr.InvalidParams, "uritemplate: param %q is not a bool", seg.Name)
		}
		if b {
			return "true", nil
		}
		return "false", nil
	default:
		s, ok := val.(string)
		if !ok {
			return "", mcperr.Newf(mcperr.InvalidParams, "uritemplate: param %q is not a string", seg.Name)
		}
		return s, nil
	}
}
