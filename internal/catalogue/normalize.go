package catalogue

import (
	"strconv"
	"strings"
)

// Normalize coerces an extracted value into the field's canonical shape.
// Returns nil when the value cannot be coerced; callers treat nil as "no
// usable value".
func (f Field) Normalize(value any) any {
	if value == nil {
		return nil
	}
	switch f.Type {
	case TypeNumber, TypeYear:
		return normalizeNumber(value)
	case TypeEmail:
		s := strings.ToLower(strings.TrimSpace(toString(value)))
		if s == "" {
			return nil
		}
		return s
	case TypePhone:
		return normalizePhone(toString(value))
	case TypeMultiSelect:
		return normalizeList(value)
	default:
		s := strings.TrimSpace(toString(value))
		if s == "" {
			return nil
		}
		return s
	}
}

// Valid reports whether a normalized value satisfies the field's
// constraints.
func (f Field) Valid(value any) bool {
	if value == nil {
		return false
	}
	switch f.Type {
	case TypeNumber, TypeYear:
		n, ok := value.(int)
		if !ok {
			return false
		}
		if f.MaxValue > f.MinValue && (n < f.MinValue || n > f.MaxValue) {
			return false
		}
		return true
	case TypeEmail:
		s := toString(value)
		return strings.Contains(s, "@") && strings.Contains(s, ".")
	case TypePhone:
		digits := 0
		for _, r := range toString(value) {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		return digits >= 10
	case TypeSelect:
		if len(f.Options) == 0 {
			return toString(value) != ""
		}
		s := strings.ToLower(toString(value))
		for _, opt := range f.Options {
			if strings.ToLower(opt) == s {
				return true
			}
		}
		return false
	case TypeMultiSelect:
		_, ok := value.([]string)
		return ok
	default:
		s := toString(value)
		if f.MinLength > 0 && len(strings.TrimSpace(s)) < f.MinLength {
			return false
		}
		if f.MaxLength > 0 && len(s) > f.MaxLength {
			return false
		}
		return s != ""
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case int:
		return strconv.Itoa(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case []string:
		return strings.Join(s, ", ")
	default:
		return ""
	}
}

// normalizeNumber handles spoken forms like "15 years".
func normalizeNumber(v any) any {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case string:
		var digits strings.Builder
		for _, r := range n {
			if r >= '0' && r <= '9' {
				digits.WriteRune(r)
			}
		}
		if digits.Len() == 0 {
			return nil
		}
		parsed, err := strconv.Atoi(digits.String())
		if err != nil {
			return nil
		}
		return parsed
	default:
		return nil
	}
}

// normalizePhone keeps digits and a leading plus.
func normalizePhone(s string) any {
	var b strings.Builder
	for i, r := range s {
		if r >= '0' && r <= '9' || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return nil
	}
	return b.String()
}

// normalizeList accepts a comma-separated string, a []any from JSON, or an
// existing []string.
func normalizeList(v any) any {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		var out []string
		for _, item := range list {
			if s := strings.TrimSpace(toString(item)); s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(list, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return nil
	}
}
