package engine

import (
	"fmt"
	"reflect"
	"regexp"
	"runtime"
	"strings"
	"unicode"
)

var anonymousFunc = regexp.MustCompile(`^(func)?\d+$`)

// funcIdentifier returns the bare identifier of a Go function value, without
// package path, receiver or method-value suffix.
func funcIdentifier(fn any) (string, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return "", fmt.Errorf("handler is not a function: %T", fn)
	}

	rf := runtime.FuncForPC(v.Pointer())
	if rf == nil {
		return "", fmt.Errorf("cannot resolve function name for %T", fn)
	}

	full := rf.Name()
	full = strings.TrimSuffix(full, "-fm")
	full = strings.ReplaceAll(full, "[...]", "")
	if i := strings.LastIndex(full, "/"); i >= 0 {
		full = full[i+1:]
	}
	ident := full
	if i := strings.LastIndex(full, "."); i >= 0 {
		ident = full[i+1:]
	}

	if ident == "" || anonymousFunc.MatchString(ident) {
		return "", fmt.Errorf("anonymous function %s has no derivable name, use WithName", rf.Name())
	}
	return ident, nil
}

// KebabCase converts an identifier to a dash-separated lower-case name.
// Underscores, spaces and camelCase word boundaries each become a single "-":
// "secrets_setup", "SecretsSetup" and "secretsSetup" all yield "secrets-setup".
func KebabCase(ident string) string {
	runes := []rune(ident)
	var sb strings.Builder
	sb.Grow(len(runes) + 4)

	dash := func() {
		s := sb.String()
		if s != "" && !strings.HasSuffix(s, "-") {
			sb.WriteByte('-')
		}
	}

	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || unicode.IsSpace(r):
			dash()
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					dash()
				}
			}
			sb.WriteRune(unicode.ToLower(r))
		default:
			sb.WriteRune(r)
		}
	}

	return strings.Trim(sb.String(), "-")
}
