package config

import (
	"fmt"
	"os"
	"regexp"
)

// placeholderPattern matches a value that is exactly ${NAME}. Partial matches inside longer strings are left alone.
var placeholderPattern = regexp.MustCompile(`^\$\{([A-Z0-9_]+)\}$`)

// LookupFunc returns the value of an environment variable and whether it is set.
type LookupFunc func(string) (string, bool)

// Resolve walks nested maps and sequences and replaces every ${NAME} placeholder using lookup.
// The same rule applies at every depth. The input is not modified.
func Resolve(in any, lookup LookupFunc) (any, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return resolve(in, lookup, "")
}

func resolve(in any, lookup LookupFunc, path string) (any, error) {
	switch v := in.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			resolved, err := resolve(item, lookup, join(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			key := fmt.Sprint(k)
			resolved, err := resolve(item, lookup, join(path, key))
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := resolve(item, lookup, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := resolve(item, lookup, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case string:
		m := placeholderPattern.FindStringSubmatch(v)
		if m == nil {
			return v, nil
		}
		value, ok := lookup(m[1])
		if !ok {
			return nil, fmt.Errorf("%w: %s (referenced by %s)", ErrMissingEnv, m[1], path)
		}
		return value, nil
	default:
		return v, nil
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
