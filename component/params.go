package component

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/c360/orchd/errors"
)

// Params is the string map of template properties and parameters with
// typed accessors. Missing or empty keys yield the default; malformed
// values are reported as invalid configuration.
type Params map[string]string

// MaxStringLength bounds a single parameter value.
const MaxStringLength = 4096

// String returns the value of key with control characters removed.
func (p Params) String(key, def string) string {
	v, ok := p[key]
	if !ok || v == "" || len(v) > MaxStringLength {
		return def
	}
	return strings.Map(func(r rune) rune {
		if r == '\x00' || (r < 32 && r != '\t' && r != '\n' && r != '\r') {
			return -1
		}
		return r
	}, v)
}

// Required returns the value of key or a missing-config error.
func (p Params) Required(key string) (string, error) {
	v := p.String(key, "")
	if v == "" {
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrMissingConfig, key),
			"Params", "Required", "lookup "+key)
	}
	return v, nil
}

// Int returns the value of key as an int.
func (p Params) Int(key string, def int) (int, error) {
	v := p.String(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < math.MinInt32 || n > math.MaxInt32 {
		return def, invalidParam(key, v)
	}
	return n, nil
}

// Float returns the value of key as a float64.
func (p Params) Float(key string, def float64) (float64, error) {
	v := p.String(key, "")
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return def, invalidParam(key, v)
	}
	return f, nil
}

// Bool returns the value of key as a bool.
func (p Params) Bool(key string, def bool) (bool, error) {
	v := p.String(key, "")
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, invalidParam(key, v)
	}
	return b, nil
}

// Duration returns the value of key as a duration. Plain numbers are
// seconds.
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	v := p.String(key, "")
	if v == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		if d < 0 {
			return def, invalidParam(key, v)
		}
		return d, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return def, invalidParam(key, v)
	}
	return time.Duration(f * float64(time.Second)), nil
}

// List splits a comma separated value, trimming blanks.
func (p Params) List(key string) []string {
	v := p.String(key, "")
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Prefixed returns the entries whose key starts with prefix, with the
// prefix removed. Used for "header.<Name>" style properties.
func (p Params) Prefixed(prefix string) map[string]string {
	out := make(map[string]string)
	for k, v := range p {
		if name, ok := strings.CutPrefix(k, prefix); ok && name != "" {
			out[name] = v
		}
	}
	return out
}

func invalidParam(key, value string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s=%q", errors.ErrInvalidConfig, key, value),
		"Params", "parse", "parse "+key)
}
