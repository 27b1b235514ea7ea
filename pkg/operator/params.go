package operator

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// NestedKey is the params block whose entries act as defaults for the
// top-level params.
const NestedKey = "livy"

// Params are the task parameters of one Livy task.
//
// Values are loosely typed: "4" and 4 both decode as an int, and a single
// string decodes as a one-element list.
type Params map[string]any

// NewParams returns raw with the entries of its nested livy block merged in
// as defaults. Top-level keys win.
func NewParams(raw map[string]any) Params {
	out := make(Params, len(raw))
	if nested, ok := raw[NestedKey].(map[string]any); ok {
		for k, v := range nested {
			out[k] = v
		}
	}
	for k, v := range raw {
		if k == NestedKey {
			continue
		}
		out[k] = v
	}
	return out
}

func (p Params) lookup(key string) (any, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// String returns the value of key. ok is false when key is absent.
func (p Params) String(key string) (string, bool, error) {
	var s string
	ok, err := p.decode(key, &s)
	return s, ok, err
}

func (p Params) Int(key string) (int, bool, error) {
	var n int
	ok, err := p.decode(key, &n)
	return n, ok, err
}

func (p Params) Bool(key string) (bool, bool, error) {
	var b bool
	ok, err := p.decode(key, &b)
	return b, ok, err
}

// Strings returns the list under key, or nil when absent.
func (p Params) Strings(key string) ([]string, error) {
	var out []string
	_, err := p.decode(key, &out)
	return out, err
}

// StringMap returns the map under key, or nil when absent.
func (p Params) StringMap(key string) (map[string]string, error) {
	var out map[string]string
	_, err := p.decode(key, &out)
	return out, err
}

func (p Params) decode(key string, out any) (bool, error) {
	v, ok := p.lookup(key)
	if !ok {
		return false, nil
	}
	if err := mapstructure.WeakDecode(v, out); err != nil {
		return false, &ConfigError{Key: key, Message: fmt.Sprintf("invalid value %v", v), Err: err}
	}
	return true, nil
}

// Secrets is the task's secret provider, scoped to Livy.
type Secrets interface {
	Secret(key string) (string, bool)
}

// MapSecrets is a Secrets backed by a map.
type MapSecrets map[string]string

func (m MapSecrets) Secret(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// NoSecrets has no secrets at all.
var NoSecrets Secrets = MapSecrets(nil)
