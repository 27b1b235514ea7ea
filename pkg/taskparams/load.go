// Package taskparams loads the params and secrets of a golivy task from
// YAML or JSON files and the environment.
package taskparams

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/3leaps/golivy/pkg/operator"
)

// SecretEnvPrefix marks environment variables that carry secrets:
// GOLIVY_SECRET_PASSWORD becomes the secret "password".
const SecretEnvPrefix = "GOLIVY_SECRET_"

// Load reads, validates and decodes a params file.
//
// The format is picked by extension (.json, .yaml, .yml); anything else is
// tried as YAML, which also accepts JSON.
func Load(path string) (operator.Params, error) {
	data, err := readFile(path, "params")
	if err != nil {
		return nil, err
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes is Load on in-memory data. path is only used for format
// detection and messages.
func LoadFromBytes(data []byte, path string) (operator.Params, error) {
	raw, jsonData, err := decode(data, path, "params")
	if err != nil {
		return nil, err
	}
	if err := ValidateParams(jsonData); err != nil {
		return nil, err
	}
	return operator.NewParams(raw), nil
}

// LoadSecrets merges the secrets file at path (optional) with
// GOLIVY_SECRET_* entries from environ. Environment entries win.
func LoadSecrets(path string, environ []string) (operator.MapSecrets, error) {
	out := operator.MapSecrets{}

	if strings.TrimSpace(path) != "" {
		data, err := readFile(path, "secrets")
		if err != nil {
			return nil, err
		}
		raw, jsonData, err := decode(data, path, "secrets")
		if err != nil {
			return nil, err
		}
		if err := ValidateSecrets(jsonData); err != nil {
			return nil, err
		}
		for k, v := range raw {
			out[strings.ToLower(k)] = fmt.Sprint(v)
		}
	}

	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, SecretEnvPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, SecretEnvPrefix))
		if key == "" {
			continue
		}
		out[key] = value
	}
	return out, nil
}

// Keys returns the sorted secret keys, for logging without values.
func Keys(s operator.MapSecrets) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func readFile(path, what string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s file not found: %s", what, path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading %s: %s", what, path)
		}
		return nil, fmt.Errorf("failed to read %s file: %w", what, err)
	}
	return data, nil
}

func decode(data []byte, path, what string) (map[string]any, []byte, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil, fmt.Errorf("%s file is empty", what)
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, nil, fmt.Errorf("invalid JSON in %s: %w", what, err)
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, nil, fmt.Errorf("invalid YAML in %s: %w", what, err)
		}
	}
	if raw == nil {
		return nil, nil, errors.New(what + " must be a mapping")
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert %s to JSON: %w", what, err)
	}
	return raw, jsonData, nil
}
