package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	yaml "go.yaml.in/yaml/v3"
)

// Format is the on-disk encoding inferred from the file extension.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// CoerceToJSON converts YAML or TOML to JSON so one strict JSON decoder
// (DisallowUnknownFields) serves every format.
func CoerceToJSON(path string, data []byte) ([]byte, Format, error) {
	format := FormatOf(path)
	var v any
	switch format {
	case FormatJSON:
		return data, format, nil
	case FormatYAML:
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, format, fmt.Errorf("yaml unmarshal: %w", err)
		}
		v = normalizeKeys(v)
	case FormatTOML:
		m := map[string]any{}
		if _, err := toml.Decode(string(data), &m); err != nil {
			return nil, format, fmt.Errorf("toml decode: %w", err)
		}
		v = m
	}
	j, err := json.Marshal(v)
	if err != nil {
		return nil, format, fmt.Errorf("%s->json marshal: %w", format, err)
	}
	return j, format, nil
}

// Encode renders v in the format chosen by path. Used when descbot writes
// files back (description catalog, example files).
func Encode(path string, v any) ([]byte, error) {
	switch FormatOf(path) {
	case FormatYAML:
		return yaml.Marshal(v)
	case FormatTOML:
		var b strings.Builder
		if err := toml.NewEncoder(&b).Encode(v); err != nil {
			return nil, err
		}
		return []byte(b.String()), nil
	default:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	}
}

// normalizeKeys makes every map key a string so the value is JSON-marshalable.
func normalizeKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalizeKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalizeKeys(x[i])
		}
		return x
	default:
		return in
	}
}
