package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

// LoadRaw reads a configuration file into a raw map. Files listed under
// "$include" are loaded first (relative to the including file) and the
// including file's own keys are merged over them. ${VAR} references are
// expanded from the environment before parsing.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	l := &rawLoader{active: map[string]bool{}}
	return l.load(path)
}

type rawLoader struct {
	active map[string]bool
}

func (l *rawLoader) load(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if l.active[abs] {
		return nil, fmt.Errorf("config include cycle detected at %s", abs)
	}
	l.active[abs] = true
	defer delete(l.active, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument([]byte(os.ExpandEnv(string(data))), filepath.Ext(abs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	includes, err := popIncludes(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	merged := map[string]any{}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		child, err := l.load(inc)
		if err != nil {
			return nil, err
		}
		deepMerge(merged, child)
	}
	deepMerge(merged, doc)
	return merged, nil
}

// parseDocument decodes JSON/JSON5 by extension and YAML otherwise.
func parseDocument(data []byte, ext string) (map[string]any, error) {
	out := map[string]any{}
	switch strings.ToLower(ext) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &out); err != nil {
			return nil, err
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&out); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return nil, errors.New("expected a single YAML document")
		}
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func popIncludes(doc map[string]any) ([]string, error) {
	v, ok := doc[includeKey]
	if !ok {
		return nil, nil
	}
	delete(doc, includeKey)

	switch typed := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(typed) == "" {
			return nil, nil
		}
		return []string{typed}, nil
	case []any:
		paths := make([]string, 0, len(typed))
		for _, entry := range typed {
			s, ok := entry.(string)
			if !ok {
				return nil, errors.New("$include entries must be strings")
			}
			if strings.TrimSpace(s) != "" {
				paths = append(paths, s)
			}
		}
		return paths, nil
	default:
		return nil, errors.New("$include must be a string or list of strings")
	}
}

// deepMerge copies src into dst, merging nested maps key by key.
func deepMerge(dst, src map[string]any) {
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			deepMerge(dstMap, srcMap)
			continue
		}
		dst[key] = value
	}
}

// decodeRawConfig re-encodes the merged map and decodes it strictly so unknown
// keys are rejected regardless of the source format.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
