package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/jarvis/internal/observability"
)

// Manifest overrides the remote tool catalog.
type Manifest struct {
	// IncludeDefaults keeps the built-in catalog underneath Tools.
	IncludeDefaults bool `yaml:"include_defaults" json:"include_defaults"`
	// Endpoint applies to every tool in this manifest without its own.
	Endpoint string         `yaml:"endpoint" json:"endpoint"`
	Disabled []string       `yaml:"disabled" json:"disabled"`
	Tools    []ManifestTool `yaml:"tools" json:"tools"`
}

type ManifestTool struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Endpoint    string         `yaml:"endpoint" json:"endpoint"`
	Parameters  map[string]any `yaml:"parameters" json:"parameters"`
}

// LoadManifest reads a YAML, JSON or JSON5 manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool manifest: %w", err)
	}
	manifest, err := ParseManifest(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return manifest, nil
}

// ParseManifest decodes JSON/JSON5 by extension and YAML otherwise.
func ParseManifest(data []byte, ext string) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(ext) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &m); err != nil {
			return nil, err
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}
	return &m, nil
}

// Definitions resolves the manifest into remote definitions. Manifest tools
// replace same-named defaults.
func (m *Manifest) Definitions() ([]Definition, error) {
	var defs []Definition
	index := map[string]int{}
	add := func(def Definition) {
		if i, ok := index[def.Name]; ok {
			defs[i] = def
			return
		}
		index[def.Name] = len(defs)
		defs = append(defs, def)
	}

	if m.IncludeDefaults {
		for _, def := range DefaultRemoteDefinitions() {
			add(def)
		}
	}
	for i, t := range m.Tools {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("tools[%d]: name is required", i)
		}
		var params json.RawMessage
		if t.Parameters != nil {
			encoded, err := json.Marshal(t.Parameters)
			if err != nil {
				return nil, fmt.Errorf("tools[%d]: encode parameters: %w", i, err)
			}
			params = encoded
		}
		endpoint := t.Endpoint
		if endpoint == "" {
			endpoint = m.Endpoint
		}
		if endpoint != "" {
			if err := validateEndpoint(endpoint); err != nil {
				return nil, fmt.Errorf("tools[%d]: %w", i, err)
			}
		}
		add(Definition{Name: name, Description: t.Description, Parameters: params, Kind: Remote, Endpoint: endpoint})
	}
	return withoutDisabled(defs, m.Disabled), nil
}

// RemoteDefinitions loads the catalog from path, or the defaults when path
// is empty, and drops disabled names.
func RemoteDefinitions(path string, disabled []string) ([]Definition, error) {
	if strings.TrimSpace(path) == "" {
		return withoutDisabled(DefaultRemoteDefinitions(), disabled), nil
	}
	manifest, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	defs, err := manifest.Definitions()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return withoutDisabled(defs, disabled), nil
}

func withoutDisabled(defs []Definition, disabled []string) []Definition {
	if len(disabled) == 0 {
		return defs
	}
	skip := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		skip[strings.TrimSpace(name)] = true
	}
	out := defs[:0:0]
	for _, def := range defs {
		if !skip[def.Name] {
			out = append(out, def)
		}
	}
	return out
}

// ManifestWatcher reloads the remote table whenever the manifest changes.
// A manifest that fails to load leaves the previous table in place.
type ManifestWatcher struct {
	path       string
	disabled   []string
	dispatcher *Dispatcher
	logger     *observability.Logger
	debounce   time.Duration
	onReload   func(count int, err error)
}

type WatcherOption func(*ManifestWatcher)

func WithWatchDebounce(d time.Duration) WatcherOption {
	return func(w *ManifestWatcher) { w.debounce = d }
}

func WithWatchLogger(l *observability.Logger) WatcherOption {
	return func(w *ManifestWatcher) {
		if l != nil {
			w.logger = l
		}
	}
}

func WithDisabledTools(names []string) WatcherOption {
	return func(w *ManifestWatcher) { w.disabled = names }
}

// OnReload is called after every reload attempt.
func OnReload(fn func(count int, err error)) WatcherOption {
	return func(w *ManifestWatcher) { w.onReload = fn }
}

func NewManifestWatcher(path string, dispatcher *Dispatcher, opts ...WatcherOption) *ManifestWatcher {
	w := &ManifestWatcher{
		path:       filepath.Clean(path),
		dispatcher: dispatcher,
		logger:     observability.NopLogger(),
		debounce:   250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Reload reads the manifest and swaps it into the dispatcher.
func (w *ManifestWatcher) Reload() error {
	defs, err := RemoteDefinitions(w.path, w.disabled)
	if err == nil {
		err = w.dispatcher.ReplaceRemote(defs)
	}
	if w.onReload != nil {
		w.onReload(len(defs), err)
	}
	if err != nil {
		return err
	}
	w.logger.Info(context.Background(), "tool manifest loaded", "path", w.path, "tools", len(defs))
	return nil
}

// Run watches the manifest's directory until ctx is done. Editors often
// replace files by rename, so the directory is watched rather than the file.
func (w *ManifestWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create manifest watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			if err := w.Reload(); err != nil {
				w.logger.Warn(context.Background(), "tool manifest reload failed", "path", w.path, "error", err)
			}
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "tool manifest watch error", "error", err)
		}
	}
}
