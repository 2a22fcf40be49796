// Package loader watches the market configuration document and publishes
// validated, versioned snapshots.
package loader

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"

	"github.com/raphalvezz/loocac/internal/logger"
	"github.com/raphalvezz/loocac/internal/scenario"
)

//go:embed market.schema.json
var marketSchemaJSON string

const marketSchemaURL = "market.schema.json"

// ErrInvalidDocument wraps JSON Schema violations.
var ErrInvalidDocument = errors.New("invalid market document")

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(marketSchemaURL, strings.NewReader(marketSchemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile(marketSchemaURL)
	})
	return schema, schemaErr
}

// ParseDocument validates raw JSON against the market schema and the
// document's own range rules.
func ParseDocument(raw []byte) (scenario.MarketDocument, error) {
	var doc scenario.MarketDocument
	sch, err := compiledSchema()
	if err != nil {
		return doc, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return doc, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := sch.Validate(generic); err != nil {
		return doc, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := doc.Validate(); err != nil {
		return doc, err
	}
	return doc, nil
}

// MarketSnapshot is one accepted version of the document.
type MarketSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Document scenario.MarketDocument
	Raw      json.RawMessage
	Catalog  *scenario.Catalog
}

type ChangeListener func(MarketSnapshot)

type Options struct {
	Watch bool
	// DefaultCPARatio fills documents that omit cpa_ratio_range.
	DefaultCPARatio [2]float64
}

// MarketLoader owns the document on disk. A missing file is not an error;
// the snapshot stays at version 0 until a document is written.
type MarketLoader struct {
	path string
	v    *viper.Viper
	opts Options

	mu        sync.RWMutex
	snapshot  MarketSnapshot
	digest    string
	listeners []ChangeListener
}

func NewMarketLoader(path string, opts Options) (*MarketLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("market loader requires path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	l := &MarketLoader{path: path, v: v, opts: opts}
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read market config failed: %w", err)
		}
		if _, err := l.reload(); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if opts.Watch {
		v.OnConfigChange(func(evt fsnotify.Event) {
			changed, err := l.reload()
			if err != nil {
				logger.Errorf("market config reload failed (%s): %v", evt.Name, err)
				return
			}
			if changed {
				l.notify()
			}
		})
		v.WatchConfig()
	}
	return l, nil
}

func (l *MarketLoader) Path() string { return l.path }

// Snapshot returns the current document; ok is false before the first one.
func (l *MarketLoader) Snapshot() (MarketSnapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot, l.snapshot.Version > 0
}

// Subscribe registers fn for future changes.
func (l *MarketLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Write validates doc, replaces the file atomically and publishes it.
func (l *MarketLoader) Write(doc scenario.MarketDocument) (MarketSnapshot, error) {
	if doc.CPARatioRange == ([2]float64{}) {
		doc.CPARatioRange = l.defaultRatio()
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return MarketSnapshot{}, err
	}
	if _, err := ParseDocument(raw); err != nil {
		return MarketSnapshot{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".market-*.json")
	if err != nil {
		return MarketSnapshot{}, err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return MarketSnapshot{}, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return MarketSnapshot{}, err
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		os.Remove(tmp.Name())
		return MarketSnapshot{}, err
	}
	changed, err := l.apply(raw)
	if err != nil {
		return MarketSnapshot{}, err
	}
	if changed {
		l.notify()
	}
	snap, _ := l.Snapshot()
	return snap, nil
}

func (l *MarketLoader) reload() (bool, error) {
	raw, err := json.Marshal(l.v.AllSettings())
	if err != nil {
		return false, err
	}
	return l.apply(raw)
}

// apply installs raw as a new version unless it matches the current one.
func (l *MarketLoader) apply(raw []byte) (bool, error) {
	doc, err := ParseDocument(raw)
	if err != nil {
		return false, err
	}
	if doc.CPARatioRange == ([2]float64{}) {
		doc.CPARatioRange = l.defaultRatio()
	}
	catalog, err := scenario.FromMarket(doc)
	if err != nil {
		return false, err
	}
	canonical, err := json.Marshal(doc)
	if err != nil {
		return false, err
	}
	sum := sha256.Sum256(canonical)
	digest := hex.EncodeToString(sum[:])

	l.mu.Lock()
	defer l.mu.Unlock()
	if digest == l.digest {
		return false, nil
	}
	l.digest = digest
	l.snapshot = MarketSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Document: doc,
		Raw:      canonical,
		Catalog:  catalog,
	}
	logger.Infof("market config v%d loaded from %s (%d scenarios)", l.snapshot.Version, filepath.Base(l.path), catalog.Len())
	return true, nil
}

func (l *MarketLoader) defaultRatio() [2]float64 {
	if l.opts.DefaultCPARatio != ([2]float64{}) {
		return l.opts.DefaultCPARatio
	}
	return scenario.DefaultCPARatio
}

func (l *MarketLoader) notify() {
	l.mu.RLock()
	snap := l.snapshot
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("market listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}
