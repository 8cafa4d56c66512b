// Package facts resolves fact IDs against the loaded fact packs.
//
// A fact pack is a JSON or YAML file holding a list of facts. Facts are
// immutable once loaded; the catalog is built once at startup.
package facts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxPackSize caps a single pack file.
const MaxPackSize = 5 << 20

// ErrNotFound is returned by Get for unknown fact IDs.
var ErrNotFound = errors.New("fact not found")

type Fact struct {
	ID       string   `json:"id" yaml:"id"`
	Text     string   `json:"text" yaml:"text"`
	Category string   `json:"category,omitempty" yaml:"category,omitempty"`
	Emojis   []string `json:"emojis,omitempty" yaml:"emojis,omitempty"`
	FactPack string   `json:"factPack,omitempty" yaml:"factPack,omitempty"`
}

// Catalog answers whether a fact exists.
type Catalog interface {
	Exists(factID string) bool
}

// Open accepts every non-empty fact ID. Used when no packs are configured.
type Open struct{}

func (Open) Exists(factID string) bool { return strings.TrimSpace(factID) != "" }

// Static is an in-memory catalog built from fact packs.
type Static struct {
	facts map[string]Fact
	packs []string
}

// NewStatic builds a catalog from facts. Later duplicates are rejected.
func NewStatic(facts []Fact) (*Static, error) {
	s := &Static{facts: make(map[string]Fact, len(facts))}
	if err := s.add(facts, ""); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Static) add(facts []Fact, pack string) error {
	for i, f := range facts {
		f.ID = strings.TrimSpace(f.ID)
		if f.ID == "" {
			return fmt.Errorf("fact #%d in %q has no id", i, pack)
		}
		if _, dup := s.facts[f.ID]; dup {
			return fmt.Errorf("duplicate fact id %q in %q", f.ID, pack)
		}
		if f.FactPack == "" {
			f.FactPack = pack
		}
		s.facts[f.ID] = f
	}
	return nil
}

func (s *Static) Exists(factID string) bool {
	_, ok := s.facts[strings.TrimSpace(factID)]
	return ok
}

func (s *Static) Get(factID string) (Fact, error) {
	f, ok := s.facts[strings.TrimSpace(factID)]
	if !ok {
		return Fact{}, ErrNotFound
	}
	return f, nil
}

// Len is the number of loaded facts.
func (s *Static) Len() int { return len(s.facts) }

// Packs lists the pack names that were loaded, sorted.
func (s *Static) Packs() []string { return append([]string(nil), s.packs...) }

// LoadDir reads every *.json, *.yaml and *.yml file in dir. A fact without a
// factPack tag inherits the file name.
func LoadDir(dir string) (*Static, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read fact pack dir: %w", err)
	}
	s := &Static{facts: make(map[string]Fact)}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		facts, err := readPack(filepath.Join(dir, name), ext)
		if err != nil {
			return nil, fmt.Errorf("load fact pack %s: %w", name, err)
		}
		if err := s.add(facts, name); err != nil {
			return nil, err
		}
		s.packs = append(s.packs, name)
	}
	sort.Strings(s.packs)
	return s, nil
}

func readPack(path, ext string) ([]Fact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxPackSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxPackSize {
		return nil, fmt.Errorf("pack exceeds %d bytes", MaxPackSize)
	}

	var facts []Fact
	switch ext {
	case ".json":
		err = json.Unmarshal(data, &facts)
	default:
		err = yaml.Unmarshal(data, &facts)
	}
	if err != nil {
		return nil, err
	}
	return facts, nil
}
