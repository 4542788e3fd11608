// Package policy holds the category whitelists that gate feature writes and reads.
//
// A CategoryPolicy is built once at startup and never mutated afterwards, so it is
// safe to share between request goroutines without locking.
package policy

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/featurestore/pkg/apperrors"
)

// CategoryPolicy is the write/read category whitelist
type CategoryPolicy struct {
	write map[string]struct{}
	read  map[string]struct{}
}

// File is the on-disk YAML form of a policy
type File struct {
	WriteCategories []string `yaml:"write_categories"`
	ReadCategories  []string `yaml:"read_categories"`
}

// New creates a policy from explicit category lists
func New(writeCategories, readCategories []string) *CategoryPolicy {
	return &CategoryPolicy{
		write: toSet(writeCategories),
		read:  toSet(readCategories),
	}
}

// LoadFile reads a YAML policy file
func LoadFile(path string) (*CategoryPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read category policy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML policy document
func Parse(data []byte) (*CategoryPolicy, error) {
	// A truncated file mid-write must not become an allow-nothing policy.
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("invalid category policy: document is empty")
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid category policy: %w", err)
	}
	return New(f.WriteCategories, f.ReadCategories), nil
}

// SplitList splits a comma separated category list
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func toSet(categories []string) map[string]struct{} {
	set := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		set[c] = struct{}{}
	}
	return set
}

// AllowsWrite reports whether category may be written
func (p *CategoryPolicy) AllowsWrite(category string) bool {
	_, ok := p.write[category]
	return ok
}

// AllowsRead reports whether category may be read
func (p *CategoryPolicy) AllowsRead(category string) bool {
	_, ok := p.read[category]
	return ok
}

// ValidateForWrite rejects categories outside the write whitelist.
// It runs before any store access.
func (p *CategoryPolicy) ValidateForWrite(category string) error {
	if !p.AllowsWrite(category) {
		return apperrors.Validationf("category '%s' is not allowed for write operations", category)
	}
	return nil
}

// ValidateForRead is the strict check for single-category reads
func (p *CategoryPolicy) ValidateForRead(category string) error {
	if !p.AllowsRead(category) {
		return apperrors.Validationf("category '%s' is not allowed for read operations", category)
	}
	return nil
}

// PartitionForRead splits categories into readable and unreadable ones, keeping
// request order. Pure policy evaluation: nothing here touches the store.
func (p *CategoryPolicy) PartitionForRead(categories []string) (allowed, disallowed []string) {
	allowed = make([]string, 0, len(categories))
	disallowed = make([]string, 0)
	for _, c := range categories {
		if p.AllowsRead(c) {
			allowed = append(allowed, c)
		} else {
			disallowed = append(disallowed, c)
		}
	}
	return allowed, disallowed
}

// WriteCategories returns the sorted write whitelist
func (p *CategoryPolicy) WriteCategories() []string {
	return sortedKeys(p.write)
}

// ReadCategories returns the sorted read whitelist
func (p *CategoryPolicy) ReadCategories() []string {
	return sortedKeys(p.read)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Source yields the policy snapshot in effect for a request
type Source interface {
	Current() *CategoryPolicy
}

// Current returns p itself, so a static policy is a Source
func (p *CategoryPolicy) Current() *CategoryPolicy {
	return p
}
