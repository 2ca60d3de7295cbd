package keyrotor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/ast"
)

// geminiKeyFormat matches Google API keys: "AIza" followed by 35 URL-safe characters.
var geminiKeyFormat = regexp.MustCompile(`^AIza[0-9A-Za-z_-]{35}$`)

// Entry is one name/value pair of a key file, in file order.
type Entry struct {
	Name  string
	Value string
}

// KeyFilter decides which key file entries are rotation candidates.
type KeyFilter struct {
	// NameContains is matched case-insensitively against the entry name.
	NameContains string
	// Format must match the entry value.
	Format *regexp.Regexp
}

// DefaultKeyFilter accepts entries named like "gemini..." holding a Google API key.
func DefaultKeyFilter() KeyFilter {
	return KeyFilter{NameContains: "gemini", Format: geminiKeyFormat}
}

// Accepts reports whether e passes the filter.
func (f KeyFilter) Accepts(e Entry) bool {
	if f.NameContains != "" && !strings.Contains(strings.ToLower(e.Name), strings.ToLower(f.NameContains)) {
		return false
	}
	if f.Format != nil && !f.Format.MatchString(strings.TrimSpace(e.Value)) {
		return false
	}
	return true
}

// ParseEntries parses a flat JSON object into entries, preserving key order.
// Non-string values are skipped.
func ParseEntries(data []byte) ([]Entry, error) {
	if !sonic.Valid(data) {
		return nil, errors.New("keyrotor: key file is not valid JSON")
	}

	root, err := sonic.Get(data)
	if err != nil {
		return nil, fmt.Errorf("keyrotor: parse key file: %w", err)
	}
	if root.Type() != ast.V_OBJECT {
		return nil, errors.New("keyrotor: key file must be a JSON object")
	}

	var (
		entries []Entry
		walkErr error
	)
	err = root.ForEach(func(path ast.Sequence, node *ast.Node) bool {
		if path.Key == nil || node.Type() != ast.V_STRING {
			return true
		}
		v, err := node.String()
		if err != nil {
			walkErr = err
			return false
		}
		entries = append(entries, Entry{Name: *path.Key, Value: v})
		return true
	})
	if err == nil {
		err = walkErr
	}
	if err != nil {
		return nil, fmt.Errorf("keyrotor: parse key file: %w", err)
	}
	return entries, nil
}

// FilterKeys returns the deduplicated values of entries accepted by f, in order.
func FilterKeys(entries []Entry, f KeyFilter) []string {
	var keys []string
	for _, e := range entries {
		if f.Accepts(e) {
			keys = append(keys, strings.TrimSpace(e.Value))
		}
	}
	return dedupeKeys(keys)
}

// KeysFromJSON parses key file contents and returns the keys accepted by
// the default filter, in file order.
func KeysFromJSON(data []byte) ([]string, error) {
	entries, err := ParseEntries(data)
	if err != nil {
		return nil, err
	}
	return FilterKeys(entries, DefaultKeyFilter()), nil
}

// LoadKeys reads a JSON key file and returns its valid Gemini keys.
// A missing or malformed file is logged and yields an empty list.
func LoadKeys(path string, logger *slog.Logger) []string {
	return LoadKeysFiltered(path, DefaultKeyFilter(), logger)
}

// LoadKeysFiltered is LoadKeys with a custom filter.
func LoadKeysFiltered(path string, f KeyFilter, logger *slog.Logger) []string {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("key_file_unavailable", "path", path, "error", err)
		return []string{}
	}

	entries, err := ParseEntries(data)
	if err != nil {
		logger.Warn("key_file_malformed", "path", path, "error", err)
		return []string{}
	}

	keys := FilterKeys(entries, f)
	for _, e := range entries {
		if f.NameContains != "" && strings.Contains(strings.ToLower(e.Name), strings.ToLower(f.NameContains)) && !f.Accepts(e) {
			logger.Warn("key_entry_rejected", "name", e.Name, "value", MaskKey(e.Value))
		}
	}
	if len(keys) == 0 {
		logger.Warn("key_file_empty", "path", path)
	}
	return keys
}

// ParseKeyList splits a comma-separated key list, dropping blanks and duplicates.
func ParseKeyList(s string) []string {
	if s == "" {
		return []string{}
	}
	return dedupeKeys(strings.Split(s, ","))
}
