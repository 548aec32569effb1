// Package ruleio reads rule lists and sample messages from JSON or YAML
// files and writes output files atomically. All file access goes through an
// afero.Fs.
package ruleio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/solatis/sievefold/internal/rules"
	"github.com/solatis/sievefold/internal/types"
)

// Format is a file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ErrEmptyFile indicates a rule or message file with no content.
var ErrEmptyFile = errors.New("file is empty")

// FormatOf picks the encoding from a file extension. Unknown extensions are
// read as YAML, which also accepts JSON.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// RuleFile is the content of an acquisition file: either a bare list of rule
// records or a document carrying the account and live script as well.
type RuleFile struct {
	Account     types.Account      `json:"account" yaml:"account"`
	Records     []types.RuleRecord `json:"rules" yaml:"rules"`
	SieveScript string             `json:"sieve_script,omitempty" yaml:"sieve_script,omitempty"`
}

// Rules converts the records, applying defaults and the legacy status
// migration. The rules are not validated.
func (f *RuleFile) Rules() ([]types.Rule, error) {
	return types.RulesFromRecords(f.Records)
}

// LoadRules reads an acquisition file.
func LoadRules(fsys afero.Fs, path string) (*RuleFile, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	f, err := ParseRules(data, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// ParseRules decodes an acquisition document.
func ParseRules(data []byte, format Format) (*RuleFile, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}

	var f RuleFile
	switch format {
	case FormatJSON:
		trimmed := bytes.TrimSpace(data)
		target := any(&f)
		if trimmed[0] == '[' {
			target = &f.Records
		}
		if err := json.Unmarshal(trimmed, target); err != nil {
			return nil, fmt.Errorf("decode json rules: %w", err)
		}
	case FormatYAML:
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return nil, fmt.Errorf("decode yaml rules: %w", err)
		}
		root := &node
		if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
			root = root.Content[0]
		}
		target := any(&f)
		if root.Kind == yaml.SequenceNode {
			target = &f.Records
		}
		if err := root.Decode(target); err != nil {
			return nil, fmt.Errorf("decode yaml rules: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnsupportedFormat, format)
	}
	return &f, nil
}

// LoadMessage reads a sample message for rule matching.
func LoadMessage(fsys afero.Fs, path string) (rules.Message, error) {
	var m rules.Message
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return m, fmt.Errorf("read message: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return m, fmt.Errorf("%s: %w", path, ErrEmptyFile)
	}
	if FormatOf(path) == FormatJSON {
		err = json.Unmarshal(data, &m)
	} else {
		err = yaml.Unmarshal(data, &m)
	}
	if err != nil {
		return m, fmt.Errorf("decode message %s: %w", path, err)
	}
	return m, nil
}

// ReadText reads a whole text file, returning "" for a missing file when
// optional is set.
func ReadText(fsys afero.Fs, path string, optional bool) (string, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if optional {
			if exists, _ := afero.Exists(fsys, path); !exists {
				return "", nil
			}
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// WriteFileAtomic writes data to a temporary file in the target directory
// and renames it into place, so readers never observe a partial file.
func WriteFileAtomic(fsys afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(fsys, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		fsys.Remove(name)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		fsys.Remove(name)
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		fsys.Remove(name)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := fsys.Rename(name, path); err != nil {
		fsys.Remove(name)
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
