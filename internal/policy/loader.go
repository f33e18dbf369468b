package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mfa-engine/policy-core/pkg/types"
)

// FileSource loads policies from a directory. ".ini" files hold any
// number of policies in the interchange format; ".yaml"/".yml" files
// hold one policy document each. Files are read in name order, so the
// on-disk layout decides policy order.
type FileSource struct {
	dir       string
	validator *Validator
	logger    *zap.Logger
}

// FileSourceConfig configures a FileSource
type FileSourceConfig struct {
	// Validator applied to every loaded policy. Nil defaults to the
	// standard schema validator.
	Validator *Validator
	Logger    *zap.Logger
}

// NewFileSource creates a policy source reading from dir
func NewFileSource(dir string, cfg FileSourceConfig) *FileSource {
	v := cfg.Validator
	if v == nil {
		v = NewValidator()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSource{dir: dir, validator: v, logger: logger}
}

// All loads every policy file in the directory. Any unreadable,
// unparseable or invalid file fails the whole load so a partial set is
// never served.
func (s *FileSource) All(ctx context.Context) ([]types.Policy, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read policy directory: %w", err)
	}

	var policies []types.Policy
	seen := map[string]string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		var loaded []types.Policy
		switch filepath.Ext(entry.Name()) {
		case ".ini":
			loaded, err = s.loadINI(path)
		case ".yaml", ".yml":
			loaded, err = s.loadYAML(path)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}

		for i := range loaded {
			p := &loaded[i]
			if err := s.validator.Validate(p); err != nil {
				return nil, fmt.Errorf("policy %q in %s: %w", p.Name, path, err)
			}
			if prev, dup := seen[p.Name]; dup {
				return nil, types.ParameterError(
					"policy %q defined in both %s and %s", p.Name, prev, path)
			}
			seen[p.Name] = path
		}
		policies = append(policies, loaded...)
	}

	s.logger.Debug("policies loaded from directory",
		zap.String("dir", s.dir),
		zap.Int("count", len(policies)))
	return policies, nil
}

func (s *FileSource) loadINI(path string) ([]types.Policy, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	policies, err := DecodeINI(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return policies, nil
}

func (s *FileSource) loadYAML(path string) ([]types.Policy, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	// Like INI sections, a file defines an active policy unless it
	// says otherwise.
	p := types.Policy{Active: true}
	if err := yaml.Unmarshal(content, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return []types.Policy{p}, nil
}
