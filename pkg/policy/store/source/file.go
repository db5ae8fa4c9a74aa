package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"fedlearn-hq/arbiter/pkg/policy"
)

// policyDocument is the YAML shape of a policy file: either a single
// definition set under "policies" or a bare list.
type policyDocument struct {
	Policies []*policy.Definition `yaml:"policies"`
}

// FileSource loads policy definitions from a YAML file or a directory of
// .yaml/.yml files.
type FileSource struct {
	path   string
	logger *slog.Logger
}

// NewFileSource creates a file-based policy source.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{
		path:   path,
		logger: logger.With("component", "policy.source.file"),
	}
}

// Load reads and parses all policy definitions from the configured path.
// Parsing is all-or-nothing: any unreadable or malformed file fails the
// load so a partially parsed set is never returned.
func (s *FileSource) Load(ctx context.Context) ([]*policy.Definition, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat policy path %q: %w", s.path, err)
	}

	var defs []*policy.Definition
	if info.IsDir() {
		err = filepath.Walk(s.path, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if fi.IsDir() {
				return nil
			}
			ext := filepath.Ext(path)
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}
			fileDefs, err := s.loadFile(path)
			if err != nil {
				return err
			}
			defs = append(defs, fileDefs...)
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		defs, err = s.loadFile(s.path)
		if err != nil {
			return nil, err
		}
	}

	s.logger.Info("loaded policy definitions",
		"path", s.path,
		"policy_count", len(defs),
	)
	return defs, nil
}

func (s *FileSource) loadFile(path string) ([]*policy.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %q: %w", path, err)
	}

	var doc policyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %q: %w", path, err)
	}
	if doc.Policies != nil {
		return doc.Policies, nil
	}

	// Bare list form
	var list []*policy.Definition
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %q: %w", path, err)
	}
	return list, nil
}

// Watch watches the configured path for changes and invokes onChange after
// a debounce interval. Reload failures are the callback's concern; the
// watcher keeps running either way. Blocks until the context is cancelled.
func (s *FileSource) Watch(ctx context.Context, debounce time.Duration, onChange func() error) error {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.path); err != nil {
		return fmt.Errorf("failed to watch %q: %w", s.path, err)
	}

	s.logger.Info("policy file watcher started",
		"path", s.path,
		"debounce_ms", debounce.Milliseconds(),
	)

	var timer *time.Timer
	var timerCh <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("policy file watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			// Debounce editor write storms into one reload.
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerCh = timer.C
			} else {
				timer.Reset(debounce)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			if err := onChange(); err != nil {
				s.logger.Error("policy reload failed, previous set stays active", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("file watcher error", "error", err)
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	ext := filepath.Ext(event.Name)
	return ext == ".yaml" || ext == ".yml" || ext == ""
}
