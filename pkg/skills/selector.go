// Package skills loads markdown instruction files and selects which of
// them are relevant to a given user input. Selected text is merged into
// the system prompt once per turn.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Skill is one instruction file. Keywords decide when its text is
// injected; matching is case-insensitive substring against the raw
// user input.
type Skill struct {
	Name     string
	Keywords []string
	Text     string
}

// Selector loads skills from a directory and picks the relevant ones
// for each turn. Selection is recomputed per call, never accumulated,
// so skill relevance can change message to message.
type Selector struct {
	dir    string
	skills []Skill
	mu     sync.RWMutex

	watcher        *fsnotify.Watcher
	done           chan struct{}
	stopOnce       sync.Once
	debounceTimer  *time.Timer
	debounceMu     sync.Mutex
	reloadDebounce time.Duration
}

// NewSelector creates a Selector and performs the initial load. A
// missing directory yields an empty selector, not an error.
func NewSelector(dir string) (*Selector, error) {
	s := &Selector{
		dir:            dir,
		done:           make(chan struct{}),
		reloadDebounce: 200 * time.Millisecond,
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}

	return s, nil
}

// Reload re-reads every .md file in the skills directory
func (s *Selector) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.skills = nil
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("failed to read skills directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		names = append(names, entry.Name())
	}
	// Stable order keeps the merged prompt deterministic
	sort.Strings(names)

	skills := make([]Skill, 0, len(names))
	for _, name := range names {
		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to read skill file, skipping")
			continue
		}

		skill := parseSkill(strings.TrimSuffix(name, ".md"), string(data))
		if len(skill.Keywords) == 0 {
			log.Warn().Str("skill", skill.Name).Msg("Skill has no keywords, it will never be selected")
		}
		skills = append(skills, skill)
	}

	s.mu.Lock()
	s.skills = skills
	s.mu.Unlock()

	log.Debug().Int("count", len(skills)).Str("dir", s.dir).Msg("Skills loaded")

	return nil
}

// parseSkill splits a skill file into its keywords line and body. The
// first line starting with "keywords:" declares the triggers; the rest
// of the file is the instruction text.
func parseSkill(name, content string) Skill {
	skill := Skill{Name: name}

	var bodyLines []string
	keywordsSeen := false

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)

		if !keywordsSeen && strings.HasPrefix(lower, "keywords:") {
			keywordsSeen = true
			raw := strings.TrimSpace(trimmed[len("keywords:"):])
			for _, kw := range strings.Split(raw, ",") {
				kw = strings.ToLower(strings.TrimSpace(kw))
				if kw != "" {
					skill.Keywords = append(skill.Keywords, kw)
				}
			}
			continue
		}

		bodyLines = append(bodyLines, line)
	}

	skill.Text = strings.TrimSpace(strings.Join(bodyLines, "\n"))
	return skill
}

// Skills returns a copy of the loaded skills
func (s *Selector) Skills() []Skill {
	s.mu.RLock()
	defer s.mu.RUnlock()

	skills := make([]Skill, len(s.skills))
	copy(skills, s.skills)
	return skills
}

// SelectRelevantText returns the concatenated text of every skill whose
// keywords appear in the user input. Empty when nothing matches.
func (s *Selector) SelectRelevantText(userInput string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	input := strings.ToLower(userInput)

	var selected []string
	for _, skill := range s.skills {
		for _, kw := range skill.Keywords {
			if strings.Contains(input, kw) {
				if skill.Text != "" {
					selected = append(selected, skill.Text)
				}
				break
			}
		}
	}

	return strings.Join(selected, "\n\n")
}

// Watch starts reloading skills when files in the directory change
func (s *Selector) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch skills directory: %w", err)
	}

	s.watcher = watcher
	go s.eventLoop()

	log.Info().Str("dir", s.dir).Msg("Skill watcher started")

	return nil
}

func (s *Selector) eventLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			s.scheduleReload()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Skill watcher error")

		case <-s.done:
			return
		}
	}
}

// scheduleReload debounces bursts of file events into one reload
func (s *Selector) scheduleReload() {
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()

	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.reloadDebounce, func() {
		select {
		case <-s.done:
			return
		default:
		}
		if err := s.Reload(); err != nil {
			log.Error().Err(err).Msg("Skill reload failed")
		}
	})
}

// Close stops the watcher if one is running
func (s *Selector) Close() error {
	s.stopOnce.Do(func() {
		close(s.done)
	})

	s.debounceMu.Lock()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceMu.Unlock()

	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
