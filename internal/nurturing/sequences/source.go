// Package sequences loads nurturing sequence templates.
package sequences

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"engagement_backend/platform/apperr"

	"gopkg.in/yaml.v3"
)

// Channels a step may use.
const (
	ChannelEmail    = "email"
	ChannelWhatsApp = "whatsapp"
	ChannelSMS      = "sms"
	ChannelCall     = "call"
)

// Step is one touch of a sequence, relative to enrollment time.
type Step struct {
	Type    string
	Channel string
	Offset  time.Duration
	// Template is an optional message template name for the channel sender.
	Template string
}

// Sequence is a named, ordered list of steps.
type Sequence struct {
	ID    string
	Name  string
	Steps []Step
}

// Source returns the ordered step templates of a sequence.
type Source interface {
	GetSequenceTemplates(ctx context.Context, sequenceID string) ([]Step, error)
}

// YAMLSource serves sequences parsed from a YAML document. It is safe for
// concurrent use and can be reloaded in place.
type YAMLSource struct {
	mu        sync.RWMutex
	sequences map[string]Sequence
}

type yamlFile struct {
	Sequences []yamlSequence `yaml:"sequences"`
}

type yamlSequence struct {
	ID    string     `yaml:"id"`
	Name  string     `yaml:"name"`
	Steps []yamlStep `yaml:"steps"`
}

type yamlStep struct {
	Type     string `yaml:"type"`
	Channel  string `yaml:"channel"`
	Offset   string `yaml:"offset"`
	Template string `yaml:"template"`
}

// LoadFile reads and parses a sequences file.
func LoadFile(path string) (*YAMLSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sequences file: %w", err)
	}
	return Parse(raw)
}

// Parse builds a source from YAML bytes.
func Parse(raw []byte) (*YAMLSource, error) {
	sequences, err := parse(raw)
	if err != nil {
		return nil, err
	}
	return &YAMLSource{sequences: sequences}, nil
}

// Reload replaces the served sequences. On error the previous set is kept.
func (s *YAMLSource) Reload(raw []byte) error {
	sequences, err := parse(raw)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sequences = sequences
	s.mu.Unlock()
	return nil
}

// GetSequenceTemplates returns a copy of the sequence's steps ordered by offset.
func (s *YAMLSource) GetSequenceTemplates(_ context.Context, sequenceID string) ([]Step, error) {
	s.mu.RLock()
	seq, ok := s.sequences[sequenceID]
	s.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("nurturing sequence not found").WithDetails(map[string]string{"sequenceId": sequenceID})
	}
	steps := make([]Step, len(seq.Steps))
	copy(steps, seq.Steps)
	return steps, nil
}

// Sequences lists the loaded sequences sorted by id.
func (s *YAMLSource) Sequences() []Sequence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sequence, 0, len(s.sequences))
	for _, seq := range s.sequences {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func parse(raw []byte) (map[string]Sequence, error) {
	var file yamlFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse sequences: %w", err)
	}

	sequences := make(map[string]Sequence, len(file.Sequences))
	for _, ys := range file.Sequences {
		id := strings.TrimSpace(ys.ID)
		if id == "" {
			return nil, fmt.Errorf("sequence without id")
		}
		if _, dup := sequences[id]; dup {
			return nil, fmt.Errorf("duplicate sequence %q", id)
		}
		if len(ys.Steps) == 0 {
			return nil, fmt.Errorf("sequence %q has no steps", id)
		}

		steps := make([]Step, 0, len(ys.Steps))
		for i, st := range ys.Steps {
			offset, err := ParseOffset(st.Offset)
			if err != nil {
				return nil, fmt.Errorf("sequence %q step %d: %w", id, i+1, err)
			}
			channel := strings.ToLower(strings.TrimSpace(st.Channel))
			if !validChannel(channel) {
				return nil, fmt.Errorf("sequence %q step %d: unknown channel %q", id, i+1, st.Channel)
			}
			stepType := strings.TrimSpace(st.Type)
			if stepType == "" {
				stepType = channel
			}
			steps = append(steps, Step{Type: stepType, Channel: channel, Offset: offset, Template: st.Template})
		}
		sort.SliceStable(steps, func(i, j int) bool { return steps[i].Offset < steps[j].Offset })

		name := ys.Name
		if name == "" {
			name = id
		}
		sequences[id] = Sequence{ID: id, Name: name, Steps: steps}
	}
	return sequences, nil
}

// ParseOffset accepts Go durations ("72h", "30m") and day counts written
// "3d" or "J+3".
func ParseOffset(value string) (time.Duration, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, fmt.Errorf("offset is required")
	}

	var days string
	switch {
	case strings.HasPrefix(v, "J+"):
		days = strings.TrimPrefix(v, "J+")
	case strings.HasSuffix(v, "d"):
		days = strings.TrimSuffix(v, "d")
	}
	if days != "" {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day offset %q", value)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q", value)
	}
	if d < 0 {
		return 0, fmt.Errorf("offset %q is negative", value)
	}
	return d, nil
}

func validChannel(channel string) bool {
	switch channel {
	case ChannelEmail, ChannelWhatsApp, ChannelSMS, ChannelCall:
		return true
	}
	return false
}
