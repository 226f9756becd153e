package sequences

import (
	"context"
	"fmt"
	"os"

	"engagement_backend/platform/logger"
)

// ReloadFile re-reads path and swaps the served sequences. On error the
// previous set is kept.
func (s *YAMLSource) ReloadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read sequences file: %w", err)
	}
	return s.Reload(raw)
}

// ReloadOnSignal reloads path each time trigger fires, until ctx is done.
// The command wires trigger to SIGHUP.
func (s *YAMLSource) ReloadOnSignal(ctx context.Context, path string, trigger <-chan os.Signal, log *logger.Logger) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("nurturing.sequences")
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-trigger:
			if !ok {
				return
			}
			if err := s.ReloadFile(path); err != nil {
				log.Error("sequences reload failed, keeping previous set", "file", path, "error", err)
				continue
			}
			log.Info("sequences reloaded", "file", path, "sequences", len(s.Sequences()))
		}
	}
}
