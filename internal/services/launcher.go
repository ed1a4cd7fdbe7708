package services

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"lumen/internal/skills"
)

// ProcessLauncher starts catalog commands and opens paths with the desktop
// opener. Started processes are detached from the turn; only an exit during
// the grace window counts as a failed launch.
type ProcessLauncher struct {
	commands map[string][]string
	opener   []string
	grace    time.Duration
}

func NewProcessLauncher(commands map[string][]string, opener []string, grace time.Duration) *ProcessLauncher {
	if len(opener) == 0 {
		opener = []string{"xdg-open"}
	}
	if grace <= 0 {
		grace = 300 * time.Millisecond
	}

	norm := make(map[string][]string, len(commands))
	for k, v := range commands {
		norm[strings.ToLower(k)] = v
	}
	return &ProcessLauncher{commands: norm, opener: opener, grace: grace}
}

func (l *ProcessLauncher) Launch(ctx context.Context, target string) error {
	argv, err := l.resolve(target)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout, cmd.Stderr = nil, nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", argv[0], err)
	}
	log.Info("Launched", "target", target, "cmd", argv[0], "pid", cmd.Process.Pid)

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	select {
	case err := <-exited:
		if err != nil {
			return fmt.Errorf("%s exited: %w", argv[0], err)
		}
		return nil
	case <-time.After(l.grace):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *ProcessLauncher) resolve(target string) ([]string, error) {
	if argv, ok := l.commands[strings.ToLower(strings.TrimSpace(target))]; ok && len(argv) > 0 {
		return argv, nil
	}

	if filepath.IsAbs(target) {
		if _, err := os.Stat(target); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", skills.ErrUnknownTarget, target)
			}
			return nil, fmt.Errorf("stat %s: %w", target, err)
		}
		return append(append([]string(nil), l.opener...), target), nil
	}

	return nil, fmt.Errorf("%w: %q", skills.ErrUnknownTarget, target)
}
