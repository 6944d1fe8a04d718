// Package audio plays fetched speech through an external player process.
// Playback follows a stop-and-repoint rule: starting a new clip always
// kills whatever was playing first, so only one clip is ever audible.
package audio

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Sink receives ready audio payloads.
type Sink interface {
	Play(data []byte) error
	Stop()
}

// PlayerSink shells out to a command line player (mpg123, afplay, ffplay).
type PlayerSink struct {
	command string
	args    []string

	mu   sync.Mutex
	cmd  *exec.Cmd
	file string
}

// NewPlayerSink parses a player command line such as "mpg123 -q". The clip
// path is appended as the final argument on each play.
func NewPlayerSink(commandLine string) (*PlayerSink, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("audio: empty player command")
	}
	return &PlayerSink{command: fields[0], args: fields[1:]}, nil
}

// Play stops any current clip, writes the payload to a temp file, and
// starts the player on it.
func (p *PlayerSink) Play(data []byte) error {
	p.Stop()

	f, err := os.CreateTemp("", "gemtutor-*.mp3")
	if err != nil {
		return fmt.Errorf("audio: write clip: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("audio: write clip: %w", err)
	}
	f.Close()

	cmd := exec.Command(p.command, append(append([]string{}, p.args...), f.Name())...)
	if err := cmd.Start(); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("audio: start player: %w", err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.file = f.Name()
	p.mu.Unlock()

	go func() {
		cmd.Wait()
		p.mu.Lock()
		if p.cmd == cmd {
			p.cmd = nil
			os.Remove(p.file)
			p.file = ""
		}
		p.mu.Unlock()
	}()
	return nil
}

// Stop kills the current player process, if any. Safe to call repeatedly.
func (p *PlayerSink) Stop() {
	p.mu.Lock()
	cmd, file := p.cmd, p.file
	p.cmd = nil
	p.file = ""
	p.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
	if file != "" {
		os.Remove(file)
	}
}

// NopSink discards everything. Used when audio is disabled.
type NopSink struct{}

func (NopSink) Play([]byte) error { return nil }
func (NopSink) Stop()             {}
