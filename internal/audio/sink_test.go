package audio

import "testing"

func TestNewPlayerSinkParsesCommandLine(t *testing.T) {
	p, err := NewPlayerSink("mpg123 -q --no-control")
	if err != nil {
		t.Fatalf("NewPlayerSink: %v", err)
	}
	if p.command != "mpg123" {
		t.Fatalf("command = %q", p.command)
	}
	if len(p.args) != 2 || p.args[0] != "-q" {
		t.Fatalf("args = %v", p.args)
	}
}

func TestNewPlayerSinkEmpty(t *testing.T) {
	if _, err := NewPlayerSink("   "); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestStopWithoutPlay(t *testing.T) {
	p, err := NewPlayerSink("true")
	if err != nil {
		t.Fatalf("NewPlayerSink: %v", err)
	}
	p.Stop()
	p.Stop()
}

func TestNopSink(t *testing.T) {
	var s Sink = NopSink{}
	if err := s.Play([]byte("x")); err != nil {
		t.Fatalf("NopSink.Play: %v", err)
	}
	s.Stop()
}
