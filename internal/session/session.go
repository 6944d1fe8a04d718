// Package session manages one tutoring conversation: an append-only turn
// list, the session's lifecycle against the backend, and the hand-off of
// pending audio to the artifact poller.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"gemtutor/internal/api"
	"gemtutor/internal/artifact"
)

// Speaker identifies who produced a turn.
type Speaker int

const (
	SpeakerUser Speaker = iota
	SpeakerTutor
)

// RenderState tracks how much of a turn has been disclosed on screen.
type RenderState int

const (
	// RenderPending means the turn has not started revealing yet.
	RenderPending RenderState = iota
	// RenderStreaming means the turn is mid-reveal.
	RenderStreaming
	// RenderComplete means the full text is on screen.
	RenderComplete
)

// Turn is one utterance in the conversation. Turns are append-only; text
// and links never change after the append, only the render state advances.
type Turn struct {
	ID          string
	Speaker     Speaker
	Text        string
	Links       []api.Link
	Render      RenderState
	AwaitsAudio bool
}

// Status is a session's lifecycle state.
type Status int

const (
	StatusUnstarted Status = iota
	StatusActive
	StatusEnded
)

// StartError reports a failed or misordered session start.
type StartError struct {
	Reason string
	Err    error
}

func (e *StartError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session start: %s: %v", e.Reason, e.Err)
	}
	return "session start: " + e.Reason
}

func (e *StartError) Unwrap() error { return e.Err }

// EndedError is returned from Send once the session has ended.
type EndedError struct{}

func (e *EndedError) Error() string { return "session has ended" }

// Backend is the remote surface the manager drives. *api.Client satisfies it.
type Backend interface {
	StartSession(ctx context.Context, req api.StartRequest) (api.StartResult, error)
	SendMessage(ctx context.Context, req api.SendRequest) (api.Reply, error)
}

const apologyText = "Sorry, something went wrong while getting that answer. Please try again."

// Manager owns one conversation. Turns are read from the event loop while
// sends complete on worker goroutines, so access is guarded by a mutex.
type Manager struct {
	backend Backend
	jobs    *artifact.Jobs

	username string
	subject  string

	mu       sync.Mutex
	id       string
	status   Status
	starting bool
	level    string
	turns    []Turn
}

// NewManager builds a manager for the given account. jobs may be nil when
// audio is disabled.
func NewManager(backend Backend, jobs *artifact.Jobs, username string) *Manager {
	return &Manager{backend: backend, jobs: jobs, username: username}
}

// Start opens the session on the chosen question. Allowed exactly once; a
// failed start leaves the manager unstarted so the caller may retry.
func (m *Manager) Start(ctx context.Context, subject string, marks int, question string) error {
	m.mu.Lock()
	if m.status != StatusUnstarted || m.starting {
		m.mu.Unlock()
		return &StartError{Reason: "session already started"}
	}
	m.starting = true
	m.mu.Unlock()

	res, err := m.backend.StartSession(ctx, api.StartRequest{
		Subject:      subject,
		Marks:        marks,
		QuestionText: question,
		Username:     m.username,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.starting = false
	if err != nil {
		return &StartError{Reason: "backend refused", Err: err}
	}
	if m.status == StatusEnded {
		return &StartError{Reason: "session already ended"}
	}
	m.id = res.SessionID
	m.subject = subject
	m.status = StatusActive
	if res.Reply.Text != "" {
		m.turns = append(m.turns, Turn{
			ID:          uuid.NewString(),
			Speaker:     SpeakerTutor,
			Text:        res.Reply.Text,
			Links:       res.Reply.Links,
			Render:      RenderPending,
			AwaitsAudio: res.Reply.AudioPending,
		})
	}
	return nil
}

// Send appends the user's turn, delivers it, and appends the tutor's reply.
// The user turn is appended before the network call, so turn order always
// matches call order even when replies land out of order. A failed delivery
// appends an apology turn in place of the reply and returns the error.
func (m *Manager) Send(ctx context.Context, text string) (Turn, error) {
	m.mu.Lock()
	switch m.status {
	case StatusEnded:
		m.mu.Unlock()
		return Turn{}, &EndedError{}
	case StatusUnstarted:
		m.mu.Unlock()
		return Turn{}, &StartError{Reason: "session not started"}
	}
	sessionID, subject, level := m.id, m.subject, m.level
	m.turns = append(m.turns, Turn{
		ID:      uuid.NewString(),
		Speaker: SpeakerUser,
		Text:    text,
		Render:  RenderComplete,
	})
	m.mu.Unlock()

	reply, err := m.backend.SendMessage(ctx, api.SendRequest{
		SessionID:      sessionID,
		Message:        text,
		Username:       m.username,
		Subject:        subject,
		ReasoningLevel: level,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		turn := Turn{
			ID:      uuid.NewString(),
			Speaker: SpeakerTutor,
			Text:    apologyText,
			Render:  RenderPending,
		}
		m.turns = append(m.turns, turn)
		return turn, err
	}
	turn := Turn{
		ID:          uuid.NewString(),
		Speaker:     SpeakerTutor,
		Text:        reply.Text,
		Links:       reply.Links,
		Render:      RenderPending,
		AwaitsAudio: reply.AudioPending,
	}
	m.turns = append(m.turns, turn)
	return turn, nil
}

// End closes the session and cancels any outstanding audio poll for it.
// Idempotent; ending twice is a no-op.
func (m *Manager) End() {
	m.mu.Lock()
	if m.status == StatusEnded {
		m.mu.Unlock()
		return
	}
	m.status = StatusEnded
	id := m.id
	m.mu.Unlock()

	if m.jobs != nil && id != "" {
		m.jobs.Cancel(id)
	}
}

// SetReasoningLevel sets the hint attached to subsequent sends. An empty
// level means the backend picks its default.
func (m *Manager) SetReasoningLevel(level string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = level
}

// ReasoningLevel returns the current reasoning hint.
func (m *Manager) ReasoningLevel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// MarkRender advances the render state of the turn with the given id.
func (m *Manager) MarkRender(turnID string, rs RenderState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.turns {
		if m.turns[i].ID == turnID {
			m.turns[i].Render = rs
			return
		}
	}
}

// Turns returns a snapshot of the conversation in append order.
func (m *Manager) Turns() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// ID returns the backend session id, empty until Start succeeds.
func (m *Manager) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// Status returns the session's lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subject returns the subject the session was started on.
func (m *Manager) Subject() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subject
}
