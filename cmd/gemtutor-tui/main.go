// Command gemtutor-tui is a terminal client for the exam tutoring service.
// It drives passcode login, question selection, and a live tutoring chat
// with typewriter replies and spoken answers fetched in the background.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"gemtutor/internal/api"
	"gemtutor/internal/artifact"
	"gemtutor/internal/audio"
	"gemtutor/internal/auth"
	"gemtutor/internal/config"
	"gemtutor/internal/reveal"
	"gemtutor/internal/session"
)

const (
	appName          = "GemTutor"
	guestUsername    = "guest"
	maxTimelineTurns = 200
	maxLogLines      = 50
)

// questionBank maps subject -> marks -> exam questions. The sociology set
// mirrors the current syllabus paper; other subjects arrive as the course
// material is digitised.
var questionBank = map[string]map[int][]string{
	"sociology": {
		4: {
			"Explain two features of a laboratory experiment and how they are used to test hypotheses in sociology.",
			"Describe two types of qualitative interview.",
			"Describe two ways children learn about gender identity.",
			"Describe two ways increased life expectancy may impact upon the family.",
			"Describe two ways social policies may impact upon the family.",
			"Describe two ways childhood is a distinct period from adulthood.",
			"Describe two ways schools can be seen as feminised.",
		},
		6: {
			"Explain two strengths of using unstructured interviews in sociological research.",
			"Using sociological material, give one argument against the view that the peer group is the most important influence in shaping age identity.",
			"Explain two strengths of using content analysis in sociological research.",
			"Explain two strengths of using laboratory experiments in sociological research.",
			"Explain one strength and one limitation of liberal feminist views of the family.",
			"Explain one strength and one limitation of postmodernist views on family diversity.",
			"Explain two strengths of functionalist views of the family.",
		},
		8: {
			"Explain two reasons why some social groups are difficult to study.",
			"Explain two ethical factors to consider when conducting observational studies.",
			"Explain two reasons why unstructured interviews are high in validity.",
			"Explain two reasons for greater gender equality in some families.",
			"Explain two reasons why fewer people are getting married.",
			"Explain two functions the family performs to benefit its members.",
			"Explain two ways racism can affect attainment in schools.",
		},
		10: {
			"The peer group is the most important influence in shaping age identity. Explain this view.",
			"'Education is the most important influence in shaping class identity.' Explain this view.",
			"'Social class is the most important factor affecting the experiences of children in the family.' Explain this view.",
			"'The main role of the family is to benefit society.' Explain this view.",
			"'There is no longer any social pressure on people to get married.' Explain this view.",
		},
		12: {
			"IQ tests are a fair measure of educational ability. Using sociological material, give two arguments against this view.",
		},
		26: {
			"Evaluate the view that female identity is very different from fifty years ago.",
			"Evaluate the use of structured interviews in sociological research.",
			"Evaluate the view that human behaviour is shaped by nurture rather than nature.",
			"Evaluate the positivist view that sociologists should use a scientific approach to research.",
			"Evaluate the view that the family is the most important agent of socialisation in shaping identity.",
			"Evaluate the view that sociological research can be value-free.",
			"Evaluate the view that marriage has become less important in society.",
			"Evaluate the view that roles in the family are still based on traditional gender identities.",
			"Evaluate the view that the nuclear family is the dominant family type.",
			"Evaluate the view that education contributes to value consensus.",
		},
	},
}

func subjects() []string {
	out := make([]string, 0, len(questionBank))
	for subject := range questionBank {
		out = append(out, subject)
	}
	sort.Strings(out)
	return out
}

func marksFor(subject string) []int {
	bank, ok := questionBank[subject]
	if !ok {
		return nil
	}
	out := make([]int, 0, len(bank))
	for marks := range bank {
		out = append(out, marks)
	}
	sort.Ints(out)
	return out
}

func questionsFor(subject string, marks int) []string {
	bank, ok := questionBank[subject]
	if !ok {
		return nil
	}
	return bank[marks]
}

type appConfig struct {
	authURL        string
	chatURL        string
	resendCooldown int
	revealInterval time.Duration
	audioEnabled   bool
	audioInterval  time.Duration
	audioTimeout   time.Duration
	playerCommand  string
	requestTimeout time.Duration
	logFile        string
	subject        string
	guest          bool
	altScreen      bool
}

type phaseID int

const (
	phaseLogin phaseID = iota
	phaseTopic
	phaseChat
)

type loginStage int

const (
	stageIdentifier loginStage = iota
	stagePasscode
)

type topicRow int

const (
	rowSubject topicRow = iota
	rowMarks
	rowQuestion
)

type model struct {
	cfg    appConfig
	logger *slog.Logger

	client *api.Client
	authn  *auth.Authenticator
	mgr    *session.Manager
	jobs   *artifact.Jobs
	sink   audio.Sink

	phase      phaseID
	stage      loginStage
	identifier string
	identity   api.Identity

	topicRow    topicRow
	subject     string
	marks       int
	questionIdx int

	typer        reveal.Reveal
	revealTurnID string

	cooldownGen  int
	cooldownLeft int

	audioInbound chan tea.Msg
	audioOn      bool

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model
	theme    uiTheme

	statusLine  string
	logs        []string
	inflight    bool
	quitConfirm bool
	width       int
	height      int
}

type challengeSentMsg struct {
	gen int
	err error
}

type verifyDoneMsg struct {
	identity api.Identity
	err      error
}

type cooldownTickMsg struct {
	gen int
}

type startDoneMsg struct {
	err error
}

type sendDoneMsg struct {
	turn session.Turn
	err  error
}

type revealTickMsg struct {
	gen int
}

type audioReadyMsg struct {
	sessionID string
	payload   []byte
}

type uiTheme struct {
	root        lipgloss.Style
	header      lipgloss.Style
	panel       lipgloss.Style
	panelTitle  lipgloss.Style
	footer      lipgloss.Style
	status      lipgloss.Style
	errorStatus lipgloss.Style
	inputPanel  lipgloss.Style
	helpText    lipgloss.Style
	pickRow     lipgloss.Style
	plainRow    lipgloss.Style
	tutorTag    lipgloss.Style
	userTag     lipgloss.Style
	linkText    lipgloss.Style
}

func newTheme() uiTheme {
	teal := lipgloss.Color("#2dd4bf")
	indigo := lipgloss.Color("#818cf8")
	amber := lipgloss.Color("#fbbf24")
	bg := lipgloss.Color("#0b1020")
	panelBg := lipgloss.Color("#131a33")
	text := lipgloss.Color("#e8ecff")
	muted := lipgloss.Color("#8b93bd")

	return uiTheme{
		root: lipgloss.NewStyle().
			Background(bg).
			Foreground(text).
			Padding(0, 1),
		header: lipgloss.NewStyle().
			Background(panelBg).
			Foreground(text).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(indigo).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(indigo).
			Padding(0, 1),
		panelTitle: lipgloss.NewStyle().
			Foreground(teal).
			Bold(true),
		footer: lipgloss.NewStyle().
			Background(panelBg).
			Foreground(muted).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(teal).
			Padding(0, 1),
		status:      lipgloss.NewStyle().Foreground(indigo).Bold(true),
		errorStatus: lipgloss.NewStyle().Foreground(amber).Bold(true),
		inputPanel: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(teal).
			Padding(0, 1),
		helpText: lipgloss.NewStyle().Foreground(muted),
		pickRow: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#0b1020")).
			Background(teal).
			Bold(true).
			Padding(0, 1),
		plainRow: lipgloss.NewStyle().Foreground(text).Padding(0, 1),
		tutorTag: lipgloss.NewStyle().Foreground(teal).Bold(true),
		userTag:  lipgloss.NewStyle().Foreground(amber).Bold(true),
		linkText: lipgloss.NewStyle().Foreground(indigo).Underline(true),
	}
}

func newModel(cfg appConfig, logger *slog.Logger) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 2000
	input.Placeholder = "Email address or mobile number"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#2dd4bf"))

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true
	timeline.MouseWheelDelta = 4

	client := api.NewClient(cfg.authURL, cfg.chatURL, api.WithTimeout(cfg.requestTimeout))
	jobs := artifact.NewJobs()

	var sink audio.Sink = audio.NopSink{}
	if cfg.audioEnabled {
		if player, err := audio.NewPlayerSink(cfg.playerCommand); err == nil {
			sink = player
		} else {
			logger.Warn("audio disabled", "error", err)
		}
	}

	subject := cfg.subject
	if _, ok := questionBank[subject]; !ok {
		subject = subjects()[0]
	}
	marks := marksFor(subject)[0]

	m := model{
		cfg:          cfg,
		logger:       logger,
		client:       client,
		authn:        auth.NewAuthenticator(client, cfg.resendCooldown),
		jobs:         jobs,
		sink:         sink,
		phase:        phaseLogin,
		stage:        stageIdentifier,
		subject:      subject,
		marks:        marks,
		audioInbound: make(chan tea.Msg, 8),
		audioOn:      cfg.audioEnabled,
		input:        input,
		timeline:     timeline,
		spinner:      sp,
		theme:        newTheme(),
		statusLine:   "enter your email or mobile to sign in",
		logs:         []string{},
	}
	if cfg.guest {
		m.phase = phaseTopic
		m.identity = api.Identity{DisplayName: guestUsername, Role: "guest"}
		m.input.Blur()
		m.statusLine = "guest mode · pick a question to begin"
	}
	return m
}

func (m model) username() string {
	if m.cfg.guest {
		return guestUsername
	}
	return m.authn.Identifier()
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitAudioMsg(m.audioInbound))
}

// requestChallengeCmd validates the identifier and asks for a passcode.
// Validation failures never leave the process.
func (m model) requestChallengeCmd(raw string) tea.Cmd {
	authn := m.authn
	timeout := m.cfg.requestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		gen, err := authn.RequestChallenge(ctx, raw)
		return challengeSentMsg{gen: gen, err: err}
	}
}

func (m model) resendCmd() tea.Cmd {
	authn := m.authn
	timeout := m.cfg.requestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		gen, err := authn.Resend(ctx)
		return challengeSentMsg{gen: gen, err: err}
	}
}

func (m model) verifyCmd(code string) tea.Cmd {
	authn := m.authn
	timeout := m.cfg.requestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		identity, err := authn.Verify(ctx, code)
		return verifyDoneMsg{identity: identity, err: err}
	}
}

func cooldownTickCmd(gen int) tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return cooldownTickMsg{gen: gen}
	})
}

func (m model) startSessionCmd() tea.Cmd {
	mgr := m.mgr
	subject := m.subject
	marks := m.marks
	questions := questionsFor(subject, marks)
	idx := clampInt(m.questionIdx, 0, maxInt(0, len(questions)-1))
	timeout := m.cfg.requestTimeout
	return func() tea.Msg {
		if len(questions) == 0 {
			return startDoneMsg{err: fmt.Errorf("no questions available for %s (%d marks)", subject, marks)}
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return startDoneMsg{err: mgr.Start(ctx, subject, marks, questions[idx])}
	}
}

func (m model) sendCmd(text string) tea.Cmd {
	mgr := m.mgr
	timeout := m.cfg.requestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		turn, err := mgr.Send(ctx, text)
		return sendDoneMsg{turn: turn, err: err}
	}
}

func revealTickCmd(gen int, interval time.Duration) tea.Cmd {
	if interval <= 0 {
		interval = 15 * time.Millisecond
	}
	return tea.Tick(interval, func(time.Time) tea.Msg {
		return revealTickMsg{gen: gen}
	})
}

func waitAudioMsg(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

// beginAudioPoll starts (or restarts) the background poll for the session's
// spoken reply. The ready payload is handed back to the event loop through
// the audio inbound channel.
func (m *model) beginAudioPoll(sessionID string) {
	if !m.audioOn || sessionID == "" {
		return
	}
	client := m.client
	inbound := m.audioInbound
	m.jobs.Begin(context.Background(), sessionID,
		func(ctx context.Context) ([]byte, bool, error) {
			return client.FetchAudio(ctx, sessionID)
		},
		func(payload []byte) {
			inbound <- audioReadyMsg{sessionID: sessionID, payload: payload}
		},
		m.cfg.audioInterval, m.cfg.audioTimeout)
}

// beginReveal points the typewriter at a freshly appended tutor turn.
func (m *model) beginReveal(turn session.Turn) tea.Cmd {
	if turn.ID == "" || turn.Speaker != session.SpeakerTutor {
		return nil
	}
	gen := m.typer.Start(turn.Text)
	m.revealTurnID = turn.ID
	if m.typer.Done() {
		m.mgr.MarkRender(turn.ID, session.RenderComplete)
		m.revealTurnID = ""
		m.renderTimeline()
		return nil
	}
	m.mgr.MarkRender(turn.ID, session.RenderStreaming)
	m.renderTimeline()
	return revealTickCmd(gen, m.cfg.revealInterval)
}

func (m *model) finishReveal() {
	if m.revealTurnID != "" {
		m.typer.Skip()
		m.mgr.MarkRender(m.revealTurnID, session.RenderComplete)
		m.revealTurnID = ""
		m.renderTimeline()
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case challengeSentMsg:
		m.inflight = false
		if msg.err != nil {
			m.logError(msg.err)
			m.statusLine = userFacing(msg.err)
			break
		}
		m.stage = stagePasscode
		m.cooldownGen = msg.gen
		m.cooldownLeft = m.authn.CooldownRemaining()
		m.input.Reset()
		m.input.Placeholder = "6-digit passcode"
		m.statusLine = fmt.Sprintf("passcode sent to %s", m.authn.Identifier())
		m.logger.Info("passcode requested", "identifier", m.authn.Identifier())
		cmds = append(cmds, cooldownTickCmd(msg.gen))
	case cooldownTickMsg:
		if m.inflight {
			// Requests may touch the cooldown; hold this tick until the
			// in-flight call settles.
			cmds = append(cmds, cooldownTickCmd(msg.gen))
			break
		}
		remaining, _, ok := m.authn.CooldownTick(msg.gen)
		if !ok {
			break
		}
		m.cooldownLeft = remaining
		if remaining > 0 {
			cmds = append(cmds, cooldownTickCmd(msg.gen))
		} else {
			m.statusLine = "you can request a new passcode now (ctrl+r)"
		}
	case verifyDoneMsg:
		m.inflight = false
		if msg.err != nil {
			m.logError(msg.err)
			m.statusLine = userFacing(msg.err)
			m.input.Reset()
			break
		}
		m.identity = msg.identity
		m.phase = phaseTopic
		m.input.Blur()
		m.statusLine = fmt.Sprintf("welcome %s · pick a question to begin", nullCoalesce(msg.identity.DisplayName, m.authn.Identifier()))
		m.logger.Info("login ok", "user", m.authn.Identifier(), "role", msg.identity.Role)
	case startDoneMsg:
		m.inflight = false
		if msg.err != nil {
			m.logError(msg.err)
			m.statusLine = userFacing(msg.err)
			break
		}
		m.phase = phaseChat
		m.input.Reset()
		m.input.Placeholder = "Type your answer, or /help"
		m.input.Focus()
		m.statusLine = fmt.Sprintf("session %s · %s (%d marks)", truncate(m.mgr.ID(), 12), m.subject, m.marks)
		m.logger.Info("session started", "session_id", m.mgr.ID(), "subject", m.subject, "marks", m.marks)
		m.resize()
		if turns := m.mgr.Turns(); len(turns) > 0 {
			last := turns[len(turns)-1]
			if cmd := m.beginReveal(last); cmd != nil {
				cmds = append(cmds, cmd)
			}
			if last.AwaitsAudio {
				m.beginAudioPoll(m.mgr.ID())
			}
		}
		m.renderTimeline()
	case sendDoneMsg:
		m.inflight = false
		if msg.err != nil {
			m.logError(msg.err)
			var ended *session.EndedError
			if errors.As(msg.err, &ended) {
				m.statusLine = "session has ended · /reset to start another"
				break
			}
			m.statusLine = "the tutor did not answer · try again"
		} else {
			m.statusLine = fmt.Sprintf("session %s · %s (%d marks)", truncate(m.mgr.ID(), 12), m.subject, m.marks)
		}
		if cmd := m.beginReveal(msg.turn); cmd != nil {
			cmds = append(cmds, cmd)
		}
		if msg.err == nil && msg.turn.AwaitsAudio {
			m.beginAudioPoll(m.mgr.ID())
		}
		m.renderTimeline()
	case revealTickMsg:
		done, ok := m.typer.Tick(msg.gen)
		if !ok {
			break
		}
		if done {
			m.mgr.MarkRender(m.revealTurnID, session.RenderComplete)
			m.revealTurnID = ""
		} else {
			cmds = append(cmds, revealTickCmd(msg.gen, m.cfg.revealInterval))
		}
		m.renderTimeline()
	case audioReadyMsg:
		cmds = append(cmds, waitAudioMsg(m.audioInbound))
		if m.mgr == nil || msg.sessionID != m.mgr.ID() || m.mgr.Status() != session.StatusActive {
			break
		}
		if err := m.sink.Play(msg.payload); err != nil {
			m.logError(err)
			break
		}
		m.appendLog(fmt.Sprintf("playing audio for session %s", truncate(msg.sessionID, 12)))
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderTimeline()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case tea.MouseMsg:
		if m.phase == phaseChat {
			var cmd tea.Cmd
			m.timeline, cmd = m.timeline.Update(msg)
			cmds = append(cmds, cmd)
		}
	case tea.KeyMsg:
		return m.handleKey(msg, cmds)
	default:
		// Cursor blink and other component messages.
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg, cmds []tea.Cmd) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m.shutdown()
	}
	if m.quitConfirm {
		switch key {
		case "y", "Y", "enter":
			return m.shutdown()
		case "n", "N", "esc":
			m.quitConfirm = false
			m.statusLine = "quit canceled"
		}
		return m, tea.Batch(cmds...)
	}
	if key == "esc" {
		m.quitConfirm = true
		return m, tea.Batch(cmds...)
	}

	switch m.phase {
	case phaseLogin:
		return m.handleLoginKey(msg, cmds)
	case phaseTopic:
		return m.handleTopicKey(msg, cmds)
	case phaseChat:
		return m.handleChatKey(msg, cmds)
	}
	return m, tea.Batch(cmds...)
}

func (m model) handleLoginKey(msg tea.KeyMsg, cmds []tea.Cmd) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		if m.inflight {
			return m, tea.Batch(cmds...)
		}
		value := strings.TrimSpace(m.input.Value())
		if m.stage == stageIdentifier {
			if _, err := auth.NormalizeIdentifier(value); err != nil {
				m.statusLine = userFacing(err)
				return m, tea.Batch(cmds...)
			}
			m.inflight = true
			m.statusLine = "requesting passcode..."
			cmds = append(cmds, m.requestChallengeCmd(value))
			return m, tea.Batch(cmds...)
		}
		if value == "" {
			m.statusLine = "enter the passcode you received"
			return m, tea.Batch(cmds...)
		}
		m.inflight = true
		m.statusLine = "checking passcode..."
		cmds = append(cmds, m.verifyCmd(value))
		return m, tea.Batch(cmds...)
	case "ctrl+r":
		if m.inflight || m.stage != stagePasscode {
			return m, tea.Batch(cmds...)
		}
		if !m.authn.CanResend() {
			m.statusLine = fmt.Sprintf("resend unlocks in %s", formatSeconds(m.cooldownLeft))
			return m, tea.Batch(cmds...)
		}
		m.inflight = true
		m.statusLine = "resending passcode..."
		cmds = append(cmds, m.resendCmd())
		return m, tea.Batch(cmds...)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m model) handleTopicKey(msg tea.KeyMsg, cmds []tea.Cmd) (tea.Model, tea.Cmd) {
	if m.inflight {
		return m, tea.Batch(cmds...)
	}
	switch msg.String() {
	case "up", "k":
		if m.topicRow > rowSubject {
			m.topicRow--
		}
	case "down", "j":
		if m.topicRow < rowQuestion {
			m.topicRow++
		}
	case "left", "h":
		m.cycleTopic(-1)
	case "right", "l":
		m.cycleTopic(1)
	case "enter":
		m.inflight = true
		m.statusLine = "starting session..."
		m.mgr = session.NewManager(m.client, m.jobs, m.username())
		if m.cfg.guest {
			m.mgr.SetReasoningLevel("simple")
		}
		cmds = append(cmds, m.startSessionCmd())
	}
	return m, tea.Batch(cmds...)
}

func (m *model) cycleTopic(delta int) {
	switch m.topicRow {
	case rowSubject:
		m.subject = cycleString(subjects(), m.subject, delta)
		m.marks = marksFor(m.subject)[0]
		m.questionIdx = 0
	case rowMarks:
		m.marks = cycleInt(marksFor(m.subject), m.marks, delta)
		m.questionIdx = 0
	case rowQuestion:
		questions := questionsFor(m.subject, m.marks)
		if len(questions) > 0 {
			m.questionIdx = (m.questionIdx + delta + len(questions)) % len(questions)
		}
	}
}

func (m model) handleChatKey(msg tea.KeyMsg, cmds []tea.Cmd) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		if m.inflight {
			return m, tea.Batch(cmds...)
		}
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, tea.Batch(cmds...)
		}
		m.input.Reset()
		if strings.HasPrefix(text, "/") {
			m.inflight = true
			cmd := m.handleSlash(text)
			cmds = append(cmds, cmd)
			return m, tea.Batch(cmds...)
		}
		if m.revealTurnID != "" {
			m.finishReveal()
		}
		m.inflight = true
		m.statusLine = "waiting for the tutor..."
		cmds = append(cmds, m.sendCmd(text))
		m.renderTimeline()
		return m, tea.Batch(cmds...)
	case "tab":
		m.finishReveal()
		return m, tea.Batch(cmds...)
	case "pgup", "pgdown", "home", "end":
		var cmd tea.Cmd
		m.timeline, cmd = m.timeline.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *model) handleSlash(raw string) tea.Cmd {
	parts := strings.Fields(strings.TrimSpace(raw))
	if len(parts) == 0 {
		m.inflight = false
		return nil
	}
	cmd := strings.ToLower(parts[0])
	tail := parts[1:]
	switch cmd {
	case "/help":
		m.inflight = false
		m.statusLine = "enter send · tab show full reply · /end · /reset · /audio on|off · /level · /quit"
		return nil
	case "/quit", "/exit":
		m.inflight = false
		m.quitConfirm = true
		return nil
	case "/end":
		m.inflight = false
		m.endSession()
		m.statusLine = "session ended · /reset to start another"
		return nil
	case "/reset":
		m.inflight = false
		m.endSession()
		m.phase = phaseTopic
		m.topicRow = rowSubject
		m.input.Blur()
		m.statusLine = "pick a question to begin"
		return nil
	case "/level":
		m.inflight = false
		if m.mgr == nil {
			m.statusLine = "start a session first"
			return nil
		}
		if len(tail) == 0 {
			m.statusLine = "reasoning level: " + nullCoalesce(m.mgr.ReasoningLevel(), "default")
			return nil
		}
		level := strings.ToLower(tail[0])
		switch level {
		case "simple", "medium", "advanced":
			m.mgr.SetReasoningLevel(level)
			m.statusLine = "reasoning level set: " + level
		default:
			m.statusLine = "usage: /level simple|medium|advanced"
		}
		return nil
	case "/audio":
		m.inflight = false
		if len(tail) == 0 {
			m.statusLine = "audio is " + onOff(m.audioOn)
			return nil
		}
		switch strings.ToLower(tail[0]) {
		case "on":
			if !m.cfg.audioEnabled {
				m.statusLine = "audio is disabled by configuration"
				return nil
			}
			m.audioOn = true
			m.statusLine = "audio on"
		case "off":
			m.audioOn = false
			m.sink.Stop()
			if m.mgr != nil {
				m.jobs.Cancel(m.mgr.ID())
			}
			m.statusLine = "audio off"
		default:
			m.statusLine = "usage: /audio on|off"
		}
		return nil
	default:
		m.inflight = false
		m.statusLine = "unknown command: " + cmd
		return nil
	}
}

func (m *model) endSession() {
	m.finishReveal()
	m.typer.Cancel()
	m.revealTurnID = ""
	m.sink.Stop()
	if m.mgr != nil {
		m.mgr.End()
	}
	m.renderTimeline()
}

func (m model) shutdown() (tea.Model, tea.Cmd) {
	if m.mgr != nil {
		m.mgr.End()
	}
	m.jobs.CancelAll()
	m.sink.Stop()
	return m, tea.Quit
}

func (m model) View() string {
	var content string
	switch m.phase {
	case phaseLogin:
		content = m.renderLogin()
	case phaseTopic:
		content = m.renderTopic()
	case phaseChat:
		content = m.renderChat()
	}
	out := lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		content,
		m.renderInput(),
		m.renderFooter(),
	)
	if m.quitConfirm {
		out = m.renderQuitModal()
	}
	return m.theme.root.Render(out)
}

func (m model) renderHeader() string {
	who := "not signed in"
	if m.identity.DisplayName != "" {
		who = m.identity.DisplayName
		if m.identity.Class != "" {
			who += " · " + m.identity.Class
		}
	}
	meta := fmt.Sprintf("%s · %s", appName, who)
	if m.mgr != nil && m.mgr.Status() == session.StatusActive {
		meta += fmt.Sprintf(" · %s %d marks", m.mgr.Subject(), m.marks)
	}
	return m.theme.header.Width(maxInt(20, m.width-4)).Render(meta)
}

func (m model) renderLogin() string {
	contentWidth := maxInt(40, m.width-4)
	contentHeight := maxInt(8, m.height-10)

	var lines []string
	lines = append(lines, m.theme.panelTitle.Render("Sign in"))
	if m.stage == stageIdentifier {
		lines = append(lines,
			"",
			"Enter the email address or mobile number on your account.",
			m.theme.helpText.Render("Mobiles may be entered as 04xx xxx xxx."),
		)
	} else {
		lines = append(lines,
			"",
			fmt.Sprintf("A passcode was sent to %s.", m.theme.status.Render(m.authn.Identifier())),
		)
		if m.cooldownLeft > 0 {
			lines = append(lines, m.theme.helpText.Render(
				fmt.Sprintf("Resend available in %s.", formatSeconds(m.cooldownLeft))))
		} else {
			lines = append(lines, m.theme.helpText.Render("Press ctrl+r to resend the passcode."))
		}
		if m.authn.State() == auth.StateFailed && m.authn.Reason() != "" {
			lines = append(lines, m.theme.errorStatus.Render(m.authn.Reason()))
		}
	}
	body := strings.Join(lines, "\n")
	return m.theme.panel.Width(contentWidth).Height(contentHeight).Render(body)
}

func (m model) renderTopic() string {
	contentWidth := maxInt(40, m.width-4)
	contentHeight := maxInt(8, m.height-10)

	questions := questionsFor(m.subject, m.marks)
	question := "(no questions digitised yet)"
	if len(questions) > 0 {
		idx := clampInt(m.questionIdx, 0, len(questions)-1)
		question = fmt.Sprintf("%d/%d  %s", idx+1, len(questions), questions[idx])
	}

	rows := []struct {
		row   topicRow
		label string
		value string
	}{
		{rowSubject, "Subject", m.subject},
		{rowMarks, "Marks", strconv.Itoa(m.marks)},
		{rowQuestion, "Question", wrapText(question, maxInt(20, contentWidth-16))},
	}

	var b strings.Builder
	b.WriteString(m.theme.panelTitle.Render("Choose a question"))
	b.WriteString("\n\n")
	for _, row := range rows {
		style := m.theme.plainRow
		if row.row == m.topicRow {
			style = m.theme.pickRow
		}
		b.WriteString(style.Render(fmt.Sprintf("%-9s %s", row.label, row.value)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.theme.helpText.Render("up/down pick a row · left/right change · enter start session"))
	return m.theme.panel.Width(contentWidth).Height(contentHeight).Render(b.String())
}

func (m model) renderChat() string {
	contentWidth := maxInt(40, m.width-4)
	contentHeight := maxInt(8, m.height-10)
	return m.theme.panel.Width(contentWidth).Height(contentHeight).Render(
		m.theme.panelTitle.Render("Tutor") + "\n" + m.timeline.View(),
	)
}

func (m *model) renderTimeline() {
	if m.mgr == nil {
		m.timeline.SetContent("")
		return
	}
	width := maxInt(30, m.timeline.Width-2)
	turns := m.mgr.Turns()
	if len(turns) > maxTimelineTurns {
		turns = turns[len(turns)-maxTimelineTurns:]
	}

	var b strings.Builder
	for i, turn := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		tag := m.theme.tutorTag.Render("tutor")
		if turn.Speaker == session.SpeakerUser {
			tag = m.theme.userTag.Render("you")
		}
		text := turn.Text
		if turn.ID == m.revealTurnID {
			text = m.typer.Visible()
		}
		b.WriteString(tag)
		b.WriteString("\n")
		b.WriteString(wrapText(text, width))
		if turn.Render == session.RenderComplete {
			for _, link := range turn.Links {
				b.WriteString("\n")
				b.WriteString(m.theme.linkText.Render(formatLink(link)))
			}
		}
	}
	if m.inflight {
		b.WriteString("\n\n")
		b.WriteString(m.spinner.View() + " " + m.theme.helpText.Render("thinking..."))
	}
	atBottom := m.timeline.AtBottom()
	m.timeline.SetContent(b.String())
	if atBottom || m.revealTurnID != "" {
		m.timeline.GotoBottom()
	}
}

func formatLink(link api.Link) string {
	label := nullCoalesce(link.Label, link.URL)
	out := "→ " + label
	if link.Page > 0 {
		out += fmt.Sprintf(" (p.%d)", link.Page)
	}
	if link.URL != "" && label != link.URL {
		out += " " + link.URL
	}
	return out
}

func (m model) renderInput() string {
	contentWidth := maxInt(40, m.width-4)
	if m.phase == phaseTopic {
		return m.theme.inputPanel.Width(contentWidth).Render(
			m.theme.helpText.Render("Use the arrow keys to choose, enter to start."))
	}
	inputView := m.input.View()
	if m.inflight {
		inputView = m.spinner.View() + " " + inputView
	}
	return m.theme.inputPanel.Width(contentWidth).Render(inputView)
}

func (m model) renderFooter() string {
	contentWidth := maxInt(40, m.width-4)
	statusStyle := m.theme.status
	lowered := strings.ToLower(m.statusLine)
	if strings.Contains(lowered, "fail") || strings.Contains(lowered, "error") || strings.Contains(lowered, "not look right") {
		statusStyle = m.theme.errorStatus
	}
	line := statusStyle.Render(compactSingleLine(m.statusLine, 180))
	var hints string
	switch m.phase {
	case phaseLogin:
		hints = "Keys: enter submit · ctrl+r resend passcode · esc quit"
	case phaseTopic:
		hints = "Keys: arrows choose · enter start · esc quit"
	default:
		hints = "Keys: enter send · tab full reply · /help commands · esc quit"
	}
	return m.theme.footer.Width(contentWidth).Render(line + "\n" + m.theme.helpText.Render(hints))
}

func (m model) renderQuitModal() string {
	canvasWidth := maxInt(40, m.width-4)
	canvasHeight := maxInt(10, m.height-4)
	modalWidth := clampInt(int(float64(canvasWidth)*0.5), 36, 64)

	body := strings.Join([]string{
		m.theme.errorStatus.Render("Leave GemTutor?"),
		m.theme.helpText.Render("Your session will be ended."),
		"",
		m.theme.pickRow.Render("[Y / Enter] Quit") + "  " + m.theme.helpText.Render("[N / Esc] Stay"),
	}, "\n")
	modal := m.theme.panel.Width(modalWidth).Render(body)
	return lipgloss.Place(canvasWidth, canvasHeight, lipgloss.Center, lipgloss.Center, modal)
}

func (m *model) resize() {
	contentWidth := maxInt(40, m.width-4)
	contentHeight := maxInt(8, m.height-10)
	m.timeline.Width = maxInt(30, contentWidth-2)
	m.timeline.Height = maxInt(4, contentHeight-2)
	m.input.Width = maxInt(20, contentWidth-6)
}

func (m *model) appendLog(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	m.logs = append(m.logs, fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), compactSingleLine(trimmed, 220)))
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
}

func (m *model) logError(err error) {
	if err == nil {
		return
	}
	m.appendLog("error: " + err.Error())
	m.logger.Error("operation failed", "error", err)
}

// userFacing turns an internal error into a line fit for the status bar.
func userFacing(err error) string {
	var ve *auth.ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	var rej *api.RemoteRejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	if errors.Is(err, auth.ErrResendUnavailable) {
		return "please wait before requesting another passcode"
	}
	var se *session.StartError
	if errors.As(err, &se) {
		return "could not start the session · try again"
	}
	return "something went wrong · try again"
}

func formatSeconds(seconds int) string {
	if seconds >= 60 {
		return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
	}
	return fmt.Sprintf("%ds", seconds)
}

func parseFlags(cfg *config.Config) appConfig {
	out := appConfig{}
	flag.StringVar(&out.authURL, "auth-url", cfg.AuthBaseURL, "Auth service base URL")
	flag.StringVar(&out.chatURL, "chat-url", cfg.ChatBaseURL, "Chat service base URL")
	flag.IntVar(&out.resendCooldown, "resend-cooldown", cfg.ResendCooldown, "Seconds between passcode requests")
	flag.DurationVar(&out.revealInterval, "reveal-interval", cfg.RevealInterval, "Delay between typewriter characters")
	flag.BoolVar(&out.audioEnabled, "audio", cfg.AudioEnabled, "Fetch and play spoken replies")
	flag.DurationVar(&out.audioInterval, "audio-interval", cfg.AudioInterval, "Audio poll interval")
	flag.DurationVar(&out.audioTimeout, "audio-timeout", cfg.AudioTimeout, "Give up polling for audio after this long")
	flag.StringVar(&out.playerCommand, "player", cfg.PlayerCommand, "Audio player command line")
	flag.DurationVar(&out.requestTimeout, "request-timeout", cfg.RequestTimeout, "HTTP request timeout")
	flag.StringVar(&out.logFile, "log-file", cfg.LogFile, "Write JSON logs to this file")
	flag.StringVar(&out.subject, "subject", cfg.DefaultSubject, "Initial subject selection")
	flag.BoolVar(&out.guest, "guest", false, "Skip login and chat as a guest")
	flag.BoolVar(&out.altScreen, "alt-screen", true, "Use alternate screen buffer")
	flag.Parse()

	out.resendCooldown = clampInt(out.resendCooldown, 1, 3600)
	if out.revealInterval <= 0 {
		out.revealInterval = cfg.RevealInterval
	}
	if out.audioInterval <= 0 {
		out.audioInterval = cfg.AudioInterval
	}
	if out.audioTimeout <= 0 {
		out.audioTimeout = cfg.AudioTimeout
	}
	return out
}

func newLogger(logFile string) (*slog.Logger, func()) {
	if strings.TrimSpace(logFile) == "" {
		return slog.New(slog.NewJSONHandler(io.Discard, nil)), func() {}
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gemtutor-tui: cannot open log file %s: %v\n", logFile, err)
		return slog.New(slog.NewJSONHandler(io.Discard, nil)), func() {}
	}
	return slog.New(slog.NewJSONHandler(f, nil)), func() { f.Close() }
}

func wrapText(text string, width int) string {
	if width <= 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	wrapped := make([]string, 0, len(lines))
	for _, line := range lines {
		words := strings.Fields(line)
		if len(words) == 0 {
			wrapped = append(wrapped, "")
			continue
		}
		current := words[0]
		for _, word := range words[1:] {
			if len(current)+1+len(word) <= width {
				current += " " + word
				continue
			}
			wrapped = append(wrapped, current)
			current = word
		}
		wrapped = append(wrapped, current)
	}
	return strings.Join(wrapped, "\n")
}

func truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(text) <= limit {
		return text
	}
	if limit <= 3 {
		return text[:limit]
	}
	return text[:limit-3] + "..."
}

func compactSingleLine(text string, limit int) string {
	compact := strings.Join(strings.Fields(text), " ")
	return truncate(compact, limit)
}

func cycleString(options []string, current string, delta int) string {
	if len(options) == 0 {
		return current
	}
	idx := 0
	for i, option := range options {
		if option == current {
			idx = i
			break
		}
	}
	idx = (idx + delta) % len(options)
	if idx < 0 {
		idx += len(options)
	}
	return options[idx]
}

func cycleInt(options []int, current int, delta int) int {
	if len(options) == 0 {
		return current
	}
	idx := 0
	for i, option := range options {
		if option == current {
			idx = i
			break
		}
	}
	idx = (idx + delta) % len(options)
	if idx < 0 {
		idx += len(options)
	}
	return options[idx]
}

func onOff(value bool) string {
	if value {
		return "on"
	}
	return "off"
}

func nullCoalesce(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gemtutor-tui: %v\n", err)
		os.Exit(1)
	}
	appCfg := parseFlags(cfg)

	logger, closeLog := newLogger(appCfg.logFile)
	defer closeLog()

	opts := []tea.ProgramOption{tea.WithMouseCellMotion()}
	if appCfg.altScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	p := tea.NewProgram(newModel(appCfg, logger), opts...)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "gemtutor-tui fatal error: %v\n", err)
		os.Exit(1)
	}
}
