// Package tui is a terminal UI over the answer pipeline: type a question,
// watch the answer stream in, and browse the chunks it was grounded on.
package tui

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"docbot/internal/answer"
	"docbot/internal/domain"
	"docbot/internal/textutil"
)

// Answerer is the TUI-facing subset of the answer pipeline.
type Answerer interface {
	Answer(ctx context.Context, req answer.Request, out chan<- domain.StreamEvent) (*answer.Result, error)
}

type pane int

const (
	paneAnswer pane = iota
	paneSources
)

// streamMsg carries one event of the running answer.
type streamMsg struct {
	id int
	ev domain.StreamEvent
}

// streamEndMsg reports that the answer stream finished.
type streamEndMsg struct {
	id  int
	err error
}

// stream is one in-flight answer.
type stream struct {
	id     int
	events chan domain.StreamEvent
	errc   chan error
	cancel context.CancelFunc
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	answerer Answerer
	ctx      context.Context
	k        int
	session  string

	input    textinput.Model
	viewport viewport.Model
	summary  string
	status   string
	ready    bool

	pane      pane
	answer    strings.Builder
	results   []domain.RetrievalResult
	cursor    int
	lastQuery string

	active *stream
	nextID int
}

// Config wires a Model.
type Config struct {
	Answerer  Answerer
	K         int
	SessionID string
	Summary   string // shown under the title, e.g. corpus status
}

// New creates a new TUI model. ctx bounds every answer it starts.
func New(ctx context.Context, cfg Config) *Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	if cfg.SessionID == "" {
		cfg.SessionID = "tui:" + uuid.NewString()
	}
	return &Model{
		answerer: cfg.Answerer,
		ctx:      ctx,
		k:        cfg.K,
		session:  cfg.SessionID,
		input:    ti,
		viewport: viewport.New(0, 0),
		summary:  cfg.Summary,
		status:   "Ready. Enter asks, Tab switches answer/sources, Esc cancels, Ctrl+C quits.",
	}
}

// Init initializes the model (text input cursor blink).
func (m *Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and stream events.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header+summary, status, spacer
		vh := msg.Height - reserved
		m.viewport.Width = max(20, msg.Width-4)
		m.viewport.Height = max(3, vh-rh)
		m.refresh()
		return m, nil

	case streamMsg:
		if m.active == nil || msg.id != m.active.id {
			return m, nil
		}
		switch msg.ev.Type {
		case domain.StreamSnippets:
			m.results = msg.ev.Results
			m.cursor = 0
		case domain.StreamToken, domain.StreamError:
			m.answer.WriteString(msg.ev.Content)
		}
		m.refresh()
		return m, m.wait()

	case streamEndMsg:
		if m.active == nil || msg.id != m.active.id {
			return m, nil
		}
		m.active.cancel()
		m.active = nil
		switch {
		case msg.err == nil:
			m.status = fmt.Sprintf("Answered %q from %d sources.", m.lastQuery, len(m.results))
		case errors.Is(msg.err, context.Canceled):
			m.status = "Cancelled."
		default:
			m.status = "Error: " + msg.err.Error()
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			m.stop()
			return m, tea.Quit
		case tea.KeyEsc:
			if m.active != nil {
				m.stop()
				m.status = "Cancelled."
			}
			return m, nil
		case tea.KeyTab:
			if m.pane == paneAnswer {
				m.pane = paneSources
			} else {
				m.pane = paneAnswer
			}
			m.refresh()
			return m, nil
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if q == "" {
				return m, nil
			}
			m.input.SetValue("")
			return m, m.ask(q)
		case tea.KeyDown:
			if m.pane == paneSources && len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.refresh()
				return m, nil
			}
		case tea.KeyUp:
			if m.pane == paneSources && len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.refresh()
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// ask cancels any running answer and starts a new one.
func (m *Model) ask(q string) tea.Cmd {
	m.stop()
	m.nextID++
	ctx, cancel := context.WithCancel(m.ctx)
	s := &stream{
		id:     m.nextID,
		events: make(chan domain.StreamEvent),
		errc:   make(chan error, 1),
		cancel: cancel,
	}
	go func() {
		_, err := m.answerer.Answer(ctx, answer.Request{Query: q, K: m.k, SessionID: m.session}, s.events)
		s.errc <- err
		close(s.events)
	}()

	m.active = s
	m.lastQuery = q
	m.answer.Reset()
	m.results = nil
	m.cursor = 0
	m.pane = paneAnswer
	m.status = fmt.Sprintf("Answering %q...", q)
	m.refresh()
	return m.wait()
}

// wait reads the next event of the active stream.
func (m *Model) wait() tea.Cmd {
	s := m.active
	if s == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-s.events
		if !ok {
			return streamEndMsg{id: s.id, err: <-s.errc}
		}
		return streamMsg{id: s.id, ev: ev}
	}
}

func (m *Model) stop() {
	if m.active == nil {
		return
	}
	s := m.active
	m.active = nil
	s.cancel()
	// Unblock the producer; the pending wait() command may also be reading.
	go func() {
		for range s.events {
		}
	}()
}

// View renders the TUI layout.
func (m *Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	title := "docbot"
	if m.pane == paneSources {
		title += "  [sources]"
	} else {
		title += "  [answer]"
	}
	header := lipgloss.NewStyle().Bold(true).Render(title)
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	body := resultBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return header + "\n" + summary + "\n" + body + "\n" + input + "\n" + status
}

func (m *Model) refresh() {
	if m.pane == paneSources {
		m.viewport.SetContent(m.renderSource())
		return
	}
	m.viewport.SetContent(m.renderAnswer())
	m.viewport.GotoBottom()
}

func (m *Model) renderAnswer() string {
	if m.answer.Len() == 0 {
		if m.active != nil {
			return "Thinking..."
		}
		return "No answer yet."
	}
	return lipgloss.NewStyle().Width(m.viewport.Width).Render(m.answer.String())
}

func (m *Model) renderSource() string {
	if len(m.results) == 0 {
		return "No sources yet."
	}
	r := m.results[m.cursor]
	title := fmt.Sprintf("Source %d/%d  %s #%d  score=%.3f", m.cursor+1, len(m.results), r.Source, r.ChunkID, r.Score)
	body := highlightBestSentence(r.Text, m.lastQuery)
	return title + "\n\n" + lipgloss.NewStyle().Width(m.viewport.Width).Render(body)
}

// Answer returns the text streamed so far.
func (m *Model) Answer() string { return m.answer.String() }

// Results returns the sources of the current answer.
func (m *Model) Results() []domain.RetrievalResult { return m.results }

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence emphasises the sentence sharing the most terms with
// the query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTerms := termSet(query)
	if len(qTerms) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		score := 0
		for t := range termSet(s) {
			if _, ok := qTerms[t]; ok {
				score++
			}
		}
		if score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func termSet(s string) map[string]struct{} {
	terms := textutil.Terms(s)
	m := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		m[t] = struct{}{}
	}
	return m
}
