package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/ragd/internal/generator"
	"github.com/fyrsmithlabs/ragd/internal/pipeline"
)

// DefaultMaxHistory is the number of turns kept in the session history.
const DefaultMaxHistory = 20

// Querier is the subset of *pipeline.Pipeline the chat uses.
type Querier interface {
	StreamQuery(ctx context.Context, req pipeline.QueryRequest) (*pipeline.StreamResult, error)
	Stats(ctx context.Context) (pipeline.Stats, error)
}

// Options configures the chat.
type Options struct {
	// ShowSources lists the retrieved chunks under each answer.
	ShowSources bool
	// MaxHistory bounds the turns sent with each question. Zero means
	// DefaultMaxHistory.
	MaxHistory int
}

func (o Options) withDefaults() Options {
	if o.MaxHistory <= 0 {
		o.MaxHistory = DefaultMaxHistory
	}
	return o
}

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entryError
	entryInfo
)

type entry struct {
	kind    entryKind
	text    string
	sources []pipeline.Source
}

type statsMsg struct {
	stats pipeline.Stats
	err   error
}

type streamStartedMsg struct {
	result *pipeline.StreamResult
}

type fragmentMsg struct {
	stream *generator.Stream
	text   string
}

type streamEndMsg struct {
	stream *generator.Stream
	err    error
}

// Model is the Bubble Tea model of the chat.
type Model struct {
	ctx     context.Context
	querier Querier
	opts    Options

	input    textinput.Model
	spinner  spinner.Model
	viewport viewport.Model
	bar      progress.Model

	history    []generator.Turn
	transcript []entry

	// In-flight question state.
	waiting  bool
	question string
	partial  string
	stream   *generator.Stream
	sources  []pipeline.Source

	status   string
	ready    bool
	quitting bool
}

// New creates the chat model. Queries run with ctx.
func New(ctx context.Context, q Querier, opts Options) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question (/clear, /sources, /quit)"
	ti.CharLimit = 8000
	ti.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(userStyle))

	return Model{
		ctx:      ctx,
		querier:  q,
		opts:     opts.withDefaults(),
		input:    ti,
		spinner:  sp,
		viewport: viewport.New(80, 20),
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(12), progress.WithoutPercentage()),
		status:   "Loading...",
	}
}

// History returns a copy of the session history.
func (m Model) History() []generator.Turn {
	return slices.Clone(m.history)
}

// Init starts the cursor blink and loads the index statistics.
func (m Model) Init() tea.Cmd {
	q, ctx := m.querier, m.ctx
	return tea.Batch(textinput.Blink, func() tea.Msg {
		stats, err := q.Stats(ctx)
		return statsMsg{stats: stats, err: err}
	})
}

// Update handles keys, window size and the answer stream.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, boxHeight := inputBoxStyle.GetFrameSize()
		reserved := 1 + 1 + boxHeight + 1 // header, status, input box
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved)
		m.input.Width = max(10, msg.Width-6)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
			return m.quit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case tea.KeyEnter:
			return m.submit()
		}

	case statsMsg:
		if msg.err != nil {
			m.status = "Stats unavailable: " + msg.err.Error()
		} else {
			m.status = fmt.Sprintf("%d chunks indexed from %d files", msg.stats.DocumentsInStore, msg.stats.SourceFiles)
		}
		return m, nil

	case streamStartedMsg:
		m.stream = msg.result.Stream
		m.sources = msg.result.Sources
		return m, recv(m.stream)

	case fragmentMsg:
		if msg.stream != m.stream {
			return m, nil
		}
		m.partial += msg.text
		m.refresh()
		return m, recv(m.stream)

	case streamEndMsg:
		if msg.stream != m.stream {
			return m, nil
		}
		m.finish(msg.err)
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	if m.stream != nil {
		_ = m.stream.Close()
		m.stream = nil
	}
	m.quitting = true
	return m, tea.Quit
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.waiting {
		return m, nil
	}
	text := strings.TrimSpace(m.input.Value())
	m.input.Reset()

	switch strings.ToLower(text) {
	case "":
		return m, nil
	case "quit", "exit", "/quit":
		return m.quit()
	case "/clear":
		m.history = nil
		m.transcript = nil
		m.transcript = append(m.transcript, entry{kind: entryInfo, text: "History cleared."})
		m.refresh()
		return m, nil
	case "/sources":
		m.opts.ShowSources = !m.opts.ShowSources
		state := "off"
		if m.opts.ShowSources {
			state = "on"
		}
		m.transcript = append(m.transcript, entry{kind: entryInfo, text: "Sources " + state + "."})
		m.refresh()
		return m, nil
	}

	m.transcript = append(m.transcript, entry{kind: entryUser, text: text})
	m.waiting = true
	m.question = text
	m.partial = ""
	m.sources = nil
	m.refresh()
	return m, tea.Batch(m.spinner.Tick, m.ask(text))
}

// ask starts a streaming query with a snapshot of the history.
func (m Model) ask(question string) tea.Cmd {
	req := pipeline.QueryRequest{
		Question:      question,
		History:       slices.Clone(m.history),
		ReturnSources: m.opts.ShowSources,
	}
	q, ctx := m.querier, m.ctx
	return func() tea.Msg {
		result, err := q.StreamQuery(ctx, req)
		if err != nil {
			return streamEndMsg{err: err}
		}
		return streamStartedMsg{result: result}
	}
}

func recv(s *generator.Stream) tea.Cmd {
	return func() tea.Msg {
		frag, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return streamEndMsg{stream: s}
		}
		if err != nil {
			return streamEndMsg{stream: s, err: err}
		}
		return fragmentMsg{stream: s, text: frag}
	}
}

// finish records the completed answer. A failed question is not added to
// the history.
func (m *Model) finish(err error) {
	if m.stream != nil {
		_ = m.stream.Close()
	}
	m.stream = nil
	m.waiting = false

	if err != nil {
		m.transcript = append(m.transcript, entry{kind: entryError, text: err.Error()})
	} else {
		m.transcript = append(m.transcript, entry{kind: entryAssistant, text: m.partial, sources: m.sources})
		m.history = appendTurns(m.history, m.opts.MaxHistory,
			generator.Turn{Role: generator.RoleUser, Content: m.question},
			generator.Turn{Role: generator.RoleAssistant, Content: m.partial},
		)
	}
	m.partial = ""
	m.sources = nil
	m.refresh()
}

// appendTurns appends turns and keeps at most limit of the newest.
func appendTurns(history []generator.Turn, limit int, turns ...generator.Turn) []generator.Turn {
	history = append(history, turns...)
	if len(history) > limit {
		history = slices.Clone(history[len(history)-limit:])
	}
	return history
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	width := max(20, m.viewport.Width-2)
	wrap := lipgloss.NewStyle().Width(width)

	var b strings.Builder
	for _, e := range m.transcript {
		switch e.kind {
		case entryUser:
			b.WriteString(userStyle.Render("You: ") + wrap.Render(e.text))
		case entryAssistant:
			b.WriteString(assistantStyle.Inherit(wrap).Render(e.text))
			b.WriteString(m.renderSources(e.sources))
		case entryError:
			b.WriteString(errorStyle.Render("Error: ") + wrap.Render(e.text))
		case entryInfo:
			b.WriteString(statusStyle.Render(e.text))
		}
		b.WriteString("\n\n")
	}
	if m.waiting {
		b.WriteString(assistantStyle.Inherit(wrap).Render(m.partial))
		b.WriteString(m.spinner.View())
	}
	return b.String()
}

func (m Model) renderSources(sources []pipeline.Source) string {
	if len(sources) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n")
	for i, src := range sources {
		fmt.Fprintf(&b, "\n%s %s %s",
			sourceStyle.Render(fmt.Sprintf("[%d]", i+1)),
			m.bar.ViewAs(src.Similarity),
			sourceStyle.Render(fmt.Sprintf("%.2f %s #%d", src.Similarity, src.SourcePath, src.ChunkIndex)),
		)
	}
	return b.String()
}

// View renders the chat.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("ragd chat")
	return header + "\n" +
		m.viewport.View() + "\n" +
		inputBoxStyle.Render(m.input.View()) + "\n" +
		statusStyle.Render(m.status)
}
