// Package harness is the interactive TUI that exercises the shim core
// against a mock core peer: it shows the pipe state and the structured
// log tail, captures what the dock page would receive, and submits dock
// actions typed either as shorthand commands or raw JSON.
package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/telemy/aegis-shim/internal/core"
	"github.com/telemy/aegis-shim/internal/log"
	"github.com/telemy/aegis-shim/internal/pubsub"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	downStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	sinkStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	logStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	inputBoxStyle = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderTop(true)
)

type logMsg log.Entry
type sinkMsg pubsub.SinkCall

// Model is the Bubble Tea model for the harness.
type Model struct {
	core     *core.Core
	input    textinput.Model
	lines    []string
	maxLines int
	width    int
	height   int
	pipeOK   bool

	sink   *pubsub.Broker[pubsub.SinkCall]
	sinkCh <-chan pubsub.Event[pubsub.SinkCall]
	logCh  <-chan log.LogEvent
	cancel context.CancelFunc
}

// NewModel wires a model around a started core. It registers a JS
// executor that republishes every dock-bridge call through a replay
// broker, so the transcript sees the latest sink call even when the model
// subscribes after the core has been running.
func NewModel(c *core.Core, maxLogLines int) *Model {
	if maxLogLines <= 0 {
		maxLogLines = 500
	}
	input := textinput.New()
	input.Placeholder = `/status, /mode irl, /setting alerts true, /switch Main, or raw JSON`
	input.Focus()
	input.CharLimit = 4096

	ctx, cancel := context.WithCancel(context.Background())

	sink := pubsub.NewReplayBroker[pubsub.SinkCall]()
	m := &Model{
		core:     c,
		input:    input,
		maxLines: maxLogLines,
		sink:     sink,
		sinkCh:   sink.Subscribe(ctx),
		logCh:    log.NewListener(ctx),
		cancel:   cancel,
	}

	c.RegisterJSExecutor(func(js string, _ any) bool {
		sink.Publish(pubsub.EventSinkCall, pubsub.SinkCall{
			Method: parseSinkMethod(js),
			JS:     js,
		})
		return true
	}, nil)
	c.PageReady()

	return m
}

// Init starts the listener pumps.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.waitForLog(), m.waitForSink())
}

func (m *Model) waitForLog() tea.Cmd {
	return func() tea.Msg {
		if m.logCh == nil {
			return nil
		}
		event, ok := <-m.logCh
		if !ok {
			return nil
		}
		return logMsg(event.Payload)
	}
}

func (m *Model) waitForSink() tea.Cmd {
	return func() tea.Msg {
		event, ok := <-m.sinkCh
		if !ok {
			return nil
		}
		return sinkMsg(event.Payload)
	}
}

// Update handles input and listener messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case logMsg:
		entry := log.Entry(msg)
		if entry.Category == log.CatIPC && entry.Message == "ipc pipe state" {
			m.pipeOK = strings.Contains(entry.Fields, "connected=true")
		}
		m.appendLine(logStyle.Render(renderEntry(entry)))
		return m, m.waitForLog()

	case sinkMsg:
		call := pubsub.SinkCall(msg)
		label := call.Method
		if label == "" {
			label = "js"
		}
		m.appendLine(sinkStyle.Render(fmt.Sprintf("js> %s %s", label, summarizeJS(call.JS))))
		return m, m.waitForSink()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancel()
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line != "" {
				m.submit(line)
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the pipe status header, the transcript, and the input box.
func (m *Model) View() string {
	status := downStyle.Render("● pipe down")
	if m.pipeOK {
		status = okStyle.Render("● pipe ok")
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render("aegis-shim harness"), "  ", status)

	body := strings.Join(m.visibleLines(), "\n")
	if m.width > 0 {
		body = wordwrap.String(body, m.width)
	}

	help := helpStyle.Render("enter: submit  esc: quit")
	input := inputBoxStyle.Render(m.input.View())

	return lipgloss.JoinVertical(lipgloss.Left, header, body, input, help)
}

func (m *Model) visibleLines() []string {
	visible := m.height - 5
	if visible <= 0 || len(m.lines) <= visible {
		return m.lines
	}
	return m.lines[len(m.lines)-visible:]
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > m.maxLines {
		m.lines = m.lines[len(m.lines)-m.maxLines:]
	}
}

// submit translates a shorthand command into a dock action, or passes raw
// JSON straight to the intake.
func (m *Model) submit(line string) {
	actionJSON, err := TranslateCommand(line)
	if err != nil {
		m.appendLine(downStyle.Render("error: " + err.Error()))
		return
	}
	accepted := m.core.SubmitActionJSON(actionJSON)
	log.Info(log.CatHarness, "action submitted", "accepted", accepted, "json", actionJSON)
}

// TranslateCommand maps harness shorthand to dock-action JSON. Raw JSON
// (anything starting with '{') passes through unchanged.
func TranslateCommand(line string) (string, error) {
	if strings.HasPrefix(line, "{") {
		return line, nil
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty command")
	}
	switch fields[0] {
	case "/status":
		return `{"type":"request_status"}`, nil
	case "/mode":
		if len(fields) != 2 {
			return "", fmt.Errorf("usage: /mode studio|irl")
		}
		return fmt.Sprintf(`{"type":"set_mode","mode":%q}`, fields[1]), nil
	case "/setting":
		if len(fields) != 3 || (fields[2] != "true" && fields[2] != "false") {
			return "", fmt.Errorf("usage: /setting <key> true|false")
		}
		return fmt.Sprintf(`{"type":"set_setting","key":%q,"value":%s}`, fields[1], fields[2]), nil
	case "/switch":
		if len(fields) < 2 {
			return "", fmt.Errorf("usage: /switch <scene name>")
		}
		name := strings.Join(fields[1:], " ")
		return fmt.Sprintf(`{"type":"switch_scene","sceneName":%q}`, name), nil
	default:
		return "", fmt.Errorf("unknown command %q", fields[0])
	}
}

// renderEntry is the compact single-line transcript form (no date part).
func renderEntry(e log.Entry) string {
	line := fmt.Sprintf("%s [%s] %s", e.Time.Format("15:04:05"), e.Category, e.Message)
	if e.Fields != "" {
		line += " " + e.Fields
	}
	return line
}

// parseSinkMethod pulls the dock bridge method name out of a guarded JS
// call produced by the executor.
func parseSinkMethod(js string) string {
	const prefix = "window.aegisDockNative."
	idx := strings.LastIndex(js, prefix)
	if idx < 0 {
		return ""
	}
	rest := js[idx+len(prefix):]
	end := strings.IndexByte(rest, '(')
	if end <= 0 {
		return ""
	}
	return rest[:end]
}

func summarizeJS(js string) string {
	const limit = 200
	js = strings.ReplaceAll(js, "\n", " ")
	if len(js) > limit {
		return js[:limit] + "…"
	}
	return js
}
