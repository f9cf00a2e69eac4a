package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/vbridge/bridge"
	"github.com/wippyai/vbridge/config"
	"github.com/wippyai/vbridge/variant"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	recordStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateSelectRecord modelState = iota
	stateInputScript
	stateShowResult
)

type interactiveModel struct {
	ctx      context.Context
	err      error
	cfg      *config.Config
	reg      *bridge.Registry
	runner   runner
	module   string
	result   string
	records  []*variant.Record
	input    textinput.Model
	history  []string
	selected int
	state    modelState
}

type loadedMsg struct {
	err    error
	runner runner
}

type runResultMsg struct {
	err    error
	result string
}

func newInteractiveModel(ctx context.Context, cfg *config.Config, reg *bridge.Registry, recs []*variant.Record, module string) *interactiveModel {
	ti := textinput.New()
	ti.Prompt = cfg.Engine + "> "
	ti.Width = 60
	switch cfg.Engine {
	case config.EngineLua:
		ti.Placeholder = "return variant.id, #variant.genotypes"
	case config.EngineJS:
		ti.Placeholder = "variant.genotypes[0].gt"
	default:
		ti.Placeholder = "export name"
	}
	return &interactiveModel{
		ctx:     ctx,
		cfg:     cfg,
		reg:     reg,
		module:  module,
		records: recs,
		input:   ti,
		state:   stateSelectRecord,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.load
}

func (m *interactiveModel) load() tea.Msg {
	rn, err := newRunner(m.ctx, m.cfg.Engine, m.reg, m.module)
	return loadedMsg{err: err, runner: rn}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m.quit()

		case "q":
			if m.state != stateInputScript {
				return m.quit()
			}

		case "up", "k":
			if m.state == stateSelectRecord && m.selected > 0 {
				m.selected--
			}
			if m.state == stateInputScript && msg.String() == "up" && len(m.history) > 0 {
				m.input.SetValue(m.history[len(m.history)-1])
			}

		case "down", "j":
			if m.state == stateSelectRecord && m.selected < len(m.records)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectRecord:
				m.state = stateInputScript
				m.input.Focus()
				return m, textinput.Blink

			case stateInputScript:
				script := strings.TrimSpace(m.input.Value())
				if script == "" {
					return m, nil
				}
				m.history = append(m.history, script)
				return m, m.runScript(script)

			case stateShowResult:
				m.state = stateInputScript
				m.result = ""
				m.err = nil
				m.input.SetValue("")
				return m, nil
			}

		case "esc":
			switch m.state {
			case stateInputScript:
				m.state = stateSelectRecord
				m.input.Blur()
			case stateShowResult:
				m.state = stateSelectRecord
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.runner = msg.runner

	case runResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
		m.input.Blur()
	}

	if m.state == stateInputScript {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *interactiveModel) quit() (tea.Model, tea.Cmd) {
	if m.runner != nil {
		m.runner.Close()
	}
	return m, tea.Quit
}

func (m *interactiveModel) runScript(script string) tea.Cmd {
	rec := m.records[m.selected]
	return func() tea.Msg {
		if m.runner == nil {
			return runResultMsg{err: fmt.Errorf("engine not loaded")}
		}
		out, err := runRecord(m.ctx, m.reg, m.cfg.Mode(), m.runner, rec, script)
		return runResultMsg{result: out, err: err}
	}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if m.runner == nil {
		return "Starting " + m.cfg.Engine + "..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("vbridge"))
	b.WriteString(fmt.Sprintf(" %s, %d records, %s\n\n", m.cfg.Engine, len(m.records), m.cfg.Mode()))

	switch m.state {
	case stateSelectRecord:
		b.WriteString("Select a record:\n\n")
		for i, rec := range m.records {
			line := describe(rec)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + recordStyle.Render(line))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter script • q quit"))

	case stateInputScript:
		b.WriteString(fmt.Sprintf("Record %s\n\n", recordStyle.Render(describe(m.records[m.selected]))))
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter run • ↑ last script • esc back"))

	case stateShowResult:
		b.WriteString(fmt.Sprintf("Record %s\n\n", recordStyle.Render(describe(m.records[m.selected]))))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
			b.WriteString("\n\n")
			b.WriteString(m.records[m.selected].String())
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter next script • esc records • q quit"))
	}
	return b.String()
}

func describe(rec *variant.Record) string {
	id := rec.ID()
	if id == "" {
		id = "."
	}
	return fmt.Sprintf("%s:%d %s %s>%s", rec.Chrom(), rec.Pos(), id, rec.Ref(), strings.Join(rec.Alts(), ","))
}

func runInteractive(ctx context.Context, cfg *config.Config, reg *bridge.Registry, recs []*variant.Record, module string) error {
	if len(recs) == 0 {
		return fmt.Errorf("no records to show")
	}
	p := tea.NewProgram(newInteractiveModel(ctx, cfg, reg, recs, module), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
