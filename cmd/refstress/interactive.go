package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/ownership/internal/stress"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB")).
			Width(20)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateRunning modelState = iota
	stateDone
)

type progressMsg stress.Progress

type doneMsg struct {
	err    error
	report stress.Report
}

type interactiveModel struct {
	err      error
	cancel   context.CancelFunc
	spinner  spinner.Model
	report   stress.Report
	progress stress.Progress
	cfg      stress.Config
	state    modelState
}

func newInteractiveModel(cfg stress.Config, cancel context.CancelFunc) *interactiveModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = valueStyle
	return &interactiveModel{
		cfg:     cfg,
		cancel:  cancel,
		spinner: s,
		state:   stateRunning,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.cancel()
			return m, tea.Quit
		case "enter":
			if m.state == stateDone {
				return m, tea.Quit
			}
		}

	case progressMsg:
		m.progress = stress.Progress(msg)

	case doneMsg:
		m.report = msg.report
		m.err = msg.err
		m.state = stateDone
		return m, nil

	case spinner.TickMsg:
		if m.state != stateRunning {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Ownership Stress"))
	b.WriteString(fmt.Sprintf(" %d lockers, %d holders, %d observers\n\n",
		m.cfg.Lockers, m.cfg.Holders, m.cfg.Observers))

	switch m.state {
	case stateRunning:
		b.WriteString(m.spinner.View())
		b.WriteString(fmt.Sprintf(" round %d/%d\n\n", m.progress.Round, m.cfg.Rounds))
		m.row(&b, "Promotions", m.progress.Promotions)
		m.row(&b, "Failed promotions", m.progress.FailedPromotions)
		m.row(&b, "Violations", m.progress.Violations)
		m.row(&b, "Elapsed", m.progress.Elapsed.Round(time.Millisecond))
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("q cancel"))

	case stateDone:
		m.row(&b, "Rounds", m.report.Rounds)
		m.row(&b, "Promotions", m.report.Promotions)
		m.row(&b, "Failed promotions", m.report.FailedPromotions)
		m.row(&b, "Violations", m.report.Violations)
		m.row(&b, "Elapsed", m.report.Elapsed.Round(time.Millisecond))
		b.WriteString("\n")
		switch {
		case stderrors.Is(m.err, context.Canceled):
			b.WriteString(helpStyle.Render("Cancelled."))
		case m.err != nil:
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		default:
			b.WriteString(resultStyle.Render("No violations."))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter/q quit"))
	}

	return b.String()
}

func (m *interactiveModel) row(b *strings.Builder, label string, value any) {
	b.WriteString(labelStyle.Render(label))
	b.WriteString(valueStyle.Render(fmt.Sprint(value)))
	b.WriteString("\n")
}

func runInteractive(ctx context.Context, cfg stress.Config, logger *zap.Logger) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("interactive mode requires a terminal")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newInteractiveModel(cfg, cancel)
	p := tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		rep, err := stress.Run(ctx, cfg, logger, func(pr stress.Progress) {
			p.Send(progressMsg(pr))
		})
		p.Send(doneMsg{report: rep, err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(*interactiveModel); ok && fm.err != nil && !stderrors.Is(fm.err, context.Canceled) {
		return fm.err
	}
	return nil
}
