package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

type doneMsg struct{ err error }

// statusMsg replaces the waiter's status line.
type statusMsg string

// printMsg is printed above the spinner and scrolls with the terminal.
type printMsg string

// waiter shows a spinner while background work runs. Cancelling cancels the
// work and keeps waiting for it to return.
type waiter struct {
	spinner   spinner.Model
	title     string
	status    string
	cancel    context.CancelFunc
	cancelled bool
	done      bool
	err       error
}

func newWaiter(title string, cancel context.CancelFunc) waiter {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = SelectorCursor
	return waiter{spinner: sp, title: title, cancel: cancel}
}

func (m waiter) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m waiter) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			if !m.cancelled {
				m.cancelled = true
				m.cancel()
			}
		}
		return m, nil

	case statusMsg:
		m.status = string(msg)
		return m, nil

	case printMsg:
		return m, tea.Println(string(msg))

	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m waiter) View() string {
	if m.done {
		if m.err != nil {
			return Failure(m.title) + "\n"
		}
		return Success(m.title) + "\n"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), m.title))
	if m.status != "" {
		b.WriteString(fmt.Sprintf("  %s %s\n", SymbolTree, DimStyle.Render(m.status)))
	}
	if m.cancelled {
		b.WriteString(HelpStyle.Render("  cancelling...") + "\n")
	} else {
		b.WriteString(HelpStyle.Render("  esc to cancel") + "\n")
	}
	return b.String()
}

// Reporter lets work talk to the terminal while the spinner runs.
type Reporter interface {
	// Status replaces the line shown under the spinner.
	Status(string)
	// Print writes a block above the spinner.
	Print(string)
}

type programReporter struct{ p *tea.Program }

func (r programReporter) Status(s string) { r.p.Send(statusMsg(s)) }
func (r programReporter) Print(s string)  { r.p.Send(printMsg(s)) }

// Wait runs work behind a spinner and returns its error.
func Wait(ctx context.Context, title string, work func(ctx context.Context, r Reporter) error, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newWaiter(title, cancel), opts...)
	go func() {
		err := work(ctx, programReporter{p})
		p.Send(doneMsg{err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return err
	}
	return final.(waiter).err
}
