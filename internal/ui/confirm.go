package ui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// confirm is a y/n question. Anything but an explicit yes declines.
type confirm struct {
	question string
	details  []string
	answered bool
	yes      bool
}

func (m confirm) Init() tea.Cmd { return nil }

func (m confirm) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch strings.ToLower(key.String()) {
	case "y":
		m.answered, m.yes = true, true
	case "n", "enter", "esc", "ctrl+c", "q":
		m.answered, m.yes = true, false
	default:
		return m, nil
	}
	return m, tea.Quit
}

func (m confirm) View() string {
	var b strings.Builder
	b.WriteString(WarningStyle.Render(SymbolBullet) + " " + TitleStyle.Render(m.question) + "\n")
	for _, d := range m.details {
		b.WriteString("  " + SymbolTree + " " + d + "\n")
	}
	if m.answered {
		if m.yes {
			b.WriteString(Success("approved") + "\n")
		} else {
			b.WriteString(Failure("declined") + "\n")
		}
		return b.String()
	}
	b.WriteString(HelpStyle.Render("  y approve · n decline") + "\n")
	return b.String()
}

// Confirm asks question and reports whether the user approved.
func Confirm(question string, details []string, opts ...tea.ProgramOption) (bool, error) {
	final, err := tea.NewProgram(confirm{question: question, details: details}, opts...).Run()
	if err != nil {
		return false, err
	}
	return final.(confirm).yes, nil
}
