package ui

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// ErrCancelled is returned when the user leaves a selector without choosing.
var ErrCancelled = errors.New("selection cancelled")

// SelectorItem is one choice, such as an authorized account.
type SelectorItem struct {
	ID          string
	Label       string
	Description string
}

// Selector is an interactive list selector.
type Selector struct {
	title    string
	items    []SelectorItem
	cursor   int
	selected int
	active   bool
}

// NewSelector creates a selector with the cursor on the first item.
func NewSelector(title string, items []SelectorItem) Selector {
	return Selector{
		title:    title,
		items:    items,
		selected: -1,
		active:   true,
	}
}

// Selected returns the chosen item ID, or empty if cancelled.
func (s Selector) Selected() string {
	if s.selected >= 0 && s.selected < len(s.items) {
		return s.items[s.selected].ID
	}
	return ""
}

func (s Selector) Init() tea.Cmd { return nil }

func (s Selector) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok || !s.active {
		return s, nil
	}

	switch key.String() {
	case "up", "k":
		if s.cursor > 0 {
			s.cursor--
		}
	case "down", "j":
		if s.cursor < len(s.items)-1 {
			s.cursor++
		}
	case "enter":
		s.selected = s.cursor
		s.active = false
		return s, tea.Quit
	case "esc", "q", "ctrl+c":
		s.selected = -1
		s.active = false
		return s, tea.Quit
	}
	return s, nil
}

func (s Selector) View() string {
	if !s.active {
		return ""
	}

	var b strings.Builder
	b.WriteString(HelpStyle.Render(s.title + " (↑/↓ navigate, enter select, esc cancel)"))
	b.WriteString("\n\n")

	for i, item := range s.items {
		isCursor := i == s.cursor
		if isCursor {
			b.WriteString(SelectorCursor.Render(SymbolArrow) + " ")
		} else {
			b.WriteString("  ")
		}

		display := item.Label
		if display == "" {
			display = item.ID
		}
		label := fmt.Sprintf("%-44s", display)
		if isCursor {
			b.WriteString(SelectorActive.Render(label))
		} else {
			b.WriteString(SelectorItemStyle.Render(label))
		}
		if item.Description != "" {
			b.WriteString(DimStyle.Render(item.Description))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Select runs a selector and returns the chosen ID. A single item is
// returned without prompting.
func Select(title string, items []SelectorItem, opts ...tea.ProgramOption) (string, error) {
	switch len(items) {
	case 0:
		return "", ErrCancelled
	case 1:
		return items[0].ID, nil
	}

	final, err := tea.NewProgram(NewSelector(title, items), opts...).Run()
	if err != nil {
		return "", err
	}
	id := final.(Selector).Selected()
	if id == "" {
		return "", ErrCancelled
	}
	return id, nil
}
