package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestSelector(t *testing.T) {
	items := []SelectorItem{{ID: "0xa"}, {ID: "0xb"}, {ID: "0xc"}}

	t.Run("navigate and select", func(t *testing.T) {
		var m tea.Model = NewSelector("Pick", items)
		m, _ = m.Update(key("down"))
		m, _ = m.Update(key("down"))
		m, _ = m.Update(key("down"))
		m, _ = m.Update(key("up"))
		m, cmd := m.Update(key("enter"))

		assert.Equal(t, "0xb", m.(Selector).Selected())
		require.NotNil(t, cmd)
		assert.Empty(t, m.View())
	})

	t.Run("cancel", func(t *testing.T) {
		var m tea.Model = NewSelector("Pick", items)
		m, _ = m.Update(key("esc"))
		assert.Equal(t, "", m.(Selector).Selected())
	})

	t.Run("view marks cursor", func(t *testing.T) {
		view := NewSelector("Pick", items).View()
		assert.Contains(t, view, SymbolArrow)
		assert.Contains(t, view, "0xc")
	})

	t.Run("single item skips prompt", func(t *testing.T) {
		id, err := Select("Pick", items[:1])
		require.NoError(t, err)
		assert.Equal(t, "0xa", id)

		_, err = Select("Pick", nil)
		assert.ErrorIs(t, err, ErrCancelled)
	})
}

func TestConfirm(t *testing.T) {
	var m tea.Model = confirm{question: "Sign?"}
	m, cmd := m.Update(key("x"))
	assert.Nil(t, cmd)
	assert.False(t, m.(confirm).answered)

	m, cmd = m.Update(key("y"))
	assert.NotNil(t, cmd)
	assert.True(t, m.(confirm).yes)

	m, _ = confirm{question: "Sign?"}.Update(key("enter"))
	assert.True(t, m.(confirm).answered)
	assert.False(t, m.(confirm).yes)
	assert.Contains(t, m.View(), "declined")
}

func TestWaiter(t *testing.T) {
	cancelled := 0
	var m tea.Model = newWaiter("Waiting for approval", func() { cancelled++ })

	m, _ = m.Update(statusMsg("pairing created"))
	assert.Contains(t, m.View(), "pairing created")

	_, cmd := m.Update(printMsg("wc:topic@2"))
	assert.NotNil(t, cmd)

	m, _ = m.Update(key("esc"))
	m, _ = m.Update(key("esc"))
	assert.Equal(t, 1, cancelled)
	assert.Contains(t, m.View(), "cancelling")

	boom := errors.New("boom")
	m, cmd = m.Update(doneMsg{err: boom})
	assert.NotNil(t, cmd)
	assert.ErrorIs(t, m.(waiter).err, boom)
	assert.Contains(t, m.View(), SymbolCross)
}

func TestWait(t *testing.T) {
	var out bytes.Buffer
	err := Wait(context.Background(), "working", func(ctx context.Context, r Reporter) error {
		r.Status("halfway")
		r.Print("pairing uri")
		return nil
	}, tea.WithInput(nil), tea.WithOutput(&out))
	require.NoError(t, err)

	err = Wait(context.Background(), "working", func(ctx context.Context, _ Reporter) error {
		return context.DeadlineExceeded
	}, tea.WithInput(nil), tea.WithOutput(&out))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestURIBlock(t *testing.T) {
	block := URIBlock("wc:abc@2?relay-protocol=rpc")
	assert.Contains(t, block, "wc:abc@2?relay-protocol=rpc")
	assert.Greater(t, strings.Count(block, "\n"), 10)
	assert.False(t, strings.HasSuffix(block, "\n"))
}
