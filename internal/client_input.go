package internal

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
)

// textInput wraps a bubbles textarea so the composer can drive it. The
// composer may push text from a submit goroutine, so every access goes
// through mu.
type textInput struct {
	mu   sync.Mutex
	area textarea.Model
}

func newTextInput() *textInput {
	area := textarea.New()
	area.Placeholder = "Write a message…"
	area.ShowLineNumbers = false
	area.Prompt = "┃ "
	area.CharLimit = 0
	area.SetHeight(3)
	// enter is decided by the composer; newlines come from insertNewline
	area.KeyMap.InsertNewline.SetEnabled(false)
	return &textInput{area: area}
}

func (t *textInput) Focus() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.area.Focus()
}

func (t *textInput) Blur() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.area.Blur()
}

func (t *textInput) Value() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.area.Value()
}

func (t *textInput) SetValue(value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.area.Value() != value {
		t.area.SetValue(value)
	}
}

// CaretPosition is the caret as a rune offset into Value.
func (t *textInput) CaretPosition() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := strings.Split(t.area.Value(), "\n")
	row := min(t.area.Line(), len(lines)-1)
	caret := 0
	for _, line := range lines[:row] {
		caret += utf8.RuneCountInString(line) + 1
	}
	info := t.area.LineInfo()
	col := min(info.StartColumn+info.ColumnOffset, utf8.RuneCountInString(lines[row]))
	return caret + col
}

func (t *textInput) SetCaret(caret int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	value := t.area.Value()
	row, col := caretToRowCol(value, caret)
	limit := utf8.RuneCountInString(value) + 1
	for i := 0; t.area.Line() > row && i < limit; i++ {
		t.area.CursorUp()
	}
	for i := 0; t.area.Line() < row && i < limit; i++ {
		t.area.CursorDown()
	}
	t.area.SetCursor(col)
}

func (t *textInput) insertNewline() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.area.InsertString("\n")
}

func (t *textInput) update(msg tea.Msg) tea.Cmd {
	t.mu.Lock()
	defer t.mu.Unlock()
	var cmd tea.Cmd
	t.area, cmd = t.area.Update(msg)
	return cmd
}

func (t *textInput) setWidth(width int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.area.SetWidth(width)
}

func (t *textInput) view() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.area.View()
}

// caretToRowCol maps a rune offset to a line and a column within it.
func caretToRowCol(value string, caret int) (int, int) {
	lines := strings.Split(value, "\n")
	caret = max(caret, 0)
	for row, line := range lines {
		n := utf8.RuneCountInString(line)
		if caret <= n {
			return row, caret
		}
		caret -= n + 1
	}
	last := len(lines) - 1
	return last, utf8.RuneCountInString(lines[last])
}
