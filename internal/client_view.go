package internal

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"termpost/internal/compose"
	"termpost/internal/model"
)

// pre styled colors, all from lipgloss
var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	menuBoxStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	menuHotkeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	noticeBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(0, 1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109"))
	connectedStyle     = statusStyle.Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Foreground(lipgloss.Color("178")).Italic(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(0, 1).MarginTop(1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	highlightBoxStyle  = inputBoxStyle.BorderForeground(lipgloss.Color("196"))
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Foreground(lipgloss.Color("213"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	errorStyle         = statusStyle.Foreground(lipgloss.Color("196")).Bold(true)
	attachmentStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("110"))
	reactionStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("180"))
	selectedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	itemStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	priorityStyles     = map[string]lipgloss.Style{
		model.PriorityImportant: lipgloss.NewStyle().Foreground(lipgloss.Color("33")).Bold(true),
		model.PriorityUrgent:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
	userColorPalette = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

const shownMessages = 20

func (m *TUIModel) View() string {
	switch m.mode {
	case modeJoinPrompt:
		return m.renderPrompt("Join a channel", "Enter a channel name and press Enter. New channels are created on join.")
	case modeDialog:
		return m.renderDialogView()
	}
	return m.renderChatView()
}

func (m *TUIModel) renderPrompt(title, hint string) string {
	sections := []string{
		appTitleStyle.Render(title),
		menuHintStyle.Render(hint),
	}
	if notices := m.renderNotices(); notices != "" {
		sections = append(sections, notices)
	}
	sections = append(sections, inputBoxStyle.Render(m.prompt.View()))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *TUIModel) renderDialogView() string {
	if m.dialog == nil {
		return m.renderChatView()
	}
	switch m.dialog.Kind {
	case compose.DialogResetStatus:
		body := fmt.Sprintf("You are out of office. Set your status to %q and turn off automatic replies?", m.dialog.Status)
		return lipgloss.JoinVertical(lipgloss.Left,
			appTitleStyle.Render("Reset status"),
			menuBoxStyle.Render(body),
			menuHintStyle.Render("y) Yes  •  n) No"))
	case compose.DialogPurpose:
		return m.renderPrompt("Edit channel purpose", "Enter saves, Esc cancels.")
	case compose.DialogRename:
		return m.renderPrompt("Rename channel", "Enter saves, Esc cancels.")
	}
	return m.renderPrompt("Edit channel header", "Enter saves, Esc cancels.")
}

func (m *TUIModel) renderChatView() string {
	view := m.composer.View()

	headerSegments := []string{"termpost"}
	if m.channel != nil {
		name := m.channel.DisplayName
		if name == "" {
			name = m.channel.ID
		}
		headerSegments = append(headerSegments, "#"+name)
	} else if m.channelKey != "" {
		headerSegments = append(headerSegments, "#"+m.channelKey)
	}
	if m.rootID != "" {
		headerSegments = append(headerSegments, "thread")
	}
	headerSegments = append(headerSegments, fmt.Sprintf("User %s", m.username))
	header := chatHeaderStyle.Render(strings.Join(headerSegments, dividerStyle))

	var statusLine string
	switch {
	case m.connectionError != nil:
		statusLine = errorStyle.Render("Connection error: " + m.connectionError.Error())
	case m.isConnected:
		statusLine = connectedStyle.Render("Connected")
	default:
		statusLine = connectingStyle.Render("Connecting…")
	}

	sections := []string{header, statusLine}
	if m.channel != nil && m.channel.Header != "" {
		sections = append(sections, timestampStyle.Render(m.channel.Header))
	}
	sections = append(sections, messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, m.renderMessages()...)))
	if typing := m.typingUsers(); len(typing) > 0 {
		sort.Strings(typing)
		sections = append(sections, timestampStyle.Render(strings.Join(typing, ", ")+" typing…"))
	}
	if notices := m.renderNotices(); notices != "" {
		sections = append(sections, notices)
	}

	switch m.mode {
	case modeConfirm:
		sections = append(sections, m.renderConfirm())
	case modeFileBrowser:
		sections = append(sections, m.renderFileBrowser())
	case modeEmoji:
		sections = append(sections, m.renderEmojiPicker())
	}
	sections = append(sections, m.renderComposer(view)...)
	sections = append(sections, menuHintStyle.Render(chatHints(m.mode)))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *TUIModel) renderMessages() []string {
	var lines []string
	posts := m.posts
	if len(posts) > shownMessages {
		posts = posts[len(posts)-shownMessages:]
	}
	for _, p := range posts {
		lines = append(lines, m.renderChatMessage(p))
	}
	if len(lines) == 0 {
		lines = append(lines, systemMessageStyle.Render("No messages yet. Say hi and start the conversation."))
	}
	return lines
}

func (m *TUIModel) renderComposer(view compose.View) []string {
	var out []string
	for _, f := range view.Files {
		out = append(out, attachmentStyle.Render(fmt.Sprintf("📎 %s (%s)", f.Name, formatFileSize(f.Size))))
	}
	for _, u := range view.Uploads {
		name := u.Name
		if name == "" {
			name = u.ClientID
		}
		out = append(out, attachmentStyle.Render("⇡ "+name+" ")+m.bar.ViewAs(float64(u.Percent)/100))
	}
	if view.Priority != nil {
		label := strings.ToUpper(view.Priority.Priority)
		if label == "" {
			label = "STANDARD"
		}
		if view.Priority.RequestedAck {
			label += " · ack requested"
		}
		out = append(out, priorityStyles[view.Priority.Priority].Render(label))
	}
	if se := view.ServerError; se != nil {
		out = append(out, errorStyle.Render(se.Message))
	}
	if view.PostError != nil {
		out = append(out, errorStyle.Render(view.PostError.Error()))
	}

	box := inputBoxStyle
	if view.Highlight {
		box = highlightBoxStyle
	}
	if view.ShowPreview {
		out = append(out, box.Render(m.renderPreview(view.Message)))
	} else {
		out = append(out, box.Render(m.input.view()))
	}
	if view.Submitting {
		out = append(out, connectingStyle.Render("Sending…"))
	}
	return out
}

func (m *TUIModel) renderConfirm() string {
	c := m.confirm
	if c == nil {
		return ""
	}
	mentions := strings.Join(c.Mentions, ", ")
	body := fmt.Sprintf("By using %s you are about to send notifications to %d people", mentions, c.MemberNotifyCount)
	if c.ChannelTimezoneCount > 0 {
		body += fmt.Sprintf(" in %d timezones", c.ChannelTimezoneCount)
	}
	body += ". Are you sure you want to do this?"
	return lipgloss.JoinVertical(lipgloss.Left,
		menuBoxStyle.Render(body),
		renderMenuOption("y", "Send anyway")+"   "+renderMenuOption("n", "Cancel"))
}

func (m *TUIModel) renderFileBrowser() string {
	b := m.browser
	if b.err != nil {
		return errorStyle.Render(b.err.Error())
	}
	lines := []string{timestampStyle.Render(b.dir)}
	start := max(0, b.selected-7)
	end := min(len(b.items), start+15)
	for i := start; i < end; i++ {
		item := b.items[i]
		label := item.Name
		if item.IsDir {
			label += "/"
		} else {
			label += "  " + timestampStyle.Render(formatFileSize(item.Size))
		}
		if i == b.selected {
			lines = append(lines, selectedStyle.Render("➤ "+label))
		} else {
			lines = append(lines, itemStyle.Render("  "+label))
		}
	}
	return menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m *TUIModel) renderEmojiPicker() string {
	n := len(m.emojiNames)
	if n == 0 {
		return ""
	}
	var cells []string
	for offset := -3; offset <= 3; offset++ {
		i := (m.emojiIndex + offset + n) % n
		name := ":" + m.emojiNames[i] + ":"
		if offset == 0 {
			cells = append(cells, selectedStyle.Render("["+name+"]"))
		} else {
			cells = append(cells, itemStyle.Render(name))
		}
	}
	return menuBoxStyle.Render(strings.Join(cells, " "))
}

func chatHints(mode appMode) string {
	switch mode {
	case modeConfirm:
		return "y) send  •  n) cancel"
	case modeFileBrowser:
		return "↑/↓ select • Enter open/attach • Esc back"
	case modeEmoji:
		return "←/→ choose • Enter insert • Esc back"
	}
	return "Enter send • Alt+Enter newline • Ctrl+F attach • Ctrl+R remove • Ctrl+E emoji • Ctrl+P preview • Ctrl+T priority • Ctrl+G thread • Ctrl+O channel • Esc quit"
}

func renderMenuOption(hotkey string, label string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left, menuHotkeyStyle.Render(hotkey), itemStyle.Render(" "+label))
}

func (m *TUIModel) renderNotices() string {
	if len(m.notices) == 0 {
		return ""
	}
	var notices []string
	for _, n := range m.notices {
		notices = append(notices, systemMessageStyle.Render(n))
	}
	return noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, notices...))
}

// renderChatMessage renders a single post. It stamps the time, picks a color
// for the sender, and indents multi-line messages so they stay legible.
func (m *TUIModel) renderChatMessage(p model.Post) string {
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", time.UnixMilli(p.CreateAt).Format("15:04:05")))
	if p.IsSystem() {
		return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", systemMessageStyle.Render(p.Message))
	}

	nameStyle := usernameStyle.Foreground(colorForUser(p.UserID))
	if p.UserID == m.username {
		nameStyle = activeUserStyle
	}
	name := nameStyle.Render(p.UserID)
	if p.RootID != "" && m.rootID == "" {
		name = timestampStyle.Render("↳ ") + name
	}
	body := p.Message
	if p.Type == "me" {
		body = strings.Trim(body, "*")
	}
	line := lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", name, ": ", messageBodyStyle.Render(strings.ReplaceAll(body, "\n", "\n   ")))

	var extra []string
	if p.Metadata != nil {
		if pr := p.Metadata.Priority; pr != nil && pr.Priority != "" {
			extra = append(extra, priorityStyles[pr.Priority].Render(strings.ToUpper(pr.Priority)))
		}
		for _, f := range p.Metadata.Files {
			extra = append(extra, attachmentStyle.Render(fmt.Sprintf("   📎 %s (%s)", f.Name, formatFileSize(f.Size))))
		}
	}
	if counts := m.reactions[p.ID]; len(counts) > 0 {
		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)
		var parts []string
		for _, name := range names {
			parts = append(parts, fmt.Sprintf(":%s: %d", name, counts[name]))
		}
		extra = append(extra, reactionStyle.Render("   "+strings.Join(parts, "  ")))
	}
	if len(extra) == 0 {
		return line
	}
	return lipgloss.JoinVertical(lipgloss.Left, append([]string{line}, extra...)...)
}

// color for users
func colorForUser(name string) lipgloss.Color {
	if len(userColorPalette) == 0 {
		return lipgloss.Color("249")
	}
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
