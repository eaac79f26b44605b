package internal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"termpost/internal/compose"
	"termpost/internal/model"
)

var markdownKeys = map[string]compose.MarkdownMode{
	"alt+b": compose.MarkdownBold,
	"alt+i": compose.MarkdownItalic,
	"alt+k": compose.MarkdownLink,
	"alt+x": compose.MarkdownStrike,
	"alt+c": compose.MarkdownCode,
	"alt+h": compose.MarkdownHeading,
	"alt+q": compose.MarkdownQuote,
	"alt+u": compose.MarkdownUL,
	"alt+o": compose.MarkdownOL,
}

var priorityCycle = []string{model.PriorityStandard, model.PriorityImportant, model.PriorityUrgent}

func (m *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.setWidth(max(msg.Width-4, 20))
		m.renderer = nil
		return m, nil

	case tea.KeyMsg:
		// ctrl+c always bails out; drafts are flushed by Shutdown
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		switch m.mode {
		case modeJoinPrompt:
			return m.updateJoinPrompt(msg)
		case modeConfirm:
			return m.updateConfirm(msg)
		case modeDialog:
			return m.updateDialog(msg)
		case modeFileBrowser:
			return m.updateFileBrowser(msg)
		case modeEmoji:
			return m.updateEmoji(msg)
		}
		return m.updateChat(msg)

	case existsMsg:
		if msg.err != nil {
			m.notice(fmt.Sprintf("Error checking channel: %v", msg.err))
			return m, nil
		}
		if !msg.exists {
			m.notice(fmt.Sprintf("Channel %s not found, creating it.", msg.key))
		}
		return m, m.switchChannel(msg.key)

	case connectedMsg:
		if msg.gen != m.connGen {
			_ = msg.conn.Close()
			return m, nil
		}
		m.websocketConn = msg.conn
		m.isConnected = true
		m.connectionError = nil
		return m, tea.Batch(readOnceCmd(msg.conn, msg.gen), m.loadChannelCmd(m.channelKey, m.rootID))

	case connectFailedMsg:
		if msg.gen != m.connGen {
			return m, nil
		}
		m.connectionError = msg.err
		return m, m.scheduleReconnect(msg.gen)

	case reconnectMsg:
		if msg.gen == m.connGen && !m.isConnected && m.channelKey != "" {
			return m, m.connectCmd()
		}
		return m, nil

	case readFailedMsg:
		if msg.gen != m.connGen {
			return m, nil
		}
		m.isConnected = false
		m.websocketConn = nil
		m.connectionError = msg.err
		return m, m.scheduleReconnect(msg.gen)

	case eventMsg:
		if msg.gen != m.connGen || m.websocketConn == nil {
			return m, nil
		}
		m.handleEvent(msg.event)
		return m, readOnceCmd(m.websocketConn, msg.gen)

	case channelLoadedMsg:
		if msg.err != nil {
			m.notice(fmt.Sprintf("Could not load channel: %v", msg.err))
			return m, nil
		}
		if err := m.composer.Open(m.ctx, msg.channel, msg.rootID); err != nil {
			m.notice(fmt.Sprintf("Could not open draft: %v", err))
			return m, nil
		}
		m.channel = msg.channel
		m.rootID = msg.rootID
		m.posts = nil
		m.reactions = make(map[string]map[string]int)
		for _, p := range msg.posts {
			m.addPost(p)
		}
		if m.mode == modeJoinPrompt {
			m.enterChat()
		}
		return m, nil

	case submitDoneMsg:
		return m, m.handleOutcome(msg.outcome)

	case uploadProgressMsg, highlightDoneMsg:
		return m, nil

	case uploadDoneMsg:
		switch {
		case errors.Is(msg.err, ErrUploadCanceled):
		case msg.err != nil:
			if err := m.composer.UploadFailed(m.ctx, msg.conv, msg.clientID, msg.err); err != nil {
				m.logger.Warn("record failed upload", zap.Error(err))
			}
		default:
			if err := m.composer.UploadCompleted(m.ctx, msg.conv, msg.resp.ClientIDs, msg.resp.FileInfos); err != nil {
				m.logger.Warn("record finished upload", zap.Error(err))
			}
		}
		return m, nil

	case channelPatchedMsg:
		if msg.err != nil {
			m.notice(fmt.Sprintf("Could not update channel: %v", msg.err))
			return m, nil
		}
		m.channel = msg.channel
		if err := m.composer.Open(m.ctx, msg.channel, m.rootID); err != nil {
			m.logger.Warn("refresh channel", zap.Error(err))
		}
		return m, nil

	case draftSaveFailedMsg:
		m.notice(fmt.Sprintf("Draft not saved: %v", msg.err))
		return m, nil

	case statusDoneMsg:
		if msg.err != nil {
			m.notice(fmt.Sprintf("Could not set status: %v", msg.err))
		} else if msg.resp != nil && msg.resp.Text != "" {
			m.notice(msg.resp.Text)
		}
		m.applyStatus(msg.resp)
		return m, nil
	}
	return m, nil
}

func (m *TUIModel) updateJoinPrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		if m.channel == nil {
			return m, tea.Quit
		}
		m.enterChat()
		return m, nil
	case tea.KeyEnter:
		key := strings.TrimSpace(m.prompt.Value())
		if key == "" {
			m.notice("Channel name cannot be empty.")
			return m, nil
		}
		// before we try to dial the websocket, hit the lightweight HTTP check
		return m, m.existsCmd(key)
	}
	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(msg)
	return m, cmd
}

// switchChannel leaves the current channel and dials key.
func (m *TUIModel) switchChannel(key string) tea.Cmd {
	m.closeConn("switching channel")
	m.connGen++
	m.channelKey = key
	m.rootID = ""
	m.typing = make(map[string]time.Time)
	return m.connectCmd()
}

func (m *TUIModel) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	view := m.composer.View()
	key := msg.String()

	if mode, ok := markdownKeys[key]; ok {
		caret := m.input.CaretPosition()
		if _, err := m.composer.ApplyMarkdown(mode, compose.Selection{Start: caret, End: caret}); err != nil {
			m.notice(err.Error())
		}
		return m, nil
	}

	switch key {
	case "esc":
		if view.ServerError != nil {
			m.composer.DismissError()
			return m, nil
		}
		if view.ShowPreview {
			m.composer.TogglePreview()
			return m, nil
		}
		return m, tea.Quit
	case "enter", "ctrl+s":
		decision := m.composer.HandleKey(compose.KeyEvent{Enter: true, Ctrl: key == "ctrl+s"})
		switch {
		case decision.IgnoreKeyPress:
			return m, nil
		case decision.AllowSending:
			return m, m.submitCmd(false)
		}
		m.input.insertNewline()
		m.composer.SyncFromInput()
		return m, nil
	case "alt+enter":
		m.input.insertNewline()
		m.composer.SyncFromInput()
		return m, m.typingCmd()
	case "ctrl+up":
		m.composer.HistoryPrevious()
		return m, nil
	case "ctrl+down":
		m.composer.HistoryNext()
		return m, nil
	case "ctrl+p":
		m.composer.TogglePreview()
		return m, nil
	case "ctrl+e":
		if m.composer.ToggleEmojiPicker() {
			m.mode = modeEmoji
		}
		return m, nil
	case "ctrl+f":
		m.browser.open(getDefaultBrowsePath())
		m.mode = modeFileBrowser
		return m, nil
	case "ctrl+r":
		if id := lastAttachmentID(view); id != "" {
			if err := m.composer.RemoveAttachment(m.ctx, id); err != nil {
				m.notice(err.Error())
			}
		}
		return m, nil
	case "ctrl+t":
		return m, m.cyclePriority(view)
	case "ctrl+o":
		m.enterPrompt(modeJoinPrompt, "channel> ", "Switch to channel…", "")
		return m, nil
	case "ctrl+g":
		if m.channel == nil {
			return m, nil
		}
		rootID := ""
		if m.rootID == "" {
			if rootID = m.latestRootID(); rootID == "" {
				m.notice("No post to reply to yet.")
				return m, nil
			}
		}
		return m, m.loadChannelCmd(m.channel.ID, rootID)
	}

	if view.ShowPreview {
		return m, nil
	}
	before := view.Message
	cmd := m.input.update(msg)
	m.composer.SyncFromInput()
	if m.input.Value() != before {
		return m, tea.Batch(cmd, m.typingCmd())
	}
	return m, cmd
}

func (m *TUIModel) cyclePriority(view compose.View) tea.Cmd {
	current := model.PriorityStandard
	if view.Priority != nil {
		current = view.Priority.Priority
	}
	next := priorityCycle[0]
	for i, p := range priorityCycle {
		if p == current {
			next = priorityCycle[(i+1)%len(priorityCycle)]
		}
	}
	if err := m.composer.SetPriority(m.ctx, next, false); err != nil {
		m.notice(err.Error())
	}
	return nil
}

// lastAttachmentID picks the newest in-flight upload, else the last file.
func lastAttachmentID(view compose.View) string {
	if n := len(view.Uploads); n > 0 {
		return view.Uploads[n-1].ClientID
	}
	if n := len(view.Files); n > 0 {
		return view.Files[n-1].ID
	}
	return ""
}

func (m *TUIModel) handleOutcome(out compose.Outcome) tea.Cmd {
	switch out.Kind {
	case compose.OutcomePosted:
		if out.Post != nil && (m.rootID == "" || out.Post.RootID == m.rootID) {
			m.addPost(*out.Post)
		}
	case compose.OutcomeCommand:
		if out.Response != nil && out.Response.Text != "" {
			m.notice(out.Response.Text)
		}
		m.applyStatus(out.Response)
	case compose.OutcomeReaction:
		if out.ReactionPostID == "" {
			m.notice("Nothing to react to yet.")
		}
	case compose.OutcomeNeedsConfirmation:
		m.confirm = out.Confirm
		m.mode = modeConfirm
	case compose.OutcomeDialog:
		m.openDialog(out.Dialog)
	case compose.OutcomeRejected:
		return highlightCmd(m.highlightFor)
	case compose.OutcomeIgnored:
		if errors.Is(out.Err, compose.ErrUploadsInProgress) {
			m.notice("Wait for uploads to finish before sending.")
		}
	case compose.OutcomeFailed:
		m.logger.Debug("submit failed", zap.Error(out.Err))
	}
	return nil
}

// applyStatus tracks out-of-office so a later status command asks first.
func (m *TUIModel) applyStatus(resp *model.CommandResponse) {
	if resp == nil || resp.Status == "" {
		return
	}
	ooo := resp.Status == model.StatusOutOfOffice
	m.composer.UpdateSettings(func(s *compose.Settings) { s.OutOfOffice = ooo })
}

func (m *TUIModel) openDialog(dialog *compose.DialogRequest) {
	if dialog == nil {
		return
	}
	m.dialog = dialog
	switch dialog.Kind {
	case compose.DialogHeader:
		m.enterPrompt(modeDialog, "header> ", "Channel header…", dialog.Channel.Header)
	case compose.DialogPurpose:
		m.enterPrompt(modeDialog, "purpose> ", "Channel purpose…", dialog.Channel.Purpose)
	case compose.DialogRename:
		m.enterPrompt(modeDialog, "name> ", "Channel display name…", dialog.Channel.DisplayName)
	case compose.DialogResetStatus:
		m.mode = modeDialog
		m.input.Blur()
	}
}

func (m *TUIModel) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y", "enter":
		m.enterChat()
		return m, m.submitCmd(true)
	case "n", "N", "esc":
		m.enterChat()
	}
	return m, nil
}

func (m *TUIModel) updateDialog(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	dialog := m.dialog
	if dialog == nil {
		m.enterChat()
		return m, nil
	}
	if dialog.Kind == compose.DialogResetStatus {
		switch msg.String() {
		case "y", "Y", "enter":
			m.enterChat()
			return m, m.statusCmd(dialog.Status)
		case "n", "N", "esc":
			m.enterChat()
		}
		return m, nil
	}
	switch msg.Type {
	case tea.KeyEsc:
		m.enterChat()
		return m, nil
	case tea.KeyEnter:
		value := strings.TrimSpace(m.prompt.Value())
		if dialog.Kind == compose.DialogRename && value == "" {
			m.notice("Display name cannot be empty.")
			return m, nil
		}
		m.enterChat()
		return m, m.patchChannelCmd(dialog, value)
	}
	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(msg)
	return m, cmd
}

func (m *TUIModel) updateFileBrowser(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+f":
		m.enterChat()
	case "up", "k":
		m.browser.move(-1)
	case "down", "j":
		m.browser.move(1)
	case "enter":
		item, ok := m.browser.current()
		if !ok {
			return m, nil
		}
		if item.IsDir {
			m.browser.open(item.Path)
			return m, nil
		}
		m.enterChat()
		return m, m.uploadCmd(item)
	}
	return m, nil
}

func (m *TUIModel) updateEmoji(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	n := len(m.emojiNames)
	switch msg.String() {
	case "esc", "ctrl+e":
		m.composer.ToggleEmojiPicker()
		m.enterChat()
	case "left", "h":
		m.emojiIndex = (m.emojiIndex - 1 + n) % n
	case "right", "l", "tab":
		m.emojiIndex = (m.emojiIndex + 1) % n
	case "enter":
		m.composer.InsertEmoji(m.emojiNames[m.emojiIndex])
		m.enterChat()
	}
	return m, nil
}

func (m *TUIModel) handleEvent(event model.Event) {
	if m.channel != nil && event.ChannelID != "" && event.ChannelID != m.channel.ID {
		return
	}
	switch event.Type {
	case model.EventPosted:
		if event.Post == nil {
			return
		}
		if m.rootID == "" || event.Post.RootID == m.rootID || event.Post.ID == m.rootID {
			m.addPost(*event.Post)
		}
		delete(m.typing, event.Post.UserID)
	case model.EventReactionAdded:
		m.applyReaction(event.Reaction, 1)
	case model.EventReactionRemoved:
		m.applyReaction(event.Reaction, -1)
	case model.EventChannelUpdated:
		if event.Channel != nil {
			m.channel = event.Channel
			if err := m.composer.Open(m.ctx, event.Channel, m.rootID); err != nil {
				m.logger.Warn("refresh channel", zap.Error(err))
			}
		}
	case model.EventTyping:
		if event.UserID != "" && event.UserID != m.username {
			m.typing[event.UserID] = m.now()
		}
	case model.EventUserJoined:
		m.notice(fmt.Sprintf("%s joined", event.UserID))
	case model.EventUserLeft:
		m.notice(fmt.Sprintf("%s left", event.UserID))
	case model.EventFileUploaded:
		if event.UserID != m.username {
			m.notice(fmt.Sprintf("%s uploaded %s", event.UserID, event.Text))
		}
	case model.EventEphemeral:
		m.notice(event.Text)
	}
}
