package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"termpost/internal/compose"
	"termpost/internal/draft"
	"termpost/internal/model"
	"termpost/internal/storage"
)

type (
	connectedMsg struct {
		conn *websocket.Conn
		gen  int
	}
	connectFailedMsg struct {
		err error
		gen int
	}
	reconnectMsg struct{ gen int }
	eventMsg     struct {
		event model.Event
		gen   int
	}
	readFailedMsg struct {
		err error
		gen int
	}
	channelLoadedMsg struct {
		channel *model.Channel
		rootID  string
		posts   []model.Post
		err     error
	}
	existsMsg struct {
		key    string
		exists bool
		err    error
	}
	submitDoneMsg struct{ outcome compose.Outcome }
	uploadDoneMsg struct {
		conv     draft.Conversation
		clientID string
		resp     *UploadResponse
		err      error
	}
	uploadProgressMsg struct{}
	channelPatchedMsg struct {
		channel *model.Channel
		err     error
	}
	statusDoneMsg struct {
		resp *model.CommandResponse
		err  error
	}
	highlightDoneMsg   struct{}
	draftSaveFailedMsg struct {
		key string
		err error
	}
)

const historyPageSize = 50

func (m *TUIModel) scheduleReconnect(gen int) tea.Cmd {
	const retryDelay = 2 * time.Second
	// a future poke that nudges Update to try the connection again
	return tea.Tick(retryDelay, func(time.Time) tea.Msg {
		return reconnectMsg{gen: gen}
	})
}

// websocket dial; joining creates the channel on the server if needed
func (m *TUIModel) connectCmd() tea.Cmd {
	gen, key := m.connGen, m.channelKey
	serverJoinURL, user, tz := m.serverJoinURL, m.username, m.timezone
	return func() tea.Msg {
		joinURL, err := buildJoinURL(serverJoinURL, key, user, tz)
		if err != nil {
			return connectFailedMsg{err: err, gen: gen}
		}
		conn, _, err := websocket.DefaultDialer.Dial(joinURL, http.Header{})
		if err != nil {
			return connectFailedMsg{err: err, gen: gen}
		}
		return connectedMsg{conn: conn, gen: gen}
	}
}

// ask /exists so the user hears whether the channel is new
func (m *TUIModel) existsCmd(key string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		exists, err := client.ChannelExists(context.Background(), key)
		return existsMsg{key: key, exists: exists, err: err}
	}
}

func (m *TUIModel) loadChannelCmd(key, rootID string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx := context.Background()
		channel, err := client.GetChannel(ctx, key)
		if err != nil {
			return channelLoadedMsg{err: err}
		}
		posts, err := client.ListPosts(ctx, key, rootID, historyPageSize)
		if err != nil {
			return channelLoadedMsg{err: err}
		}
		return channelLoadedMsg{channel: channel, rootID: rootID, posts: posts}
	}
}

// readOnceCmd decodes one channel event from the websocket
func readOnceCmd(conn *websocket.Conn, gen int) tea.Cmd {
	return func() tea.Msg {
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return readFailedMsg{err: err, gen: gen}
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var event model.Event
			if err := json.Unmarshal(payload, &event); err != nil {
				continue
			}
			return eventMsg{event: event, gen: gen}
		}
	}
}

// typingCmd tells the channel we are typing, at most once per typingEvery.
func (m *TUIModel) typingCmd() tea.Cmd {
	if m.websocketConn == nil || m.channel == nil {
		return nil
	}
	now := m.now()
	if now.Sub(m.lastTyping) < typingEvery {
		return nil
	}
	m.lastTyping = now
	conn, channelID := m.websocketConn, m.channel.ID
	return func() tea.Msg {
		m.writeMutex.Lock()
		defer m.writeMutex.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(model.Event{Type: model.EventTyping, ChannelID: channelID}); err != nil {
			m.logger.Debug("send typing", zap.Error(err))
		}
		return nil
	}
}

func (m *TUIModel) submitCmd(confirmed bool) tea.Cmd {
	composer, ctx := m.composer, m.ctx
	return func() tea.Msg {
		if confirmed {
			return submitDoneMsg{outcome: composer.ConfirmSubmit(ctx)}
		}
		return submitDoneMsg{outcome: composer.Submit(ctx)}
	}
}

// uploadCmd registers the file with the composer and streams it to the
// server, reporting progress back into the program.
func (m *TUIModel) uploadCmd(item FileItem) tea.Cmd {
	conv, ok := m.composer.Conversation()
	if !ok {
		return nil
	}
	clientID := NewUploadID()
	if err := m.composer.UploadStarted(m.ctx, conv, compose.Upload{ClientID: clientID, Name: item.Name}); err != nil {
		m.notice(fmt.Sprintf("Could not attach %s: %v", item.Name, err))
		return nil
	}
	client, composer, send, ctx := m.client, m.composer, m.send, m.ctx
	return func() tea.Msg {
		resp, err := client.Upload(ctx, conv.ChannelID, clientID, item.Path, func(percent int) {
			composer.UploadProgress(clientID, percent)
			if send != nil {
				send(uploadProgressMsg{})
			}
		})
		return uploadDoneMsg{conv: conv, clientID: clientID, resp: resp, err: err}
	}
}

func (m *TUIModel) patchChannelCmd(dialog *compose.DialogRequest, value string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		var patch storage.ChannelPatch
		switch dialog.Kind {
		case compose.DialogHeader:
			patch.Header = &value
		case compose.DialogPurpose:
			patch.Purpose = &value
		case compose.DialogRename:
			patch.DisplayName = &value
		}
		channel, err := client.PatchChannel(context.Background(), dialog.Channel.ID, patch)
		return channelPatchedMsg{channel: channel, err: err}
	}
}

func (m *TUIModel) statusCmd(status string) tea.Cmd {
	client := m.client
	args := model.CommandArgs{UserID: m.username}
	if m.channel != nil {
		args.ChannelID, args.TeamID = m.channel.ID, m.channel.TeamID
	}
	return func() tea.Msg {
		resp, err := client.ExecuteCommand(context.Background(), "/"+status, args)
		return statusDoneMsg{resp: resp, err: err}
	}
}

func highlightCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return highlightDoneMsg{} })
}

// RunClient is the entry for bubbletea. Drafts are flushed when the program
// exits, however it exits.
func RunClient(ctx context.Context, opts ClientOptions) error {
	m, err := NewTUIModel(opts)
	if err != nil {
		return err
	}
	m.ctx = ctx
	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	m.send = program.Send
	_, runErr := program.Run()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		m.logger.Warn("flush drafts on exit", zap.Error(err))
	}
	if errors.Is(runErr, tea.ErrProgramKilled) && ctx.Err() != nil {
		return ctx.Err()
	}
	return runErr
}
