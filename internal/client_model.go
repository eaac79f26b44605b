package internal

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"termpost/internal/compose"
	"termpost/internal/draft"
	"termpost/internal/model"
)

const (
	maxShownPosts = 200
	typingTTL     = 5 * time.Second
	typingEvery   = 3 * time.Second
)

// ClientOptions is everything the TUI needs to run a session.
type ClientOptions struct {
	ServerJoinURL string
	Channel       string
	User          string
	Timezone      string
	Drafts        draft.Store
	DraftDelay    time.Duration
	Settings      compose.Settings
	Logger        *zap.Logger
}

// tui model struct for all the components and modes
type TUIModel struct {
	client    *APIClient
	cache     *draft.Cache
	composer  *compose.Composer
	persister *draft.Persister
	input     *textInput
	prompt    textinput.Model
	bar       progress.Model
	logger    *zap.Logger

	serverJoinURL string
	username      string
	timezone      string

	channelKey string
	channel    *model.Channel
	rootID     string
	posts      []model.Post
	reactions  map[string]map[string]int
	notices    []string
	typing     map[string]time.Time
	lastTyping time.Time

	websocketConn   *websocket.Conn
	connGen         int
	writeMutex      sync.Mutex
	isConnected     bool
	connectionError error

	mode         appMode
	confirm      *compose.NotifyConfirmation
	dialog       *compose.DialogRequest
	browser      fileBrowser
	emojiNames   []string
	emojiIndex   int
	renderer     *glamour.TermRenderer
	width        int
	highlightFor time.Duration
	send         func(tea.Msg)
	now          func() time.Time
	ctx          context.Context
}

type appMode int

const (
	modeJoinPrompt appMode = iota
	modeChat
	modeConfirm
	modeDialog
	modeFileBrowser
	modeEmoji
)

// NewTUIModel wires a composer over the draft store and an API client for
// the server behind serverJoinURL.
func NewTUIModel(opts ClientOptions) (*TUIModel, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := httpBaseFromJoinURL(opts.ServerJoinURL)
	if err != nil {
		return nil, err
	}
	username := opts.User
	if username == "" {
		username = defaultUsername()
	}
	settings := opts.Settings
	settings.UserID = username

	var m *TUIModel
	client := NewAPIClient(base, username, logger)
	persister := draft.NewPersister(opts.Drafts,
		draft.WithDelay(opts.DraftDelay),
		draft.WithLogger(logger),
		draft.WithErrorHandler(func(key string, err error) {
			if m != nil {
				m.reportDraftError(key, err)
			}
		}))
	input := newTextInput()
	cache := draft.NewCache(opts.Drafts)
	composer := compose.New(cache, persister, compose.Deps{
		Sender:    client,
		Commands:  client,
		Reactions: client,
		Posts:     client,
		Stats:     client,
		Groups:    client,
		Uploads:   client,
		History:   compose.NewHistory(0),
		Emoji:     compose.DefaultEmoji,
	}, settings, compose.WithLogger(logger))
	composer.SetInput(input)

	prompt := textinput.New()
	prompt.CharLimit = 0

	m = &TUIModel{
		client:        client,
		cache:         cache,
		composer:      composer,
		persister:     persister,
		input:         input,
		prompt:        prompt,
		bar:           progress.New(progress.WithDefaultGradient(), progress.WithWidth(24)),
		logger:        logger,
		serverJoinURL: opts.ServerJoinURL,
		username:      username,
		timezone:      opts.Timezone,
		reactions:     make(map[string]map[string]int),
		typing:        make(map[string]time.Time),
		emojiNames:    compose.DefaultEmoji.Names(),
		width:         80,
		highlightFor:  settings.AnimationTimeout,
		now:           time.Now,
		ctx:           context.Background(),
	}
	if opts.Channel == "" {
		m.enterPrompt(modeJoinPrompt, "channel> ", "Enter a channel name…", "")
	} else {
		m.channelKey = opts.Channel
		m.mode = modeChat
	}
	return m, nil
}

// init user
func defaultUsername() string {
	if user := os.Getenv("TERMPOST_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "anon"
}

func (m *TUIModel) Init() tea.Cmd {
	if m.mode == modeChat {
		return m.connectCmd()
	}
	return textinput.Blink
}

// Shutdown flushes every pending draft and closes the websocket. It runs
// after the program exits.
func (m *TUIModel) Shutdown(ctx context.Context) error {
	m.closeConn("client quit")
	err := m.composer.Close(ctx)
	if closeErr := m.persister.Close(ctx); err == nil {
		err = closeErr
	}
	m.cache.Reset()
	return err
}

// reportDraftError runs on persister goroutines and inside Update, so the
// notice is delivered asynchronously.
func (m *TUIModel) reportDraftError(key string, err error) {
	if send := m.send; send != nil {
		go send(draftSaveFailedMsg{key: key, err: err})
	}
}

func (m *TUIModel) closeConn(reason string) {
	if m.websocketConn == nil {
		return
	}
	m.writeMutex.Lock()
	_ = m.websocketConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	m.writeMutex.Unlock()
	_ = m.websocketConn.Close()
	m.websocketConn = nil
	m.isConnected = false
}

func (m *TUIModel) enterPrompt(mode appMode, prompt, placeholder, value string) {
	m.mode = mode
	m.input.Blur()
	m.prompt.Prompt = prompt
	m.prompt.Placeholder = placeholder
	m.prompt.SetValue(value)
	m.prompt.CursorEnd()
	m.prompt.Focus()
}

func (m *TUIModel) enterChat() {
	m.mode = modeChat
	m.prompt.Blur()
	m.prompt.SetValue("")
	m.confirm = nil
	m.dialog = nil
	m.input.Focus()
}

func (m *TUIModel) notice(text string) {
	m.notices = append(m.notices, text)
	if len(m.notices) > 5 {
		m.notices = m.notices[len(m.notices)-5:]
	}
}

// addPost inserts p unless a post with the same id is already shown.
func (m *TUIModel) addPost(p model.Post) {
	for i := range m.posts {
		if m.posts[i].ID == p.ID {
			m.posts[i] = p
			return
		}
	}
	m.posts = append(m.posts, p)
	if len(m.posts) > maxShownPosts {
		m.posts = m.posts[len(m.posts)-maxShownPosts:]
	}
}

func (m *TUIModel) applyReaction(r *model.Reaction, delta int) {
	if r == nil {
		return
	}
	counts := m.reactions[r.PostID]
	if counts == nil {
		counts = make(map[string]int)
		m.reactions[r.PostID] = counts
	}
	counts[r.EmojiName] += delta
	if counts[r.EmojiName] <= 0 {
		delete(counts, r.EmojiName)
	}
}

// latestRootID is the newest root post shown, for starting a thread reply.
func (m *TUIModel) latestRootID() string {
	for i := len(m.posts) - 1; i >= 0; i-- {
		p := m.posts[i]
		if p.RootID == "" && !p.IsSystem() {
			return p.ID
		}
	}
	return ""
}

func (m *TUIModel) typingUsers() []string {
	now := m.now()
	var users []string
	for user, at := range m.typing {
		if now.Sub(at) > typingTTL {
			delete(m.typing, user)
			continue
		}
		users = append(users, user)
	}
	return users
}

func (m *TUIModel) renderPreview(message string) string {
	if m.renderer == nil {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(max(m.width-6, 20)),
		)
		if err != nil {
			return message
		}
		m.renderer = renderer
	}
	out, err := m.renderer.Render(message)
	if err != nil {
		return message
	}
	return out
}
