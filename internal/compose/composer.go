package compose

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"termpost/internal/draft"
	"termpost/internal/model"
)

var ErrPriorityInThread = errors.New("priority can only be set on root posts")

// State is the coarse composer state shown by the UI.
type State int

const (
	StateIdle State = iota
	StateEditing
	StateSubmitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEditing:
		return "editing"
	case StateSubmitting:
		return "submitting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Upload is the visible progress of an attachment still being sent.
type Upload struct {
	ClientID string
	Name     string
	Percent  int
}

// View is a snapshot of everything the UI renders for the composer.
type View struct {
	Conversation    draft.Conversation
	State           State
	Message         string
	Caret           int
	Files           []model.FileInfo
	Uploads         []Upload
	Priority        *model.PostPriority
	SendEnabled     bool
	Submitting      bool
	ServerError     *ServerError
	PostError       error
	Highlight       bool
	ShowPreview     bool
	ShowEmojiPicker bool
}

// Option configures a Composer.
type Option func(*Composer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Composer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Composer) {
		if now != nil {
			c.now = now
		}
	}
}

// Composer owns the draft of one open conversation at a time and turns it
// into posts, commands or reactions. The lock is never held across network
// calls; local draft writes happen under it.
type Composer struct {
	cache     *draft.Cache
	persister *draft.Persister
	deps      Deps
	logger    *zap.Logger
	now       func() time.Time

	mu             sync.Mutex
	settings       Settings
	opened         bool
	channel        *model.Channel
	conv           draft.Conversation
	draft          *draft.Draft
	caret          int
	submitting     bool
	serverError    *ServerError
	postError      error
	highlightUntil time.Time
	uploads        map[string]Upload
	showPreview    bool
	showEmoji      bool
	lastSwitch     time.Time
	input          Input
}

// New builds a composer over the shared draft cache and persister.
func New(cache *draft.Cache, persister *draft.Persister, deps Deps, settings Settings, opts ...Option) *Composer {
	if deps.Hooks == nil {
		deps.Hooks = NopHooks{}
	}
	if deps.History == nil {
		deps.History = NewHistory(0)
	}
	if deps.Emoji == nil {
		deps.Emoji = DefaultEmoji
	}
	c := &Composer{
		cache:     cache,
		persister: persister,
		deps:      deps,
		settings:  settings,
		logger:    zap.NewNop(),
		now:       time.Now,
		uploads:   make(map[string]Upload),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetInput attaches the text widget the composer keeps in sync.
func (c *Composer) SetInput(input Input) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = input
	c.syncInputLocked()
}

// UpdateSettings applies fn to the live settings.
func (c *Composer) UpdateSettings(fn func(*Settings)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.settings)
	if c.opened {
		c.postError = c.validate(c.draft.Message)
	}
}

// Settings returns a copy of the current settings.
func (c *Composer) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Open makes channel (or the thread under rootID) the active conversation.
// A pending write for the conversation being left is flushed first.
func (c *Composer) Open(ctx context.Context, channel *model.Channel, rootID string) error {
	if channel == nil || channel.ID == "" {
		return errors.New("open: channel is required")
	}
	conv := draft.Conversation{ChannelID: channel.ID, RootID: rootID}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened && c.conv == conv {
		c.channel = channel
		return nil
	}
	switched := c.opened
	if c.opened {
		if err := c.flushOutgoingLocked(ctx); err != nil {
			c.logger.Warn("flush draft on switch", zap.String("key", c.conv.Key()), zap.Error(err))
		}
	}

	d, err := c.cache.Get(ctx, conv.Key())
	if err != nil {
		return err
	}
	if d == nil {
		d = draft.New(conv)
	}
	c.channel = channel
	c.conv = conv
	c.draft = d
	c.opened = true
	c.caret = runeLen(d.Message)
	c.serverError = nil
	c.postError = c.validate(d.Message)
	c.showPreview = false
	c.showEmoji = false
	if switched {
		c.lastSwitch = c.now()
	}
	c.syncInputLocked()
	if c.input != nil {
		c.input.Focus()
	}
	c.logger.Debug("conversation opened", zap.String("key", conv.Key()), zap.Bool("has_draft", !d.IsEmpty()))
	return nil
}

// Close flushes the active draft and leaves the composer without a conversation.
func (c *Composer) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return nil
	}
	err := c.flushOutgoingLocked(ctx)
	if c.input != nil {
		c.input.Blur()
	}
	c.opened = false
	c.draft = nil
	c.channel = nil
	return err
}

// flushOutgoingLocked writes the active draft with Show updated, but only
// when it has unsaved changes.
func (c *Composer) flushOutgoingLocked(ctx context.Context) error {
	key := c.conv.Key()
	if _, pending := c.persister.Pending(key); !pending {
		return nil
	}
	c.draft.Show = !c.draft.IsEmpty()
	return c.writeLocked(ctx, c.draft)
}

// Conversation returns the active conversation.
func (c *Composer) Conversation() (draft.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv, c.opened
}

// Draft returns a copy of the active draft.
func (c *Composer) Draft() *draft.Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return nil
	}
	return c.draft.Clone()
}

// SetMessage records an edit from the input. caret is in runes.
func (c *Composer) SetMessage(message string, caret int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return
	}
	c.caret = min(max(caret, 0), runeLen(message))
	if message == c.draft.Message {
		return
	}
	c.draft.Message = message
	if se := c.serverError; se != nil {
		if se.IsInvalidSlashCommand() || (se.SubmittedMessage != "" && se.SubmittedMessage != message) {
			c.serverError = nil
		}
	}
	c.postError = c.validate(message)
	c.scheduleLocked(c.draft)
}

// SyncFromInput records the attached input's current text and caret.
func (c *Composer) SyncFromInput() {
	c.mu.Lock()
	input := c.input
	c.mu.Unlock()
	if input == nil {
		return
	}
	c.SetMessage(input.Value(), input.CaretPosition())
}

// SetCaret moves the caret without touching the text.
func (c *Composer) SetCaret(caret int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		c.caret = min(max(caret, 0), runeLen(c.draft.Message))
	}
}

func (c *Composer) validate(message string) error {
	if n := runeLen(message); c.settings.MaxPostSize > 0 && n > c.settings.MaxPostSize {
		return &MessageTooLongError{Length: n, Max: c.settings.MaxPostSize}
	}
	return nil
}

// disposable drafts are removed from the store rather than written.
func disposable(d *draft.Draft) bool {
	return d.IsEmpty() && !d.HasPriority() && len(d.Props) == 0
}

// scheduleLocked caches d and arms the debounced write.
func (c *Composer) scheduleLocked(d *draft.Draft) {
	key := d.Conversation().Key()
	if disposable(d) {
		c.cache.Delete(key)
		c.persister.Schedule(key, nil)
		return
	}
	c.cache.Set(key, d)
	c.persister.Schedule(key, d)
}

// writeLocked caches d and stores it before returning.
func (c *Composer) writeLocked(ctx context.Context, d *draft.Draft) error {
	key := d.Conversation().Key()
	if disposable(d) {
		c.cache.Delete(key)
		return c.persister.WriteNow(ctx, key, nil)
	}
	c.cache.Set(key, d)
	return c.persister.WriteNow(ctx, key, d)
}

func (c *Composer) syncInputLocked() {
	if c.input == nil || !c.opened {
		return
	}
	c.input.SetValue(c.draft.Message)
	c.input.SetCaret(c.caret)
}

func (c *Composer) setMessageLocked(message string, caret int) {
	c.draft.Message = message
	c.caret = min(max(caret, 0), runeLen(message))
	c.postError = c.validate(message)
	c.scheduleLocked(c.draft)
	c.syncInputLocked()
}

// draftForLocked returns the live draft when conv is active, otherwise a
// copy from the cache.
func (c *Composer) draftForLocked(ctx context.Context, conv draft.Conversation) (*draft.Draft, bool, error) {
	if c.opened && c.conv == conv {
		return c.draft, true, nil
	}
	d, err := c.cache.Get(ctx, conv.Key())
	if err != nil {
		return nil, false, err
	}
	if d == nil {
		d = draft.New(conv)
	}
	return d, false, nil
}

// UploadStarted adds uploads to the conversation's draft. Uploads carry
// their conversation because they can finish after a switch.
func (c *Composer) UploadStarted(ctx context.Context, conv draft.Conversation, uploads ...Upload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, _, err := c.draftForLocked(ctx, conv)
	if err != nil {
		return err
	}
	added := false
	for _, u := range uploads {
		if u.ClientID == "" || slices.Contains(d.UploadsInProgress, u.ClientID) || d.HasFile(u.ClientID) {
			continue
		}
		d.UploadsInProgress = append(d.UploadsInProgress, u.ClientID)
		c.uploads[u.ClientID] = u
		added = true
	}
	if !added {
		return nil
	}
	return c.writeLocked(ctx, d)
}

// UploadProgress updates the percentage shown for clientID.
func (c *Composer) UploadProgress(clientID string, percent int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u, ok := c.uploads[clientID]; ok {
		u.Percent = min(max(percent, 0), 100)
		c.uploads[clientID] = u
	}
}

// UploadCompleted moves finished uploads into the draft's attachments.
func (c *Composer) UploadCompleted(ctx context.Context, conv draft.Conversation, clientIDs []string, infos []model.FileInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, _, err := c.draftForLocked(ctx, conv)
	if err != nil {
		return err
	}
	for _, id := range clientIDs {
		d.RemoveUpload(id)
		delete(c.uploads, id)
	}
	d.FileInfos = draft.SortFileInfos(append(d.FileInfos, infos...), c.settings.Locale)
	return c.writeLocked(ctx, d)
}

// UploadFailed drops clientID from the draft and surfaces uploadErr. With no
// client id only the error is shown.
func (c *Composer) UploadFailed(ctx context.Context, conv draft.Conversation, clientID string, uploadErr error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var writeErr error
	if clientID != "" && conv.ChannelID != "" {
		d, _, err := c.draftForLocked(ctx, conv)
		if err != nil {
			return err
		}
		d.RemoveUpload(clientID)
		delete(c.uploads, clientID)
		writeErr = c.writeLocked(ctx, d)
	}
	if uploadErr != nil {
		c.serverError = newServerError(uploadErr, "")
	}
	return writeErr
}

// RemoveAttachment removes a finished file or cancels an in-flight upload.
func (c *Composer) RemoveAttachment(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return ErrNotOpen
	}
	c.serverError = nil
	switch {
	case c.draft.RemoveFile(id):
	case c.draft.RemoveUpload(id):
		delete(c.uploads, id)
		if c.deps.Uploads != nil {
			c.deps.Uploads.CancelUpload(id)
		}
	default:
		return nil
	}
	return c.writeLocked(ctx, c.draft)
}

// ApplyMarkdown formats the selection in the active draft.
func (c *Composer) ApplyMarkdown(mode MarkdownMode, sel Selection) (Formatted, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return Formatted{}, ErrNotOpen
	}
	if c.showPreview {
		return Formatted{}, ErrPreviewMode
	}
	out, err := ApplyMarkdown(mode, c.draft.Message, sel)
	if err != nil {
		return Formatted{}, err
	}
	c.setMessageLocked(out.Message, out.Selection.End)
	return out, nil
}

// InsertEmoji puts :name: at the caret and closes the picker.
func (c *Composer) InsertEmoji(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened || name == "" {
		return
	}
	message, caret := InsertEmoji(c.draft.Message, c.caret, name)
	c.showEmoji = false
	c.setMessageLocked(message, caret)
}

// ToggleEmojiPicker flips the picker and returns whether it is shown.
func (c *Composer) ToggleEmojiPicker() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.showEmoji = !c.showEmoji
	return c.showEmoji
}

// TogglePreview flips markdown preview and returns whether it is shown.
func (c *Composer) TogglePreview() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.showPreview = !c.showPreview
	return c.showPreview
}

// SetPriority sets or clears the priority block on a root post draft.
func (c *Composer) SetPriority(ctx context.Context, priority string, requestedAck bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return ErrNotOpen
	}
	if c.conv.IsThread() {
		return ErrPriorityInThread
	}
	if priority == model.PriorityStandard && !requestedAck {
		c.draft.Metadata.Priority = nil
	} else {
		c.draft.Metadata.Priority = &model.PostPriority{Priority: priority, RequestedAck: requestedAck}
	}
	return c.writeLocked(ctx, c.draft)
}

// HistoryPrevious loads the previous sent message into the draft.
func (c *Composer) HistoryPrevious() bool {
	message, ok := c.deps.History.Previous()
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return false
	}
	c.setMessageLocked(message, runeLen(message))
	return true
}

// HistoryNext loads the next sent message, or clears the draft past the newest.
func (c *Composer) HistoryNext() bool {
	message, ok := c.deps.History.Next()
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return false
	}
	c.setMessageLocked(message, runeLen(message))
	return true
}

// HandleKey decides whether an Enter press sends. When an open code fence
// gets closed the draft is updated before returning.
func (c *Composer) HandleKey(ev KeyEvent) KeyDecision {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return KeyDecision{}
	}
	decision := DecideKeyPress(ev, c.draft.Message, c.settings.Send, c.now(), c.lastSwitch, c.caret)
	if decision.ClosedCodeBlock {
		c.setMessageLocked(decision.Message, runeLen(decision.Message))
	}
	return decision
}

// DismissError clears the visible server error.
func (c *Composer) DismissError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serverError = nil
}

// View returns a snapshot for rendering.
func (c *Composer) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{
		Conversation:    c.conv,
		State:           c.stateLocked(),
		Caret:           c.caret,
		Submitting:      c.submitting,
		ServerError:     c.serverError,
		PostError:       c.postError,
		Highlight:       c.now().Before(c.highlightUntil),
		ShowPreview:     c.showPreview,
		ShowEmojiPicker: c.showEmoji,
	}
	if !c.opened {
		return v
	}
	v.Message = c.draft.Message
	v.Files = append([]model.FileInfo(nil), c.draft.FileInfos...)
	for _, id := range c.draft.UploadsInProgress {
		u, ok := c.uploads[id]
		if !ok {
			u = Upload{ClientID: id}
		}
		v.Uploads = append(v.Uploads, u)
	}
	if p := c.draft.Metadata.Priority; p != nil {
		copied := *p
		v.Priority = &copied
	}
	v.SendEnabled = c.draft.CanSend()
	return v
}

func (c *Composer) stateLocked() State {
	switch {
	case c.submitting:
		return StateSubmitting
	case !c.opened || c.draft.IsEmpty():
		return StateIdle
	}
	return StateEditing
}

// groupNames lists the group keys of stats in a stable order.
func groupNames(stats *model.ChannelStats) []string {
	names := make([]string, 0, len(stats.MemberCountsByGroup))
	for name := range stats.MemberCountsByGroup {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// notifyConfirmation returns a confirmation request when message would
// notify more members than the configured threshold.
func (c *Composer) notifyConfirmation(ctx context.Context, channelID, message string, s Settings) (*NotifyConfirmation, error) {
	if !s.ConfirmNotificationsToChannel || c.deps.Stats == nil {
		return nil, nil
	}
	special := FindSpecialMentions(message)
	checkGroups := !special.Any() && s.UseGroupMentions && strings.Contains(message, "@")
	checkSpecial := special.Any() && s.UseChannelMentions
	if !checkGroups && !checkSpecial {
		return nil, nil
	}

	stats, err := c.deps.Stats.ChannelStats(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("load channel stats: %w", err)
	}

	confirm := &NotifyConfirmation{}
	if checkGroups {
		for _, name := range GroupsMentionedInText(message, groupNames(stats)) {
			count := stats.MemberCountsByGroup[name]
			if count > s.NotifyAllMembers && count > confirm.MemberNotifyCount {
				confirm.MemberNotifyCount = count
				if s.TimezonesEnabled {
					confirm.ChannelTimezoneCount = stats.TimezoneCountsByGroup[name]
				}
			}
			confirm.Mentions = append(confirm.Mentions, "@"+name)
		}
	}
	if checkSpecial && stats.MemberCount > s.NotifyAllMembers {
		confirm.MemberNotifyCount = stats.MemberCount - 1
		confirm.Mentions = append(confirm.Mentions, special.Names()...)
		if s.TimezonesEnabled {
			confirm.ChannelTimezoneCount = stats.TimezoneCount
		}
	}
	if confirm.MemberNotifyCount > 0 {
		return confirm, nil
	}
	return nil, nil
}
