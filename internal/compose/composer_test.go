package compose

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termpost/internal/draft"
	"termpost/internal/model"
)

type manualTimers struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	fn   func()
	done bool
}

func (t *manualTimer) Stop() bool {
	was := !t.done
	t.done = true
	return was
}

func (m *manualTimers) AfterFunc(_ time.Duration, fn func()) draft.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{fn: fn}
	m.timers = append(m.timers, t)
	return t
}

func (m *manualTimers) Fire() {
	m.mu.Lock()
	var due []*manualTimer
	for _, t := range m.timers {
		if !t.done {
			t.done = true
			due = append(due, t)
		}
	}
	m.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}

type fakeSender struct {
	posts []*model.Post
	files [][]model.FileInfo
	err   error
}

func (f *fakeSender) CreatePost(_ context.Context, post *model.Post, files []model.FileInfo) (*model.Post, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.posts = append(f.posts, post)
	f.files = append(f.files, files)
	created := *post
	created.ID = fmt.Sprintf("post%d", len(f.posts))
	return &created, nil
}

type fakeCommands struct {
	commands []string
	args     []model.CommandArgs
	err      error
}

func (f *fakeCommands) ExecuteCommand(_ context.Context, command string, args model.CommandArgs) (*model.CommandResponse, error) {
	f.commands = append(f.commands, command)
	f.args = append(f.args, args)
	if f.err != nil {
		return nil, f.err
	}
	return &model.CommandResponse{Text: "ok"}, nil
}

type fakeReactions struct {
	added   []string
	removed []string
}

func (f *fakeReactions) AddReaction(_ context.Context, postID, emoji string) error {
	f.added = append(f.added, postID+":"+emoji)
	return nil
}

func (f *fakeReactions) RemoveReaction(_ context.Context, postID, emoji string) error {
	f.removed = append(f.removed, postID+":"+emoji)
	return nil
}

type fakePosts struct {
	latest string
	err    error
}

func (f fakePosts) LatestReplyablePostID(context.Context, string, string) (string, error) {
	return f.latest, f.err
}

type fakeStats struct {
	stats *model.ChannelStats
	calls int
}

func (f *fakeStats) ChannelStats(context.Context, string) (*model.ChannelStats, error) {
	f.calls++
	return f.stats, nil
}

type fakeGroups []string

func (f fakeGroups) MentionableGroups(context.Context) ([]string, error) {
	return f, nil
}

type fakeUploads struct{ canceled []string }

func (f *fakeUploads) CancelUpload(id string) {
	f.canceled = append(f.canceled, id)
}

type fakeInput struct {
	value   string
	caret   int
	focused bool
}

func (f *fakeInput) Focus() { f.focused = true }
func (f *fakeInput) Blur() { f.focused = false }
func (f *fakeInput) Value() string { return f.value }
func (f *fakeInput) SetValue(v string) { f.value = v }
func (f *fakeInput) CaretPosition() int { return f.caret }
func (f *fakeInput) SetCaret(caret int) { f.caret = caret }

type harness struct {
	store     *draft.MemoryStore
	timers    *manualTimers
	composer  *Composer
	sender    *fakeSender
	commands  *fakeCommands
	reactions *fakeReactions
	stats     *fakeStats
	uploads   *fakeUploads
	input     *fakeInput
	now       time.Time
}

var (
	town = &model.Channel{ID: "c1", TeamID: "t1", Type: model.ChannelOpen, DisplayName: "Town Square"}
	dev  = &model.Channel{ID: "c2", TeamID: "t1", Type: model.ChannelOpen, DisplayName: "Dev"}
	dm   = &model.Channel{ID: "d1", TeamID: "t1", Type: model.ChannelDirect}
)

func newHarness(t *testing.T, configure ...func(*Settings, *Deps)) *harness {
	t.Helper()
	h := &harness{
		store:     draft.NewMemoryStore(),
		timers:    &manualTimers{},
		sender:    &fakeSender{},
		commands:  &fakeCommands{},
		reactions: &fakeReactions{},
		stats:     &fakeStats{stats: &model.ChannelStats{MemberCount: 3}},
		uploads:   &fakeUploads{},
		input:     &fakeInput{},
		now:       time.Unix(1700000000, 0),
	}
	persister := draft.NewPersister(h.store, draft.WithAfterFunc(h.timers.AfterFunc))
	settings := DefaultSettings("u1")
	deps := Deps{
		Sender:    h.sender,
		Commands:  h.commands,
		Reactions: h.reactions,
		Posts:     fakePosts{latest: "p9"},
		Stats:     h.stats,
		Uploads:   h.uploads,
	}
	for _, fn := range configure {
		fn(&settings, &deps)
	}
	h.composer = New(draft.NewCache(h.store), persister, deps, settings,
		WithClock(func() time.Time { return h.now }))
	h.composer.SetInput(h.input)
	require.NoError(t, h.composer.Open(context.Background(), town, ""))
	return h
}

func (h *harness) stored(t *testing.T, key string) *draft.Draft {
	t.Helper()
	d, err := h.store.GetDraft(context.Background(), key)
	require.NoError(t, err)
	return d
}

func (h *harness) typeText(message string) {
	h.composer.SetMessage(message, len([]rune(message)))
}

func TestUploadThenSubmitScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	conv := draft.Conversation{ChannelID: "c1"}

	h.typeText("hello")
	require.NoError(t, h.composer.UploadStarted(ctx, conv, Upload{ClientID: "up1", Name: "a.png"}))
	before := h.composer.Draft()

	out := h.composer.Submit(ctx)
	assert.Equal(t, OutcomeIgnored, out.Kind)
	assert.ErrorIs(t, out.Err, ErrUploadsInProgress)
	assert.Empty(t, h.sender.posts)
	assert.Equal(t, before, h.composer.Draft())

	require.NoError(t, h.composer.UploadCompleted(ctx, conv, []string{"up1"}, []model.FileInfo{{ID: "f1", Name: "a.png"}}))
	saved := h.stored(t, "draft_c1")
	require.NotNil(t, saved)
	assert.Equal(t, "hello", saved.Message)
	assert.Equal(t, []string{"f1"}, saved.FileIDs())
	assert.Empty(t, saved.UploadsInProgress)

	out = h.composer.Submit(ctx)
	require.NoError(t, out.Err)
	assert.Equal(t, OutcomePosted, out.Kind)
	require.Len(t, h.sender.posts, 1)
	assert.Equal(t, "hello", h.sender.posts[0].Message)
	assert.Contains(t, h.sender.posts[0].FileIDs, "f1")
	assert.Equal(t, "u1:1700000000000", h.sender.posts[0].PendingPostID)

	d := h.composer.Draft()
	assert.True(t, d.IsEmpty())
	assert.Nil(t, h.stored(t, "draft_c1"))
	assert.Equal(t, "", h.input.value)
	assert.Equal(t, StateIdle, h.composer.View().State)
}

func TestSubmitWithUploadsChangesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stats.stats = &model.ChannelStats{MemberCount: 50}
	conv := draft.Conversation{ChannelID: "c1"}

	h.typeText("@all hello")
	require.True(t, h.composer.TogglePreview())
	require.NoError(t, h.composer.UploadStarted(ctx, conv, Upload{ClientID: "up1"}))

	out := h.composer.Submit(ctx)
	assert.Equal(t, OutcomeIgnored, out.Kind)
	assert.ErrorIs(t, out.Err, ErrUploadsInProgress)
	assert.Nil(t, out.Confirm)
	assert.Equal(t, 0, h.stats.calls)
	v := h.composer.View()
	assert.True(t, v.ShowPreview)
	assert.Equal(t, "@all hello", v.Message)

	out = h.composer.ConfirmSubmit(ctx)
	assert.Equal(t, OutcomeIgnored, out.Kind)
	assert.Empty(t, h.sender.posts)
}

func TestHeaderDialogOpensDuringUpload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.composer.UploadStarted(ctx, draft.Conversation{ChannelID: "c1"}, Upload{ClientID: "up1"}))

	h.typeText("/header")
	out := h.composer.Submit(ctx)
	require.Equal(t, OutcomeDialog, out.Kind)
	assert.Equal(t, DialogHeader, out.Dialog.Kind)
	d := h.composer.Draft()
	assert.Equal(t, "", d.Message)
	assert.Equal(t, []string{"up1"}, d.UploadsInProgress)
}

func TestUploadStartedSkipsKnownIDs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	conv := draft.Conversation{ChannelID: "c1"}
	require.NoError(t, h.composer.UploadStarted(ctx, conv, Upload{ClientID: "up1"}))
	require.NoError(t, h.composer.UploadCompleted(ctx, conv, []string{"up1"}, []model.FileInfo{{ID: "f1"}}))
	writes := h.store.Writes()

	require.NoError(t, h.composer.UploadStarted(ctx, conv, Upload{ClientID: "up2"}, Upload{ClientID: "up2"}))
	require.NoError(t, h.composer.UploadStarted(ctx, conv, Upload{ClientID: "up2"}, Upload{ClientID: "f1"}))
	d := h.composer.Draft()
	assert.Equal(t, []string{"up2"}, d.UploadsInProgress)
	assert.Equal(t, []string{"f1"}, d.FileIDs())
	assert.Equal(t, writes+1, h.store.Writes())

	require.NoError(t, h.composer.UploadCompleted(ctx, conv, []string{"up2"}, []model.FileInfo{{ID: "f2"}}))
	assert.Empty(t, h.composer.Draft().UploadsInProgress)
}

func TestSentDraftIsNotResurrected(t *testing.T) {
	h := newHarness(t)
	h.typeText("hello")
	_, pending := h.composer.persister.Pending("draft_c1")
	require.True(t, pending)

	require.Equal(t, OutcomePosted, h.composer.Submit(context.Background()).Kind)
	_, pending = h.composer.persister.Pending("draft_c1")
	assert.False(t, pending)

	h.timers.Fire()
	assert.Nil(t, h.stored(t, "draft_c1"))
}

func TestEditsAreDebounced(t *testing.T) {
	h := newHarness(t)
	h.typeText("h")
	h.typeText("he")
	h.typeText("hel")
	assert.Equal(t, 0, h.store.Writes())
	assert.Equal(t, StateEditing, h.composer.View().State)

	h.timers.Fire()
	assert.Equal(t, 1, h.store.Writes())
	assert.Equal(t, "hel", h.stored(t, "draft_c1").Message)
}

func TestSwitchFlushesOutgoingDraft(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.typeText("draft one")

	require.NoError(t, h.composer.Open(ctx, dev, ""))
	saved := h.stored(t, "draft_c1")
	require.NotNil(t, saved)
	assert.Equal(t, "draft one", saved.Message)
	assert.True(t, saved.Show)
	assert.Equal(t, "", h.composer.View().Message)
	assert.Equal(t, "", h.input.value)

	// the enter that was meant for the old channel is swallowed
	assert.True(t, h.composer.HandleKey(KeyEvent{Enter: true}).IgnoreKeyPress)
	h.now = h.now.Add(time.Second)
	assert.True(t, h.composer.HandleKey(KeyEvent{Enter: true}).AllowSending)

	require.NoError(t, h.composer.Open(ctx, town, ""))
	assert.Equal(t, "draft one", h.composer.View().Message)
	assert.Equal(t, "draft one", h.input.value)
	assert.Equal(t, 9, h.input.caret)
}

func TestCloseFlushesAndBlurs(t *testing.T) {
	h := newHarness(t)
	h.typeText("bye")
	require.NoError(t, h.composer.Close(context.Background()))
	assert.Equal(t, "bye", h.stored(t, "draft_c1").Message)
	assert.False(t, h.input.focused)
	assert.Nil(t, h.composer.Draft())
}

func TestSyncFromInput(t *testing.T) {
	h := newHarness(t)
	h.input.value = "typed"
	h.input.caret = 3
	h.composer.SyncFromInput()
	v := h.composer.View()
	assert.Equal(t, "typed", v.Message)
	assert.Equal(t, 3, v.Caret)
	assert.True(t, v.SendEnabled)
}

func TestRemoveAttachmentTouchesOneList(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	conv := draft.Conversation{ChannelID: "c1"}
	require.NoError(t, h.composer.UploadStarted(ctx, conv, Upload{ClientID: "up1"}, Upload{ClientID: "up2"}))
	require.NoError(t, h.composer.UploadCompleted(ctx, conv, []string{"up2"}, []model.FileInfo{{ID: "f2"}}))

	require.NoError(t, h.composer.RemoveAttachment(ctx, "f2"))
	d := h.composer.Draft()
	assert.Empty(t, d.FileInfos)
	assert.Equal(t, []string{"up1"}, d.UploadsInProgress)
	assert.Empty(t, h.uploads.canceled)

	require.NoError(t, h.composer.RemoveAttachment(ctx, "up1"))
	d = h.composer.Draft()
	assert.Empty(t, d.UploadsInProgress)
	assert.Equal(t, []string{"up1"}, h.uploads.canceled)
	assert.Nil(t, h.stored(t, "draft_c1"))
}

func TestUploadEventsFollowTheirConversation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	conv := draft.Conversation{ChannelID: "c1"}
	require.NoError(t, h.composer.UploadStarted(ctx, conv, Upload{ClientID: "up1", Name: "log.txt"}))
	assert.Equal(t, []Upload{{ClientID: "up1", Name: "log.txt"}}, h.composer.View().Uploads)
	h.composer.UploadProgress("up1", 40)
	assert.Equal(t, 40, h.composer.View().Uploads[0].Percent)

	require.NoError(t, h.composer.Open(ctx, dev, ""))
	require.NoError(t, h.composer.UploadCompleted(ctx, conv, []string{"up1"}, []model.FileInfo{{ID: "f1"}}))

	assert.Empty(t, h.composer.View().Files)
	saved := h.stored(t, "draft_c1")
	require.NotNil(t, saved)
	assert.Equal(t, []string{"f1"}, saved.FileIDs())
	assert.Empty(t, saved.UploadsInProgress)
}

func TestUploadFailed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	conv := draft.Conversation{ChannelID: "c1"}
	require.NoError(t, h.composer.UploadStarted(ctx, conv, Upload{ClientID: "up1"}))

	require.NoError(t, h.composer.UploadFailed(ctx, conv, "up1", errors.New("file too large")))
	v := h.composer.View()
	assert.Empty(t, v.Uploads)
	require.NotNil(t, v.ServerError)
	assert.Equal(t, "file too large", v.ServerError.Message)

	h.composer.DismissError()
	require.NoError(t, h.composer.UploadFailed(ctx, draft.Conversation{}, "", errors.New("no channel")))
	assert.Equal(t, "no channel", h.composer.View().ServerError.Message)
}

func TestHeaderCommandOpensDialog(t *testing.T) {
	h := newHarness(t)
	h.typeText("/header  ")
	out := h.composer.Submit(context.Background())
	assert.Equal(t, OutcomeDialog, out.Kind)
	require.NotNil(t, out.Dialog)
	assert.Equal(t, DialogHeader, out.Dialog.Kind)
	assert.Empty(t, h.sender.posts)
	assert.Empty(t, h.commands.commands)
	assert.Equal(t, "", h.composer.View().Message)
}

func TestPurposeInDirectMessageRunsCommand(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.composer.Open(ctx, dm, ""))
	h.now = h.now.Add(time.Second)
	h.typeText("/purpose")
	out := h.composer.Submit(ctx)
	assert.Equal(t, OutcomeCommand, out.Kind)
	assert.Equal(t, []string{"/purpose"}, h.commands.commands)
}

func TestStatusCommandWhileOutOfOffice(t *testing.T) {
	h := newHarness(t, func(s *Settings, _ *Deps) { s.OutOfOffice = true })
	h.typeText("/away")
	out := h.composer.Submit(context.Background())
	require.Equal(t, OutcomeDialog, out.Kind)
	assert.Equal(t, DialogResetStatus, out.Dialog.Kind)
	assert.Equal(t, "away", out.Dialog.Status)
	assert.Empty(t, h.commands.commands)
}

func TestReactionSubmission(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.typeText("+:thumbsup:")
	out := h.composer.Submit(ctx)
	assert.Equal(t, OutcomeReaction, out.Kind)
	assert.Equal(t, "p9", out.ReactionPostID)
	assert.Equal(t, []string{"p9:thumbsup"}, h.reactions.added)
	assert.Empty(t, h.sender.posts)
	assert.Equal(t, "", h.composer.View().Message)

	h.typeText("-:smile:")
	h.composer.Submit(ctx)
	assert.Equal(t, []string{"p9:smile"}, h.reactions.removed)

	h.typeText("+:not_an_emoji:")
	out = h.composer.Submit(ctx)
	assert.Equal(t, OutcomePosted, out.Kind)
	require.Len(t, h.sender.posts, 1)
}

func TestReactionFailureClearedOnEdit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(_ *Settings, d *Deps) {
		d.Posts = fakePosts{err: errors.New("lookup failed")}
	})

	h.typeText("+:smile:")
	out := h.composer.Submit(ctx)
	require.Equal(t, OutcomeFailed, out.Kind)
	v := h.composer.View()
	require.NotNil(t, v.ServerError)
	assert.Equal(t, "+:smile:", v.ServerError.SubmittedMessage)
	assert.Equal(t, "+:smile:", v.Message)
	assert.Empty(t, h.reactions.added)

	h.typeText("+:smile: again")
	assert.Nil(t, h.composer.View().ServerError)
}

func TestCommandFallsBackToMessage(t *testing.T) {
	h := newHarness(t)
	h.commands.err = &model.AppError{Message: "not a command", SendMessage: true, StatusCode: 404}
	h.typeText("/shrug-ish text")
	out := h.composer.Submit(context.Background())
	assert.Equal(t, OutcomePosted, out.Kind)
	require.Len(t, h.sender.posts, 1)
	assert.Equal(t, "/shrug-ish text", h.sender.posts[0].Message)
}

func TestInvalidCommandCanBeResentAsMessage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.commands.err = &model.AppError{Message: "command not found", ServerErrorID: model.ErrorIDCommandNotFound, StatusCode: 404}

	h.typeText("/nope")
	out := h.composer.Submit(ctx)
	assert.Equal(t, OutcomeFailed, out.Kind)
	v := h.composer.View()
	require.NotNil(t, v.ServerError)
	assert.True(t, v.ServerError.IsInvalidSlashCommand())
	assert.Equal(t, "/nope", v.ServerError.SubmittedMessage)
	assert.Equal(t, "/nope", v.Message)
	assert.Equal(t, StateEditing, v.State)

	out = h.composer.Submit(ctx)
	assert.Equal(t, OutcomePosted, out.Kind)
	assert.Equal(t, MessageSubmission{Message: "/nope"}, out.Submission)
	assert.Len(t, h.commands.commands, 1)
}

func TestInvalidCommandErrorClearedOnEdit(t *testing.T) {
	h := newHarness(t)
	h.commands.err = &model.AppError{Message: "command not found", ServerErrorID: model.ErrorIDCommandNotFound}
	h.typeText("/nope")
	h.composer.Submit(context.Background())
	require.NotNil(t, h.composer.View().ServerError)

	h.typeText("/nope2")
	assert.Nil(t, h.composer.View().ServerError)
}

type rewriteHooks struct {
	NopHooks
	err error
}

func (r rewriteHooks) SlashCommandWillBePosted(_ context.Context, message string, args model.CommandArgs) (string, model.CommandArgs, error) {
	if r.err != nil {
		return "", args, r.err
	}
	return message + " --rewritten", args, nil
}

func TestSlashCommandHooks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(_ *Settings, d *Deps) { d.Hooks = rewriteHooks{} })
	h.typeText("/echo hi")
	out := h.composer.Submit(ctx)
	assert.Equal(t, OutcomeCommand, out.Kind)
	assert.Equal(t, []string{"/echo hi --rewritten"}, h.commands.commands)
	assert.Equal(t, model.CommandArgs{ChannelID: "c1", TeamID: "t1", UserID: "u1"}, h.commands.args[0])

	h = newHarness(t, func(_ *Settings, d *Deps) { d.Hooks = rewriteHooks{err: errors.New("blocked by plugin")} })
	h.typeText("/echo hi")
	out = h.composer.Submit(ctx)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Empty(t, h.commands.commands)
	assert.Equal(t, "blocked by plugin", h.composer.View().ServerError.Message)
	assert.Equal(t, "/echo hi", h.composer.View().Message)
}

func TestNotifyAllNeedsConfirmation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stats.stats = &model.ChannelStats{MemberCount: 10, TimezoneCount: 3}

	h.typeText("@all standup in 5")
	out := h.composer.Submit(ctx)
	require.Equal(t, OutcomeNeedsConfirmation, out.Kind)
	assert.Equal(t, &NotifyConfirmation{MemberNotifyCount: 9, ChannelTimezoneCount: 3, Mentions: []string{"@all"}}, out.Confirm)
	assert.Empty(t, h.sender.posts)
	assert.Equal(t, "@all standup in 5", h.composer.View().Message)

	out = h.composer.ConfirmSubmit(ctx)
	assert.Equal(t, OutcomePosted, out.Kind)
	require.Len(t, h.sender.posts, 1)
}

func TestSmallChannelSkipsConfirmation(t *testing.T) {
	h := newHarness(t)
	h.stats.stats = &model.ChannelStats{MemberCount: 5}
	h.typeText("@channel hi")
	assert.Equal(t, OutcomePosted, h.composer.Submit(context.Background()).Kind)
}

func TestPlainMessageSkipsStatsLookup(t *testing.T) {
	h := newHarness(t)
	h.typeText("no mentions here")
	h.composer.Submit(context.Background())
	assert.Equal(t, 0, h.stats.calls)
}

func TestGroupMentionNeedsConfirmation(t *testing.T) {
	h := newHarness(t)
	h.stats.stats = &model.ChannelStats{
		MemberCount:           20,
		MemberCountsByGroup:   map[string]int{"backend": 8, "tiny": 2},
		TimezoneCountsByGroup: map[string]int{"backend": 2, "tiny": 1},
	}
	h.typeText("@backend @tiny ship it")
	out := h.composer.Submit(context.Background())
	require.Equal(t, OutcomeNeedsConfirmation, out.Kind)
	assert.Equal(t, 8, out.Confirm.MemberNotifyCount)
	assert.Equal(t, 2, out.Confirm.ChannelTimezoneCount)
	assert.Equal(t, []string{"@backend", "@tiny"}, out.Confirm.Mentions)
}

func TestMentionPropsWhenHighlightsDisabled(t *testing.T) {
	h := newHarness(t, func(s *Settings, d *Deps) {
		s.UseChannelMentions = false
		s.UseGroupMentions = false
		d.Groups = fakeGroups{"backend"}
	})
	h.stats.stats = &model.ChannelStats{MemberCount: 50}
	h.typeText("@channel @backend deploy done")
	out := h.composer.Submit(context.Background())
	require.Equal(t, OutcomePosted, out.Kind)
	props := h.sender.posts[0].Props
	assert.Equal(t, true, props["mentionHighlightDisabled"])
	assert.Equal(t, true, props["disable_group_highlight"])
}

func TestSendFailureKeepsDraft(t *testing.T) {
	h := newHarness(t)
	h.sender.err = &model.AppError{Message: "channel archived", StatusCode: 403}
	h.typeText("are you there?")
	out := h.composer.Submit(context.Background())
	assert.Equal(t, OutcomeFailed, out.Kind)

	v := h.composer.View()
	assert.Equal(t, "are you there?", v.Message)
	require.NotNil(t, v.ServerError)
	assert.Equal(t, "channel archived", v.ServerError.Message)
	assert.False(t, v.Submitting)

	h.typeText("are you there??")
	assert.Nil(t, h.composer.View().ServerError)
}

func TestTooLongMessageIsHighlighted(t *testing.T) {
	h := newHarness(t, func(s *Settings, _ *Deps) { s.MaxPostSize = 5 })
	h.typeText("too long")
	out := h.composer.Submit(context.Background())
	assert.Equal(t, OutcomeRejected, out.Kind)
	var tooLong *MessageTooLongError
	require.ErrorAs(t, out.Err, &tooLong)
	assert.Equal(t, 8, tooLong.Length)
	assert.True(t, h.composer.View().Highlight)

	h.now = h.now.Add(2 * time.Second)
	assert.False(t, h.composer.View().Highlight)
	assert.Empty(t, h.sender.posts)
}

func TestEmptySubmitIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.typeText("   ")
	out := h.composer.Submit(context.Background())
	assert.Equal(t, OutcomeIgnored, out.Kind)
	assert.ErrorIs(t, out.Err, ErrEmptyMessage)
}

func TestPriority(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.composer.SetPriority(ctx, model.PriorityUrgent, true))
	saved := h.stored(t, "draft_c1")
	require.NotNil(t, saved)
	assert.Equal(t, &model.PostPriority{Priority: model.PriorityUrgent, RequestedAck: true}, saved.Metadata.Priority)

	h.typeText("prod is down")
	h.composer.Submit(ctx)
	require.Len(t, h.sender.posts, 1)
	require.NotNil(t, h.sender.posts[0].Metadata)
	assert.Equal(t, model.PriorityUrgent, h.sender.posts[0].Metadata.Priority.Priority)

	require.NoError(t, h.composer.Open(ctx, town, "root1"))
	assert.ErrorIs(t, h.composer.SetPriority(ctx, model.PriorityImportant, false), ErrPriorityInThread)
}

func TestThreadReplyUsesCommentKey(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.composer.Open(ctx, town, "root1"))
	h.now = h.now.Add(time.Second)
	h.typeText("reply")
	h.timers.Fire()
	assert.Equal(t, "reply", h.stored(t, "comment_draft_root1").Message)

	h.composer.Submit(ctx)
	require.Len(t, h.sender.posts, 1)
	assert.Equal(t, "root1", h.sender.posts[0].RootID)
}

func TestFormattingEmojiAndHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.typeText("hi")
	h.composer.InsertEmoji("smile")
	assert.Equal(t, "hi :smile: ", h.input.value)
	assert.Equal(t, 11, h.input.caret)

	h.typeText("bold")
	out, err := h.composer.ApplyMarkdown(MarkdownBold, Selection{0, 4})
	require.NoError(t, err)
	assert.Equal(t, "**bold**", out.Message)
	assert.Equal(t, "**bold**", h.input.value)

	h.composer.TogglePreview()
	_, err = h.composer.ApplyMarkdown(MarkdownItalic, Selection{0, 4})
	assert.ErrorIs(t, err, ErrPreviewMode)

	h.composer.Submit(ctx)
	h.typeText("second")
	h.composer.Submit(ctx)

	require.True(t, h.composer.HistoryPrevious())
	assert.Equal(t, "second", h.composer.View().Message)
	require.True(t, h.composer.HistoryPrevious())
	assert.Equal(t, "**bold**", h.composer.View().Message)
	require.True(t, h.composer.HistoryNext())
	assert.Equal(t, "second", h.input.value)
}

func TestCtrlEnterClosesCodeBlock(t *testing.T) {
	h := newHarness(t, func(s *Settings, _ *Deps) { s.Send.CodeBlockOnCtrlEnter = true })
	h.typeText("```\ncode")
	decision := h.composer.HandleKey(KeyEvent{Enter: true, Ctrl: true})
	assert.True(t, decision.AllowSending)
	assert.Equal(t, "```\ncode\n```", h.composer.View().Message)

	out := h.composer.Submit(context.Background())
	assert.Equal(t, OutcomePosted, out.Kind)
	assert.Equal(t, "```\ncode\n```", h.sender.posts[0].Message)
}
