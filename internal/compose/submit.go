package compose

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"termpost/internal/draft"
	"termpost/internal/model"
)

// OutcomeKind is the result of a submit attempt.
type OutcomeKind int

const (
	// OutcomeIgnored: nothing happened (empty draft, uploads running, already sending).
	OutcomeIgnored OutcomeKind = iota
	// OutcomeRejected: local validation failed and the composer is highlighted.
	OutcomeRejected
	OutcomeNeedsConfirmation
	OutcomeDialog
	OutcomeCommand
	OutcomeReaction
	OutcomePosted
	// OutcomeFailed: the server or a hook refused; the draft is kept.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeRejected:
		return "rejected"
	case OutcomeNeedsConfirmation:
		return "needs_confirmation"
	case OutcomeDialog:
		return "dialog"
	case OutcomeCommand:
		return "command"
	case OutcomeReaction:
		return "reaction"
	case OutcomePosted:
		return "posted"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

// Outcome describes what Submit did.
type Outcome struct {
	Kind       OutcomeKind
	Submission Submission
	Confirm    *NotifyConfirmation
	Dialog     *DialogRequest
	Post       *model.Post
	Response   *model.CommandResponse
	// ReactionPostID is the post a reaction was applied to.
	ReactionPostID string
	Err            error
}

// Submit runs the notify guard and dialog checks, then sends the draft.
func (c *Composer) Submit(ctx context.Context) Outcome {
	return c.submit(ctx, false)
}

// ConfirmSubmit sends after the user accepted the notify-all confirmation.
func (c *Composer) ConfirmSubmit(ctx context.Context) Outcome {
	return c.submit(ctx, true)
}

func (c *Composer) submit(ctx context.Context, confirmed bool) Outcome {
	c.mu.Lock()
	if !c.opened {
		c.mu.Unlock()
		return Outcome{Kind: OutcomeIgnored, Err: ErrNotOpen}
	}
	message := c.draft.Message
	channel := c.channel
	settings := c.settings
	if busy := c.busyLocked(); busy != nil {
		// /header opens its dialog even while uploads are running
		if dialog := dialogFor(message, channel, settings.OutOfOffice); !confirmed && dialog != nil && dialog.Kind == DialogHeader {
			c.setMessageLocked("", 0)
			c.mu.Unlock()
			return Outcome{Kind: OutcomeDialog, Dialog: dialog}
		}
		c.mu.Unlock()
		return Outcome{Kind: OutcomeIgnored, Err: busy}
	}
	c.showPreview = false
	c.mu.Unlock()

	if !confirmed {
		confirm, err := c.notifyConfirmation(ctx, channel.ID, message, settings)
		if err != nil {
			se := newServerError(err, message)
			c.mu.Lock()
			c.serverError = se
			c.mu.Unlock()
			return Outcome{Kind: OutcomeFailed, Err: se}
		}
		if confirm != nil {
			return Outcome{Kind: OutcomeNeedsConfirmation, Confirm: confirm}
		}

		if dialog := dialogFor(message, channel, settings.OutOfOffice); dialog != nil {
			c.mu.Lock()
			if c.opened && c.draft.Message == message {
				c.setMessageLocked("", 0)
			}
			c.mu.Unlock()
			return Outcome{Kind: OutcomeDialog, Dialog: dialog}
		}
	}
	return c.doSubmit(ctx)
}

// busyLocked reports why a submit must not start yet: uploads still running
// or a send already in flight. Such a submit changes nothing.
func (c *Composer) busyLocked() error {
	switch {
	case len(c.draft.UploadsInProgress) > 0:
		return ErrUploadsInProgress
	case c.submitting:
		return ErrAlreadySubmitting
	}
	return nil
}

func (c *Composer) doSubmit(ctx context.Context) Outcome {
	c.mu.Lock()
	if !c.opened {
		c.mu.Unlock()
		return Outcome{Kind: OutcomeIgnored, Err: ErrNotOpen}
	}
	if busy := c.busyLocked(); busy != nil {
		c.mu.Unlock()
		return Outcome{Kind: OutcomeIgnored, Err: busy}
	}

	message := c.draft.Message
	ignoreSlash := c.serverError.IsInvalidSlashCommand() && c.serverError.SubmittedMessage == message
	if strings.TrimSpace(message) == "" && len(c.draft.FileInfos) == 0 {
		c.mu.Unlock()
		return Outcome{Kind: OutcomeIgnored, Err: ErrEmptyMessage}
	}
	if c.postError != nil {
		c.highlightUntil = c.now().Add(c.settings.AnimationTimeout)
		err := c.postError
		c.mu.Unlock()
		return Outcome{Kind: OutcomeRejected, Err: err}
	}

	c.deps.History.Add(message)
	c.submitting = true
	c.serverError = nil
	c.showEmoji = false
	snapshot := c.draft.Clone()
	conv := c.conv
	channel := c.channel
	settings := c.settings
	c.mu.Unlock()

	sub := Classify(message, ignoreSlash, c.deps.Emoji)
	var (
		outcome   Outcome
		submitted = message
	)
	switch s := sub.(type) {
	case CommandSubmission:
		outcome, submitted = c.runCommand(ctx, channel, conv, snapshot, s.Command, settings)
	case ReactionSubmission:
		outcome = c.runReaction(ctx, conv, s, message)
	case MessageSubmission:
		outcome = c.runMessage(ctx, conv, snapshot, s.Message, settings)
	}
	outcome.Submission = sub

	c.finishSubmit(ctx, conv, snapshot, submitted, &outcome)
	c.logger.Debug("submit finished",
		zap.String("key", conv.Key()),
		zap.Stringer("outcome", outcome.Kind),
		zap.Error(outcome.Err))
	return outcome
}

func failed(err error, submitted string) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: newServerError(err, submitted)}
}

// runCommand executes a slash command. It also returns the command text as
// finally sent, which may have been rewritten by a hook.
func (c *Composer) runCommand(ctx context.Context, channel *model.Channel, conv draft.Conversation, snapshot *draft.Draft, command string, s Settings) (Outcome, string) {
	args := model.CommandArgs{
		ChannelID: conv.ChannelID,
		TeamID:    channel.TeamID,
		RootID:    conv.RootID,
		ParentID:  conv.RootID,
		UserID:    s.UserID,
	}
	command, args, err := c.deps.Hooks.SlashCommandWillBePosted(ctx, command, args)
	if err != nil {
		return failed(err, snapshot.Message), snapshot.Message
	}
	if command == "" {
		return Outcome{Kind: OutcomeCommand}, snapshot.Message
	}

	resp, err := c.deps.Commands.ExecuteCommand(ctx, command, args)
	if err != nil {
		if appErr, ok := model.AsAppError(err); ok && appErr.SendMessage {
			c.logger.Debug("command rejected, posting as message", zap.String("command", command))
			return c.runMessage(ctx, conv, snapshot, command, s), command
		}
		return failed(err, command), command
	}
	return Outcome{Kind: OutcomeCommand, Response: resp}, command
}

// runReaction failures carry text so editing it clears the error.
func (c *Composer) runReaction(ctx context.Context, conv draft.Conversation, r ReactionSubmission, text string) Outcome {
	postID, err := c.deps.Posts.LatestReplyablePostID(ctx, conv.ChannelID, conv.RootID)
	if err != nil {
		return failed(err, text)
	}
	if postID == "" {
		return Outcome{Kind: OutcomeReaction}
	}
	if r.Add {
		err = c.deps.Reactions.AddReaction(ctx, postID, r.EmojiName)
	} else {
		err = c.deps.Reactions.RemoveReaction(ctx, postID, r.EmojiName)
	}
	if err != nil {
		return failed(err, text)
	}
	return Outcome{Kind: OutcomeReaction, ReactionPostID: postID}
}

func (c *Composer) runMessage(ctx context.Context, conv draft.Conversation, snapshot *draft.Draft, message string, s Settings) Outcome {
	now := c.now().UnixMilli()
	post := &model.Post{
		PendingPostID: fmt.Sprintf("%s:%d", s.UserID, now),
		ChannelID:     conv.ChannelID,
		RootID:        conv.RootID,
		UserID:        s.UserID,
		Message:       message,
		FileIDs:       snapshot.FileIDs(),
		CreateAt:      now,
		Props:         map[string]any{},
	}
	for k, v := range snapshot.Props {
		post.Props[k] = v
	}
	if !conv.IsThread() && snapshot.HasPriority() {
		priority := *snapshot.Metadata.Priority
		post.Metadata = &model.PostMetadata{Priority: &priority}
	}
	if !s.UseChannelMentions && ContainsAtChannel(message, true) {
		post.Props["mentionHighlightDisabled"] = true
	}
	if !s.UseGroupMentions && c.deps.Groups != nil {
		groups, err := c.deps.Groups.MentionableGroups(ctx)
		if err != nil {
			c.logger.Warn("list mentionable groups", zap.Error(err))
		} else if len(GroupsMentionedInText(message, groups)) > 0 {
			post.Props["disable_group_highlight"] = true
		}
	}
	if len(post.Props) == 0 {
		post.Props = nil
	}

	post, err := c.deps.Hooks.MessageWillBePosted(ctx, post)
	if err != nil {
		return failed(err, message)
	}
	created, err := c.deps.Sender.CreatePost(ctx, post, snapshot.FileInfos)
	if err != nil {
		return failed(err, message)
	}
	return Outcome{Kind: OutcomePosted, Post: created}
}

// finishSubmit clears the sent draft on success. On failure the draft is kept
// and the error shown, with the command text restored if a hook rewrote it.
func (c *Composer) finishSubmit(ctx context.Context, conv draft.Conversation, snapshot *draft.Draft, submitted string, outcome *Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitting = false
	current := c.opened && c.conv == conv

	if outcome.Err != nil {
		if !current {
			c.logger.Warn("submit failed after switching conversation",
				zap.String("key", conv.Key()), zap.Error(outcome.Err))
			return
		}
		if se, ok := outcome.Err.(*ServerError); ok {
			c.serverError = se
		}
		if submitted != snapshot.Message && c.draft.Message == snapshot.Message {
			c.setMessageLocked(submitted, runeLen(submitted))
		}
		return
	}

	key := conv.Key()
	if current && c.draft.Message != snapshot.Message {
		// edited while sending: keep the new text, drop what was sent
		for _, f := range snapshot.FileInfos {
			c.draft.RemoveFile(f.ID)
		}
		c.draft.Metadata.Priority = nil
		if err := c.writeLocked(ctx, c.draft); err != nil {
			c.logger.Warn("save draft after submit", zap.String("key", key), zap.Error(err))
		}
		return
	}

	var uploads []string
	if current {
		uploads = c.draft.UploadsInProgress
	} else if d, err := c.cache.Get(ctx, key); err == nil && d != nil {
		uploads = d.UploadsInProgress
	}
	fresh := draft.New(conv)
	fresh.UploadsInProgress = append(fresh.UploadsInProgress, uploads...)
	// an edit debounced before the send must not resurrect the sent text
	c.persister.Cancel(key)
	if err := c.writeLocked(ctx, fresh); err != nil {
		c.logger.Warn("clear draft after submit", zap.String("key", key), zap.Error(err))
	}
	if current {
		c.draft = fresh
		c.caret = 0
		c.postError = nil
		c.syncInputLocked()
	}
}
