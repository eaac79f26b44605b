package compose

import (
	"regexp"
	"strings"

	"termpost/internal/model"
)

var reactionRe = regexp.MustCompile(`^(\+|-):([^:\s]+):\s*$`)

// Submission is what a submitted message turns into.
type Submission interface {
	isSubmission()
}

// CommandSubmission runs a slash command.
type CommandSubmission struct {
	Command string
}

// ReactionSubmission adds or removes a reaction on the latest replyable post.
type ReactionSubmission struct {
	Add       bool
	EmojiName string
}

// MessageSubmission creates a regular post.
type MessageSubmission struct {
	Message string
}

func (CommandSubmission) isSubmission()  {}
func (ReactionSubmission) isSubmission() {}
func (MessageSubmission) isSubmission()  {}

// Classify picks the submission kind for message. ignoreSlash sends a
// rejected command as plain text instead.
func Classify(message string, ignoreSlash bool, emoji EmojiSet) Submission {
	if !ignoreSlash && strings.HasPrefix(message, "/") {
		return CommandSubmission{Command: message}
	}
	if m := reactionRe.FindStringSubmatch(message); m != nil && emoji != nil && emoji.Has(m[2]) {
		return ReactionSubmission{Add: m[1] == "+", EmojiName: m[2]}
	}
	return MessageSubmission{Message: message}
}

// DialogKind names a channel dialog opened instead of sending.
type DialogKind string

const (
	DialogHeader      DialogKind = "header"
	DialogPurpose     DialogKind = "purpose"
	DialogRename      DialogKind = "rename"
	DialogResetStatus DialogKind = "reset_status"
)

// DialogRequest asks the UI to open a dialog.
type DialogRequest struct {
	Kind    DialogKind
	Channel *model.Channel
	// Status is the requested status for DialogResetStatus.
	Status string
}

var statusCommands = map[string]bool{
	model.StatusOnline:  true,
	model.StatusAway:    true,
	model.StatusDND:     true,
	model.StatusOffline: true,
}

// dialogFor returns the dialog a message asks for, or nil.
func dialogFor(message string, channel *model.Channel, outOfOffice bool) *DialogRequest {
	trimmed := strings.TrimRight(message, " \t\r\n")
	if outOfOffice && strings.HasPrefix(trimmed, "/") {
		if status := strings.TrimPrefix(trimmed, "/"); statusCommands[status] {
			return &DialogRequest{Kind: DialogResetStatus, Channel: channel, Status: status}
		}
	}
	if trimmed == "/header" {
		return &DialogRequest{Kind: DialogHeader, Channel: channel}
	}
	if !channel.IsDirectOrGroup() {
		switch trimmed {
		case "/purpose":
			return &DialogRequest{Kind: DialogPurpose, Channel: channel}
		case "/rename":
			return &DialogRequest{Kind: DialogRename, Channel: channel}
		}
	}
	return nil
}

// NotifyConfirmation asks the user to confirm a message that notifies many people.
type NotifyConfirmation struct {
	MemberNotifyCount    int
	ChannelTimezoneCount int
	Mentions             []string
}
