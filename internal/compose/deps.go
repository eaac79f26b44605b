package compose

import (
	"context"
	"time"

	"termpost/internal/model"
)

// MessageSender creates posts on the server.
type MessageSender interface {
	CreatePost(ctx context.Context, post *model.Post, files []model.FileInfo) (*model.Post, error)
}

// CommandExecutor runs slash commands. An *model.AppError with SendMessage
// set asks the caller to post the text as a plain message instead.
type CommandExecutor interface {
	ExecuteCommand(ctx context.Context, command string, args model.CommandArgs) (*model.CommandResponse, error)
}

// ReactionAPI adds and removes the current user's reactions.
type ReactionAPI interface {
	AddReaction(ctx context.Context, postID, emojiName string) error
	RemoveReaction(ctx context.Context, postID, emojiName string) error
}

// UploadCanceler aborts an in-flight upload by client id.
type UploadCanceler interface {
	CancelUpload(clientID string)
}

// StatsSource reports channel membership for the notify-all guard.
type StatsSource interface {
	ChannelStats(ctx context.Context, channelID string) (*model.ChannelStats, error)
}

// PostLookup finds the post a +:emoji: reaction applies to.
type PostLookup interface {
	LatestReplyablePostID(ctx context.Context, channelID, rootID string) (string, error)
}

// GroupSource lists the group names that can be mentioned.
type GroupSource interface {
	MentionableGroups(ctx context.Context) ([]string, error)
}

// Hooks let plugins rewrite or reject outgoing commands and posts.
type Hooks interface {
	SlashCommandWillBePosted(ctx context.Context, message string, args model.CommandArgs) (string, model.CommandArgs, error)
	MessageWillBePosted(ctx context.Context, post *model.Post) (*model.Post, error)
}

// NopHooks passes everything through unchanged.
type NopHooks struct{}

func (NopHooks) SlashCommandWillBePosted(_ context.Context, message string, args model.CommandArgs) (string, model.CommandArgs, error) {
	return message, args, nil
}

func (NopHooks) MessageWillBePosted(_ context.Context, post *model.Post) (*model.Post, error) {
	return post, nil
}

// Input is the text widget the composer drives. The composer pushes text
// back into it whenever it changes the message itself.
type Input interface {
	Focus()
	Blur()
	Value() string
	SetValue(value string)
	CaretPosition() int
	SetCaret(caret int)
}

// Deps bundles the composer's collaborators. Stats, Groups, Uploads and
// Hooks are optional.
type Deps struct {
	Sender    MessageSender
	Commands  CommandExecutor
	Reactions ReactionAPI
	Posts     PostLookup
	Stats     StatsSource
	Groups    GroupSource
	Uploads   UploadCanceler
	Hooks     Hooks
	History   *History
	Emoji     EmojiSet
}

// Settings are the user and server preferences the composer consults.
type Settings struct {
	UserID string
	Locale string

	// MaxPostSize is in runes. Zero disables the check.
	MaxPostSize      int
	NotifyAllMembers int

	ConfirmNotificationsToChannel bool
	UseChannelMentions            bool
	UseGroupMentions              bool
	TimezonesEnabled              bool
	OutOfOffice                   bool

	Send SendPreferences

	// AnimationTimeout is how long a rejected send stays highlighted.
	AnimationTimeout time.Duration
}

// DefaultSettings returns the stock preferences for userID.
func DefaultSettings(userID string) Settings {
	return Settings{
		UserID:                        userID,
		Locale:                        "en",
		MaxPostSize:                   4000,
		NotifyAllMembers:              5,
		ConfirmNotificationsToChannel: true,
		UseChannelMentions:            true,
		UseGroupMentions:              true,
		TimezonesEnabled:              true,
		AnimationTimeout:              time.Second,
	}
}
