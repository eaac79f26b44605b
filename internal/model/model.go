package model

import (
	"errors"
	"fmt"
)

// post priority labels
const (
	PriorityStandard  = ""
	PriorityImportant = "important"
	PriorityUrgent    = "urgent"
)

// channel kinds. direct and group channels cannot be renamed or given a purpose.
const (
	ChannelOpen    = "O"
	ChannelPrivate = "P"
	ChannelDirect  = "D"
	ChannelGroup   = "G"
)

// ErrorIDCommandNotFound is returned by the server for unknown slash commands.
const ErrorIDCommandNotFound = "api.command.execute_command.not_found.app_error"

// FileInfo is server-confirmed attachment metadata. Never mutated after upload.
type FileInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Extension string `json:"extension"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mime_type"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	CreateAt  int64  `json:"create_at"`
}

// PostPriority is the optional priority block attached to root posts.
type PostPriority struct {
	Priority     string `json:"priority,omitempty"`
	RequestedAck bool   `json:"requested_ack,omitempty"`
}

// PostMetadata carries structured extras for a post.
type PostMetadata struct {
	Priority *PostPriority `json:"priority,omitempty"`
	Files    []FileInfo    `json:"files,omitempty"`
}

// Post is a single message in a channel or thread.
type Post struct {
	ID            string         `json:"id"`
	PendingPostID string         `json:"pending_post_id,omitempty"`
	ChannelID     string         `json:"channel_id"`
	RootID        string         `json:"root_id,omitempty"`
	UserID        string         `json:"user_id"`
	Message       string         `json:"message"`
	FileIDs       []string       `json:"file_ids,omitempty"`
	CreateAt      int64          `json:"create_at"`
	Type          string         `json:"type,omitempty"`
	Props         map[string]any `json:"props,omitempty"`
	Metadata      *PostMetadata  `json:"metadata,omitempty"`
}

// IsSystem reports whether the post was generated by the server.
func (p *Post) IsSystem() bool {
	return p != nil && len(p.Type) > 7 && p.Type[:7] == "system_"
}

// Reaction is an emoji attached to a post by a user.
type Reaction struct {
	UserID    string `json:"user_id"`
	PostID    string `json:"post_id"`
	EmojiName string `json:"emoji_name"`
	CreateAt  int64  `json:"create_at"`
}

// Channel is the subset of channel state the composer needs.
type Channel struct {
	ID          string `json:"id"`
	TeamID      string `json:"team_id"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
	Header      string `json:"header"`
	Purpose     string `json:"purpose"`
	CreateAt    int64  `json:"create_at"`
}

// IsDirectOrGroup reports whether the channel is a DM or group message.
func (c *Channel) IsDirectOrGroup() bool {
	return c != nil && (c.Type == ChannelDirect || c.Type == ChannelGroup)
}

// ChannelStats summarizes channel membership for the notify-all guard.
type ChannelStats struct {
	ChannelID           string         `json:"channel_id"`
	MemberCount         int            `json:"member_count"`
	TimezoneCount       int            `json:"timezone_count"`
	MemberCountsByGroup map[string]int `json:"member_counts_by_group,omitempty"`

	// distinct member timezones per mentionable group
	TimezoneCountsByGroup map[string]int `json:"timezone_counts_by_group,omitempty"`
}

// CommandArgs is the context a slash command runs in.
type CommandArgs struct {
	ChannelID string `json:"channel_id"`
	TeamID    string `json:"team_id"`
	RootID    string `json:"root_id,omitempty"`
	ParentID  string `json:"parent_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// CommandRequest is the wire body for command execution.
type CommandRequest struct {
	Command string `json:"command"`
	CommandArgs
}

// user statuses set by the status commands
const (
	StatusOnline      = "online"
	StatusAway        = "away"
	StatusDND         = "dnd"
	StatusOffline     = "offline"
	StatusOutOfOffice = "ooo"
)

// CommandResponse is the server reply to an executed command. Status is the
// caller's status after a status command.
type CommandResponse struct {
	ResponseType string `json:"response_type,omitempty"`
	Text         string `json:"text,omitempty"`
	GotoLocation string `json:"goto_location,omitempty"`
	Status       string `json:"status,omitempty"`
}

// AppError is the structured error returned by the server API. SendMessage
// asks the client to retry a failed command as a plain post.
type AppError struct {
	Message       string `json:"error"`
	ServerErrorID string `json:"server_error_id,omitempty"`
	StatusCode    int    `json:"status_code,omitempty"`
	SendMessage   bool   `json:"send_message,omitempty"`
}

func (e *AppError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
	}
	return e.Message
}

// AsAppError unwraps err into an AppError when one is present.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Event is the websocket envelope broadcast to channel members.
type Event struct {
	Type      string    `json:"type"`
	ChannelID string    `json:"channel_id"`
	Post      *Post     `json:"post,omitempty"`
	Reaction  *Reaction `json:"reaction,omitempty"`
	Channel   *Channel  `json:"channel,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	Ts        int64     `json:"ts"`
}

// websocket event types
const (
	EventPosted          = "posted"
	EventReactionAdded   = "reaction_added"
	EventReactionRemoved = "reaction_removed"
	EventChannelUpdated  = "channel_updated"
	EventFileUploaded    = "file_uploaded"
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventEphemeral       = "ephemeral"
	EventTyping          = "typing"
)
