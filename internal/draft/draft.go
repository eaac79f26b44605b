package draft

import (
	"context"
	"slices"
	"strings"
	"time"

	"termpost/internal/model"
)

// storage key prefixes
const (
	ChannelPrefix = "draft_"
	CommentPrefix = "comment_draft_"
)

// Conversation identifies a channel, or a thread when RootID is set.
type Conversation struct {
	ChannelID string
	RootID    string
}

// Key returns the store key for the conversation.
func (c Conversation) Key() string {
	return Key(c.ChannelID, c.RootID)
}

// IsThread reports whether the conversation is a threaded reply.
func (c Conversation) IsThread() bool {
	return c.RootID != ""
}

// Key builds the store key for a channel draft or a thread reply draft.
func Key(channelID, rootID string) string {
	if rootID != "" {
		return CommentPrefix + rootID
	}
	return ChannelPrefix + channelID
}

// Metadata holds post-level extras that travel with the draft.
type Metadata struct {
	Priority *model.PostPriority `json:"priority,omitempty"`
}

// Draft is the unsent state of one conversation.
type Draft struct {
	Message           string           `json:"message"`
	FileInfos         []model.FileInfo `json:"fileInfos"`
	UploadsInProgress []string         `json:"uploadsInProgress"`
	ChannelID         string           `json:"channelId"`
	RootID            string           `json:"rootId,omitempty"`
	Props             map[string]any   `json:"props,omitempty"`
	Metadata          Metadata         `json:"metadata"`
	Show              bool             `json:"show"`
	CreateAt          int64            `json:"createAt"`
	UpdateAt          int64            `json:"updateAt"`
}

// New returns an empty draft for the conversation.
func New(conv Conversation) *Draft {
	now := time.Now().UnixMilli()
	return &Draft{
		FileInfos:         []model.FileInfo{},
		UploadsInProgress: []string{},
		ChannelID:         conv.ChannelID,
		RootID:            conv.RootID,
		CreateAt:          now,
		UpdateAt:          now,
	}
}

// Conversation returns the conversation the draft belongs to.
func (d *Draft) Conversation() Conversation {
	return Conversation{ChannelID: d.ChannelID, RootID: d.RootID}
}

// IsEmpty reports whether the draft holds nothing worth keeping.
func (d *Draft) IsEmpty() bool {
	if d == nil {
		return true
	}
	return d.Message == "" && len(d.FileInfos) == 0 && len(d.UploadsInProgress) == 0
}

// CanSend reports whether the send action should be enabled.
func (d *Draft) CanSend() bool {
	if d == nil {
		return false
	}
	return strings.TrimSpace(d.Message) != "" || len(d.FileInfos) > 0
}

// HasPriority reports whether a priority label or ack request is set.
func (d *Draft) HasPriority() bool {
	if d == nil || d.Metadata.Priority == nil {
		return false
	}
	return d.Metadata.Priority.Priority != "" || d.Metadata.Priority.RequestedAck
}

// FileIDs returns the ids of the completed attachments in order.
func (d *Draft) FileIDs() []string {
	if d == nil {
		return nil
	}
	ids := make([]string, 0, len(d.FileInfos))
	for _, info := range d.FileInfos {
		ids = append(ids, info.ID)
	}
	return ids
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (d *Draft) Clone() *Draft {
	if d == nil {
		return nil
	}
	out := *d
	out.FileInfos = append([]model.FileInfo{}, d.FileInfos...)
	out.UploadsInProgress = append([]string{}, d.UploadsInProgress...)
	if d.Props != nil {
		out.Props = make(map[string]any, len(d.Props))
		for k, v := range d.Props {
			out.Props[k] = v
		}
	}
	if d.Metadata.Priority != nil {
		priority := *d.Metadata.Priority
		out.Metadata.Priority = &priority
	}
	return &out
}

// RemoveUpload drops the first matching in-progress id. It reports whether
// anything was removed.
func (d *Draft) RemoveUpload(clientID string) bool {
	for i, id := range d.UploadsInProgress {
		if id == clientID {
			d.UploadsInProgress = append(d.UploadsInProgress[:i:i], d.UploadsInProgress[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveFile drops the completed attachment with the given id.
func (d *Draft) RemoveFile(fileID string) bool {
	for i, info := range d.FileInfos {
		if info.ID == fileID {
			d.FileInfos = append(d.FileInfos[:i:i], d.FileInfos[i+1:]...)
			return true
		}
	}
	return false
}

// HasFile reports whether a completed attachment has the given id.
func (d *Draft) HasFile(fileID string) bool {
	return slices.ContainsFunc(d.FileInfos, func(info model.FileInfo) bool { return info.ID == fileID })
}

// Store is the key-value persistence layer drafts are written to.
// SetDraft with a nil draft removes the key.
type Store interface {
	GetDraft(ctx context.Context, key string) (*Draft, error)
	SetDraft(ctx context.Context, key string, d *Draft) error
	// RemoveAllWithPrefix visits every draft whose key starts with prefix.
	// A nil result from transform deletes the entry, anything else replaces it.
	RemoveAllWithPrefix(ctx context.Context, prefix string, transform func(*Draft) *Draft) error
}

// ClearUploads is the startup sweep transform: uploads never survive a restart.
// Drafts without uploads are returned untouched.
func ClearUploads(d *Draft) *Draft {
	if d == nil || len(d.UploadsInProgress) == 0 {
		return d
	}
	out := d.Clone()
	out.UploadsInProgress = []string{}
	return out
}
