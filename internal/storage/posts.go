package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"termpost/internal/model"
)

// CreatePost stores a post. A repeated pending post id returns the existing
// post together with ErrDuplicatePost so retries stay idempotent.
func (s *Store) CreatePost(ctx context.Context, post model.Post) (*model.Post, error) {
	if post.PendingPostID != "" {
		existing, err := s.GetPostByPendingID(ctx, post.PendingPostID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if existing != nil {
			return existing, ErrDuplicatePost
		}
	}
	fileIDs, err := json.Marshal(nonNilStrings(post.FileIDs))
	if err != nil {
		return nil, err
	}
	props, err := json.Marshal(post.Props)
	if err != nil {
		return nil, fmt.Errorf("encode props: %w", err)
	}
	metadata, err := json.Marshal(post.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	var pending any
	if post.PendingPostID != "" {
		pending = post.PendingPostID
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO posts(id, pending_post_id, channel_id, root_id, user_id, message, type, file_ids, props, metadata, create_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, post.ID, pending, post.ChannelID, post.RootID, post.UserID, post.Message, post.Type,
		string(fileIDs), string(props), string(metadata), post.CreateAt)
	if err != nil {
		if isConstraintError(err) {
			return nil, ErrDuplicatePost
		}
		return nil, err
	}
	return &post, nil
}

const postColumns = `id, COALESCE(pending_post_id, ''), channel_id, root_id, user_id, message, type, file_ids, props, metadata, create_at`

// GetPost fetches a post by id.
func (s *Store) GetPost(ctx context.Context, id string) (*model.Post, error) {
	return s.scanPost(s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id))
}

// GetPostByPendingID fetches a post by the client's pending post id.
func (s *Store) GetPostByPendingID(ctx context.Context, pendingID string) (*model.Post, error) {
	return s.scanPost(s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE pending_post_id = ?`, pendingID))
}

// ListPosts returns up to limit of the newest posts in a channel, oldest first.
// A non-empty rootID restricts the result to that thread.
func (s *Store) ListPosts(ctx context.Context, channelID, rootID string, limit int) ([]model.Post, error) {
	if limit <= 0 {
		limit = 60
	}
	query := `SELECT ` + postColumns + ` FROM posts WHERE channel_id = ?`
	args := []any{channelID}
	if rootID != "" {
		query += ` AND (id = ? OR root_id = ?)`
		args = append(args, rootID, rootID)
	}
	query += ` ORDER BY create_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var posts []model.Post
	for rows.Next() {
		post, err := s.scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *post)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(posts)-1; i < j; i, j = i+1, j-1 {
		posts[i], posts[j] = posts[j], posts[i]
	}
	return posts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanPost(row rowScanner) (*model.Post, error) {
	var post model.Post
	var fileIDs, props, metadata string
	err := row.Scan(&post.ID, &post.PendingPostID, &post.ChannelID, &post.RootID, &post.UserID,
		&post.Message, &post.Type, &fileIDs, &props, &metadata, &post.CreateAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(fileIDs), &post.FileIDs); err != nil {
		return nil, fmt.Errorf("decode file ids: %w", err)
	}
	if props != "" && props != "null" {
		if err := json.Unmarshal([]byte(props), &post.Props); err != nil {
			return nil, fmt.Errorf("decode props: %w", err)
		}
	}
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &post.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &post, nil
}

// AddReaction records a reaction. Adding the same reaction twice is a no-op.
func (s *Store) AddReaction(ctx context.Context, reaction model.Reaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO reactions(post_id, user_id, emoji_name, create_at) VALUES(?, ?, ?, ?)
	`, reaction.PostID, reaction.UserID, reaction.EmojiName, reaction.CreateAt)
	if err != nil && isConstraintError(err) {
		// foreign key failure: the post does not exist
		return ErrNotFound
	}
	return err
}

// RemoveReaction deletes a reaction. ErrNotFound is returned when it was absent.
func (s *Store) RemoveReaction(ctx context.Context, reaction model.Reaction) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM reactions WHERE post_id = ? AND user_id = ? AND emoji_name = ?
	`, reaction.PostID, reaction.UserID, reaction.EmojiName)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListReactions returns the reactions on a post, oldest first.
func (s *Store) ListReactions(ctx context.Context, postID string) ([]model.Reaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT post_id, user_id, emoji_name, create_at FROM reactions WHERE post_id = ? ORDER BY create_at ASC
	`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var reactions []model.Reaction
	for rows.Next() {
		var r model.Reaction
		if err := rows.Scan(&r.PostID, &r.UserID, &r.EmojiName, &r.CreateAt); err != nil {
			return nil, err
		}
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
