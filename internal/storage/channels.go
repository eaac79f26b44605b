package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"termpost/internal/model"
)

// CreateChannel inserts a new channel. ErrChannelExists is returned on conflicts.
func (s *Store) CreateChannel(ctx context.Context, ch model.Channel) (*model.Channel, error) {
	if ch.Type == "" {
		ch.Type = model.ChannelOpen
	}
	if ch.CreateAt == 0 {
		ch.CreateAt = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channels(id, team_id, type, display_name, header, purpose, create_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, ch.ID, ch.TeamID, ch.Type, ch.DisplayName, ch.Header, ch.Purpose, ch.CreateAt)
	if err != nil {
		if isConstraintError(err) {
			return nil, ErrChannelExists
		}
		return nil, err
	}
	return &ch, nil
}

// GetChannel fetches a channel by id. ErrNotFound is returned when missing.
func (s *Store) GetChannel(ctx context.Context, id string) (*model.Channel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, team_id, type, display_name, header, purpose, create_at
		FROM channels WHERE id = ?
	`, id)
	var ch model.Channel
	if err := row.Scan(&ch.ID, &ch.TeamID, &ch.Type, &ch.DisplayName, &ch.Header, &ch.Purpose, &ch.CreateAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ch, nil
}

// ChannelPatch carries optional channel field updates.
type ChannelPatch struct {
	DisplayName *string `json:"display_name,omitempty"`
	Header      *string `json:"header,omitempty"`
	Purpose     *string `json:"purpose,omitempty"`
}

// PatchChannel applies the non-nil fields of patch and returns the result.
func (s *Store) PatchChannel(ctx context.Context, id string, patch ChannelPatch) (*model.Channel, error) {
	ch, err := s.GetChannel(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.DisplayName != nil {
		ch.DisplayName = *patch.DisplayName
	}
	if patch.Header != nil {
		ch.Header = *patch.Header
	}
	if patch.Purpose != nil {
		ch.Purpose = *patch.Purpose
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE channels SET display_name = ?, header = ?, purpose = ? WHERE id = ?
	`, ch.DisplayName, ch.Header, ch.Purpose, id)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// AddChannelMember records that the user joined. Rejoining refreshes the timezone.
func (s *Store) AddChannelMember(ctx context.Context, channelID, userID, timezone string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_members(channel_id, user_id, timezone, joined_at) VALUES(?, ?, ?, ?)
		ON CONFLICT(channel_id, user_id) DO UPDATE SET timezone = excluded.timezone
	`, channelID, userID, timezone, time.Now().UnixMilli())
	return err
}

// RemoveChannelMember deletes the membership row.
func (s *Store) RemoveChannelMember(ctx context.Context, channelID, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM channel_members WHERE channel_id = ? AND user_id = ?`, channelID, userID)
	return err
}

// ChannelStats counts members, their distinct timezones, and per-group
// membership for groups that allow being mentioned.
func (s *Store) ChannelStats(ctx context.Context, channelID string) (*model.ChannelStats, error) {
	stats := &model.ChannelStats{
		ChannelID:             channelID,
		MemberCountsByGroup:   map[string]int{},
		TimezoneCountsByGroup: map[string]int{},
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1), COUNT(DISTINCT NULLIF(timezone, ''))
		FROM channel_members WHERE channel_id = ?
	`, channelID)
	if err := row.Scan(&stats.MemberCount, &stats.TimezoneCount); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT g.name, COUNT(cm.user_id), COUNT(DISTINCT NULLIF(cm.timezone, ''))
		FROM groups g
		JOIN group_members gm ON gm.group_id = g.id
		JOIN channel_members cm ON cm.user_id = gm.user_id AND cm.channel_id = ?
		WHERE g.allow_reference = 1
		GROUP BY g.name
	`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var count, timezones int
		if err := rows.Scan(&name, &count, &timezones); err != nil {
			return nil, err
		}
		stats.MemberCountsByGroup[name] = count
		stats.TimezoneCountsByGroup[name] = timezones
	}
	return stats, rows.Err()
}

// Group is a named set of users that can be mentioned together.
type Group struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	AllowReference bool   `json:"allow_reference"`
}

// UpsertGroup creates or renames a group and replaces its members.
func (s *Store) UpsertGroup(ctx context.Context, group Group, members []string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO groups(id, name, allow_reference) VALUES(?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, allow_reference = excluded.allow_reference
	`, group.ID, group.Name, group.AllowReference); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ?`, group.ID); err != nil {
		return err
	}
	for _, userID := range members {
		if _, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO group_members(group_id, user_id) VALUES(?, ?)`, group.ID, userID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListGroups returns all mentionable groups ordered by name.
func (s *Store) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, allow_reference FROM groups WHERE allow_reference = 1 ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.AllowReference); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}
