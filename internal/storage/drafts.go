package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"termpost/internal/draft"
)

var _ draft.Store = (*Store)(nil)

// GetDraft returns the draft stored under key, or nil when there is none.
func (s *Store) GetDraft(ctx context.Context, key string) (*draft.Draft, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM drafts WHERE key = ?`, key)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var d draft.Draft
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return nil, fmt.Errorf("decode draft %s: %w", key, err)
	}
	return &d, nil
}

// SetDraft upserts the draft. A nil draft deletes the row.
func (s *Store) SetDraft(ctx context.Context, key string, d *draft.Draft) error {
	if d == nil {
		_, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE key = ?`, key)
		return err
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode draft %s: %w", key, err)
	}
	updateAt := d.UpdateAt
	if updateAt == 0 {
		updateAt = time.Now().UnixMilli()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drafts(key, channel_id, root_id, payload, update_at) VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			channel_id = excluded.channel_id,
			root_id = excluded.root_id,
			payload = excluded.payload,
			update_at = excluded.update_at
	`, key, d.ChannelID, d.RootID, string(payload), updateAt)
	return err
}

// RemoveAllWithPrefix rewrites or deletes every draft under prefix in one
// transaction.
func (s *Store) RemoveAllWithPrefix(ctx context.Context, prefix string, transform func(*draft.Draft) *draft.Draft) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `SELECT key, payload FROM drafts WHERE key LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%")
	if err != nil {
		return err
	}
	type entry struct {
		key   string
		draft *draft.Draft
	}
	var entries []entry
	for rows.Next() {
		var key, payload string
		if err = rows.Scan(&key, &payload); err != nil {
			rows.Close()
			return err
		}
		var d draft.Draft
		if err = json.Unmarshal([]byte(payload), &d); err != nil {
			rows.Close()
			return fmt.Errorf("decode draft %s: %w", key, err)
		}
		entries = append(entries, entry{key: key, draft: &d})
	}
	if err = rows.Close(); err != nil {
		return err
	}
	if err = rows.Err(); err != nil {
		return err
	}

	for _, e := range entries {
		var next *draft.Draft
		if transform != nil {
			next = transform(e.draft)
		}
		if next == nil {
			if _, err = tx.ExecContext(ctx, `DELETE FROM drafts WHERE key = ?`, e.key); err != nil {
				return err
			}
			continue
		}
		payload, mErr := json.Marshal(next)
		if mErr != nil {
			err = fmt.Errorf("encode draft %s: %w", e.key, mErr)
			return err
		}
		if _, err = tx.ExecContext(ctx, `UPDATE drafts SET payload = ? WHERE key = ?`, string(payload), e.key); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
