package storage

import (
	"context"
	"database/sql"
	"errors"

	"termpost/internal/model"
)

// StoredFile is an uploaded file plus where it lives on disk.
type StoredFile struct {
	model.FileInfo
	StoragePath string
	SHA256      string
	UploadedBy  string
}

// CreateFile records upload metadata.
func (s *Store) CreateFile(ctx context.Context, f StoredFile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files(id, channel_id, name, extension, size, mime_type, storage_path, sha256, uploaded_by, create_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.ChannelID, f.Name, f.Extension, f.Size, f.MimeType, f.StoragePath, f.SHA256, f.UploadedBy, f.CreateAt)
	return err
}

// GetFile fetches file metadata by id.
func (s *Store) GetFile(ctx context.Context, id string) (*StoredFile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, channel_id, name, extension, size, mime_type, storage_path, sha256, uploaded_by, create_at
		FROM files WHERE id = ?
	`, id)
	var f StoredFile
	err := row.Scan(&f.ID, &f.ChannelID, &f.Name, &f.Extension, &f.Size, &f.MimeType,
		&f.StoragePath, &f.SHA256, &f.UploadedBy, &f.CreateAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

// GetFileInfos returns the public metadata for the given ids, skipping unknown ones.
func (s *Store) GetFileInfos(ctx context.Context, ids []string) ([]model.FileInfo, error) {
	infos := make([]model.FileInfo, 0, len(ids))
	for _, id := range ids {
		f, err := s.GetFile(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		infos = append(infos, f.FileInfo)
	}
	return infos, nil
}
