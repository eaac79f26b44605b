package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"termpost/internal/model"
	"termpost/internal/storage"
)

// UploadResponse pairs the stored file infos with the client ids the
// uploader chose, in the same order.
type UploadResponse struct {
	FileInfos []model.FileInfo `json:"file_infos"`
	ClientIDs []string         `json:"client_ids"`
}

// FileUploadHandler manages file upload/download operations
type FileUploadHandler struct {
	server      *Server
	uploadDir   string // base directory for uploads
	maxFileSize int64
}

func NewFileUploadHandler(server *Server, uploadDir string, maxFileSize int64) *FileUploadHandler {
	return &FileUploadHandler{
		server:      server,
		uploadDir:   uploadDir,
		maxFileSize: maxFileSize,
	}
}

// HandleUpload stores one multipart file for a channel. Form fields:
// channel_id, user_id, client_id (optional) and file.
func (h *FileUploadHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+1<<20)
	if err := r.ParseMultipartForm(h.maxFileSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("file too large"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	ctx := r.Context()
	channelID := r.FormValue("channel_id")
	if channelID == "" {
		writeError(w, http.StatusBadRequest, errors.New("channel_id required"))
		return
	}
	if _, err := h.server.store.GetChannel(ctx, channelID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("channel not found"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("no file provided"))
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." || filename == ".." || filename == string(filepath.Separator) {
		writeError(w, http.StatusBadRequest, errors.New("invalid filename"))
		return
	}
	if header.Size > h.maxFileSize {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("file too large"))
		return
	}

	uploader := r.FormValue("user_id")
	if uploader == "" {
		uploader = "anonymous"
	}
	clientID := r.FormValue("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	fileID := uuid.NewString()
	relPath := filepath.Join(sanitizePathComponent(channelID), fmt.Sprintf("%s-%s", fileID, sanitizePathComponent(filename)))
	storagePath := filepath.Join(h.uploadDir, relPath)

	if err := os.MkdirAll(filepath.Dir(storagePath), 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("create upload directory: %w", err))
		return
	}
	destFile, err := os.Create(storagePath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("create file: %w", err))
		return
	}
	defer destFile.Close()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(destFile, hasher), file)
	if err != nil {
		os.Remove(storagePath)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("save file: %w", err))
		return
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	info := model.FileInfo{
		ID:        fileID,
		Name:      filename,
		Extension: ext,
		Size:      written,
		MimeType:  mimeTypeFor(ext, header.Header.Get("Content-Type")),
		ChannelID: channelID,
		CreateAt:  h.server.now().UnixMilli(),
	}
	if strings.HasPrefix(info.MimeType, "image/") {
		info.Width, info.Height = imageSize(storagePath)
	}

	stored := storage.StoredFile{
		FileInfo:    info,
		StoragePath: relPath,
		SHA256:      hex.EncodeToString(hasher.Sum(nil)),
		UploadedBy:  uploader,
	}
	if err := h.server.store.CreateFile(ctx, stored); err != nil {
		os.Remove(storagePath)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.server.metrics.ObserveUpload(written)
	h.server.logger.Debug("file uploaded",
		zap.String("file_id", fileID),
		zap.String("channel_id", channelID),
		zap.Int64("size", written))
	h.server.hub.Publish(model.Event{
		Type:      model.EventFileUploaded,
		ChannelID: channelID,
		UserID:    uploader,
		Text:      filename,
		Ts:        info.CreateAt,
	})

	writeJSON(w, http.StatusCreated, UploadResponse{
		FileInfos: []model.FileInfo{info},
		ClientIDs: []string{clientID},
	})
}

// HandleDownload serves /api/files/{id}.
func (h *FileUploadHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	fileID := r.PathValue("id")
	if fileID == "" {
		http.Error(w, "file ID required", http.StatusBadRequest)
		return
	}

	stored, err := h.server.store.GetFile(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	filePath := filepath.Join(h.uploadDir, stored.StoragePath)
	absPath, err := filepath.Abs(filePath)
	base, baseErr := filepath.Abs(h.uploadDir)
	if err != nil || baseErr != nil || !strings.HasPrefix(absPath, base+string(filepath.Separator)) {
		http.Error(w, "invalid file path", http.StatusForbidden)
		return
	}

	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found on disk", http.StatusNotFound)
		} else {
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	defer file.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", stored.Name))
	w.Header().Set("Content-Type", stored.MimeType)
	w.Header().Set("X-Content-SHA256", stored.SHA256)
	http.ServeContent(w, r, stored.Name, time.UnixMilli(stored.CreateAt), file)
}

func mimeTypeFor(ext, declared string) string {
	if ext != "" {
		if byExt := mime.TypeByExtension("." + ext); byExt != "" {
			return byExt
		}
	}
	if declared != "" {
		return declared
	}
	return "application/octet-stream"
}

func imageSize(path string) (int, int) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

// sanitizePathComponent removes dangerous characters from path components
func sanitizePathComponent(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." {
		return "unnamed"
	}
	return s
}
