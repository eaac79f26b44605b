package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"termpost/internal/model"
	"termpost/internal/storage"
)

var (
	httpTimeout = 5 * time.Second

	// ErrUploadCanceled is returned by Upload when CancelUpload stopped it.
	ErrUploadCanceled = errors.New("upload canceled")
)

// APIClient talks to the termpost server. It implements the composer's
// sender, command, reaction, stats, post lookup, group and upload
// collaborators.
type APIClient struct {
	baseURL string
	userID  string
	http    *http.Client
	// uploads carry no timeout; they are bounded by CancelUpload instead.
	uploadHTTP *http.Client
	logger     *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewAPIClient(baseURL, userID string, logger *zap.Logger) *APIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     userID,
		http:       &http.Client{Timeout: httpTimeout},
		uploadHTTP: &http.Client{},
		logger:     logger,
		cancels:    make(map[string]context.CancelFunc),
	}
}

func (c *APIClient) CreatePost(ctx context.Context, post *model.Post, files []model.FileInfo) (*model.Post, error) {
	body := *post
	if len(body.FileIDs) == 0 {
		for _, f := range files {
			body.FileIDs = append(body.FileIDs, f.ID)
		}
	}
	var created model.Post
	if err := c.doJSONRequest(ctx, http.MethodPost, "/api/posts", &body, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *APIClient) ExecuteCommand(ctx context.Context, command string, args model.CommandArgs) (*model.CommandResponse, error) {
	var resp model.CommandResponse
	req := model.CommandRequest{Command: command, CommandArgs: args}
	if err := c.doJSONRequest(ctx, http.MethodPost, "/api/commands/execute", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) AddReaction(ctx context.Context, postID, emojiName string) error {
	reaction := model.Reaction{PostID: postID, UserID: c.userID, EmojiName: emojiName}
	return c.doJSONRequest(ctx, http.MethodPost, "/api/reactions", reaction, nil)
}

func (c *APIClient) RemoveReaction(ctx context.Context, postID, emojiName string) error {
	reaction := model.Reaction{PostID: postID, UserID: c.userID, EmojiName: emojiName}
	return c.doJSONRequest(ctx, http.MethodDelete, "/api/reactions", reaction, nil)
}

func (c *APIClient) ChannelStats(ctx context.Context, channelID string) (*model.ChannelStats, error) {
	var stats model.ChannelStats
	if err := c.doJSONRequest(ctx, http.MethodGet, "/api/channels/"+url.PathEscape(channelID)+"/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *APIClient) MentionableGroups(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.doJSONRequest(ctx, http.MethodGet, "/api/groups", nil, &names); err != nil {
		return nil, err
	}
	return names, nil
}

func (c *APIClient) GetChannel(ctx context.Context, channelID string) (*model.Channel, error) {
	var ch model.Channel
	if err := c.doJSONRequest(ctx, http.MethodGet, "/api/channels/"+url.PathEscape(channelID), nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (c *APIClient) PatchChannel(ctx context.Context, channelID string, patch storage.ChannelPatch) (*model.Channel, error) {
	var ch model.Channel
	if err := c.doJSONRequest(ctx, http.MethodPatch, "/api/channels/"+url.PathEscape(channelID), patch, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// ListPosts returns the newest posts of a channel or thread, oldest first.
func (c *APIClient) ListPosts(ctx context.Context, channelID, rootID string, limit int) ([]model.Post, error) {
	query := url.Values{}
	if rootID != "" {
		query.Set("root", rootID)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/channels/" + url.PathEscape(channelID) + "/posts"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var posts []model.Post
	if err := c.doJSONRequest(ctx, http.MethodGet, path, nil, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// LatestReplyablePostID is the newest non-system post in the channel or
// thread, or "" when there is none.
func (c *APIClient) LatestReplyablePostID(ctx context.Context, channelID, rootID string) (string, error) {
	posts, err := c.ListPosts(ctx, channelID, rootID, 30)
	if err != nil {
		return "", err
	}
	for i := len(posts) - 1; i >= 0; i-- {
		if !posts[i].IsSystem() {
			return posts[i].ID, nil
		}
	}
	return "", nil
}

// ChannelExists asks /exists whether the channel is there.
func (c *APIClient) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/exists?channel="+url.QueryEscape(channelID), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// NewUploadID returns a client id for a new upload.
func NewUploadID() string {
	return uuid.NewString()
}

// Upload sends the file at path as clientID, reporting percent progress.
// CancelUpload(clientID) aborts it with ErrUploadCanceled.
func (c *APIClient) Upload(ctx context.Context, channelID, clientID, path string, progress func(percent int)) (*UploadResponse, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancels[clientID] = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.cancels, clientID)
		c.mu.Unlock()
		cancel()
	}()

	pipeReader, pipeWriter := io.Pipe()
	defer pipeReader.Close()
	writer := multipart.NewWriter(pipeWriter)
	go func() {
		err := writeUploadForm(writer, map[string]string{
			"channel_id": channelID,
			"user_id":    c.userID,
			"client_id":  clientID,
		}, filepath.Base(path), &progressReader{r: file, total: stat.Size(), report: progress})
		pipeWriter.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", pipeReader)
	if err != nil {
		pipeReader.CloseWithError(err)
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := c.uploadHTTP.Do(req)
	if err != nil {
		pipeReader.CloseWithError(err)
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ErrUploadCanceled
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readResponseError(resp)
	}
	var out UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	c.logger.Debug("upload finished", zap.String("client_id", clientID), zap.Int64("size", stat.Size()))
	return &out, nil
}

func writeUploadForm(writer *multipart.Writer, fields map[string]string, filename string, content io.Reader) error {
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return err
	}
	return writer.Close()
}

// CancelUpload aborts an in-flight upload. Unknown ids are ignored.
func (c *APIClient) CancelUpload(clientID string) {
	c.mu.Lock()
	cancel, ok := c.cancels[clientID]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// progressReader reports whole-percent progress as the file is read.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	report func(percent int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.report != nil && p.total > 0 {
		percent := int(p.read * 100 / p.total)
		if percent != p.last {
			p.last = percent
			p.report(percent)
		}
	}
	return n, err
}

func (c *APIClient) doJSONRequest(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readResponseError(resp)
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// readResponseError turns a non-2xx response into an *model.AppError.
func readResponseError(resp *http.Response) error {
	appErr := &model.AppError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err == nil && len(data) > 0 {
		if jsonErr := json.Unmarshal(data, appErr); jsonErr != nil || appErr.Message == "" {
			appErr.Message = strings.TrimSpace(string(data))
		}
	}
	if appErr.Message == "" {
		appErr.Message = "request failed"
	}
	appErr.StatusCode = resp.StatusCode
	return appErr
}

func httpBaseFromJoinURL(wsURL string) (string, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %s", parsed.Scheme)
	}
	parsed.Path = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}

func buildJoinURL(base, channelID, userID, timezone string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	query := parsed.Query()
	query.Set("channel", channelID)
	query.Set("user", userID)
	if timezone != "" {
		query.Set("tz", timezone)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
