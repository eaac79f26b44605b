package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"termpost/internal/model"
)

const shrug = `¯\_(ツ)_/¯`

type commandFunc func(ctx context.Context, s *Server, args model.CommandArgs, text string) (*model.CommandResponse, error)

type commandSpec struct {
	hint string
	run  commandFunc
}

var builtinCommands = map[string]commandSpec{
	"echo":    {"<text>  post text as yourself", runEcho},
	"shrug":   {"[text]  post text followed by " + shrug, runShrug},
	"me":      {"<text>  post an action", runMe},
	"online":  {"  set your status to online", statusCommand(model.StatusOnline)},
	"away":    {"  set your status to away", statusCommand(model.StatusAway)},
	"dnd":     {"  set your status to do not disturb", statusCommand(model.StatusDND)},
	"offline": {"  set your status to offline", statusCommand(model.StatusOffline)},
	"ooo":     {"  set your status to out of office", statusCommand(model.StatusOutOfOffice)},
}

func init() {
	builtinCommands["help"] = commandSpec{"  list available commands", runHelp}
}

// statusBoard holds each user's last chosen status.
type statusBoard struct {
	mu       sync.Mutex
	statuses map[string]string
}

func newStatusBoard() *statusBoard {
	return &statusBoard{statuses: make(map[string]string)}
}

func (b *statusBoard) set(userID, status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses[userID] = status
}

func (b *statusBoard) get(userID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status, ok := b.statuses[userID]; ok {
		return status
	}
	return model.StatusOnline
}

func (s *Server) HandleExecuteCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req model.CommandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !s.allow(req.UserID, r) {
		writeError(w, http.StatusTooManyRequests, errors.New(http.StatusText(http.StatusTooManyRequests)))
		return
	}
	resp, err := s.executeCommand(r.Context(), req.Command, req.CommandArgs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) executeCommand(ctx context.Context, command string, args model.CommandArgs) (*model.CommandResponse, error) {
	command = strings.TrimSpace(command)
	if !strings.HasPrefix(command, "/") {
		return nil, &model.AppError{Message: "commands must start with /", StatusCode: http.StatusBadRequest}
	}
	trigger, text, _ := strings.Cut(command[1:], " ")
	trigger = strings.ToLower(trigger)
	text = strings.TrimSpace(text)

	spec, ok := builtinCommands[trigger]
	if !ok {
		s.metrics.ObserveCommand("unknown", "not_found")
		return nil, &model.AppError{
			Message:       fmt.Sprintf("Command with a trigger of '/%s' not found.", trigger),
			ServerErrorID: model.ErrorIDCommandNotFound,
			StatusCode:    http.StatusNotFound,
			// a pasted path like /usr/bin is a message, not a command
			SendMessage: strings.Contains(trigger, "/"),
		}
	}
	resp, err := spec.run(ctx, s, args, text)
	if err != nil {
		s.metrics.ObserveCommand(trigger, "error")
		s.logger.Debug("command failed", zap.String("trigger", trigger), zap.Error(err))
		return nil, err
	}
	s.metrics.ObserveCommand(trigger, "ok")
	return resp, nil
}

func (s *Server) postFromCommand(ctx context.Context, args model.CommandArgs, message, postType string) (*model.CommandResponse, error) {
	if args.ChannelID == "" || args.UserID == "" {
		return nil, &model.AppError{Message: "channel_id and user_id are required", StatusCode: http.StatusBadRequest}
	}
	post := model.Post{ChannelID: args.ChannelID, RootID: args.RootID, UserID: args.UserID, Message: message, Type: postType}
	if _, status, err := s.createPost(ctx, post); err != nil {
		return nil, &model.AppError{Message: err.Error(), StatusCode: status}
	}
	return &model.CommandResponse{ResponseType: "in_channel"}, nil
}

func runEcho(ctx context.Context, s *Server, args model.CommandArgs, text string) (*model.CommandResponse, error) {
	if text == "" {
		return nil, &model.AppError{Message: "A message must be provided with the /echo command.", StatusCode: http.StatusBadRequest}
	}
	return s.postFromCommand(ctx, args, text, "")
}

func runShrug(ctx context.Context, s *Server, args model.CommandArgs, text string) (*model.CommandResponse, error) {
	message := shrug
	if text != "" {
		message = text + " " + shrug
	}
	return s.postFromCommand(ctx, args, message, "")
}

func runMe(ctx context.Context, s *Server, args model.CommandArgs, text string) (*model.CommandResponse, error) {
	if text == "" {
		return nil, &model.AppError{Message: "A message must be provided with the /me command.", StatusCode: http.StatusBadRequest}
	}
	return s.postFromCommand(ctx, args, "*"+text+"*", "me")
}

func statusCommand(status string) commandFunc {
	return func(_ context.Context, s *Server, args model.CommandArgs, _ string) (*model.CommandResponse, error) {
		if s.statuses.get(args.UserID) == status {
			return &model.CommandResponse{ResponseType: "ephemeral", Text: fmt.Sprintf("You are already %s", status), Status: status}, nil
		}
		s.statuses.set(args.UserID, status)
		return &model.CommandResponse{
			ResponseType: "ephemeral",
			Text:         fmt.Sprintf("You are now %s", status),
			Status:       status,
		}, nil
	}
}

func runHelp(_ context.Context, _ *Server, _ model.CommandArgs, _ string) (*model.CommandResponse, error) {
	triggers := make([]string, 0, len(builtinCommands))
	for trigger := range builtinCommands {
		triggers = append(triggers, trigger)
	}
	sort.Strings(triggers)
	var b strings.Builder
	b.WriteString("Available commands:")
	for _, trigger := range triggers {
		fmt.Fprintf(&b, "\n/%s %s", trigger, builtinCommands[trigger].hint)
	}
	return &model.CommandResponse{ResponseType: "ephemeral", Text: b.String()}, nil
}
