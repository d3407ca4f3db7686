// Package chatclient is the interactive terminal client for /api/chat.
package chatclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mohammad-safakhou/omegarag/models"
)

// GenericErrorMessage is shown in place of an answer when a turn fails.
const GenericErrorMessage = "Wystąpił błąd podczas przetwarzania zapytania."

var (
	ErrEmptyInput = errors.New("empty message")
	ErrPending    = errors.New("a request is already in flight")
	errUsage      = errors.New("usage")
)

// Session holds one conversation and the search controls applied to each turn.
type Session struct {
	Messages []models.ChatMessage
	Sources  []models.Source
	Params   models.SearchParams

	pending bool
	now     func() time.Time
}

// DefaultParams are the controls a fresh session starts with.
func DefaultParams() models.SearchParams {
	alpha := 0.65
	return models.SearchParams{
		SearchType: models.SearchHybrid,
		QueryMode:  models.QueryModeAll,
		TopK:       12,
		Alpha:      &alpha,
	}
}

func NewSession() *Session {
	return &Session{Params: DefaultParams(), now: time.Now}
}

func (s *Session) Pending() bool { return s.pending }

// Reset starts a new conversation and keeps the search controls.
func (s *Session) Reset() {
	s.Messages = nil
	s.Sources = nil
}

// request builds the body for text. Alpha is only sent for hybrid searches.
func (s *Session) request(text string) ChatRequest {
	params := s.Params
	if params.SearchType != models.SearchHybrid {
		params.Alpha = nil
	}
	history := make([]models.ChatMessage, len(s.Messages))
	copy(history, s.Messages)
	return ChatRequest{Message: text, ConversationHistory: history, SearchParams: params}
}

// Send runs one turn. The user message is recorded before the call; on failure the generic
// error message is recorded as the assistant reply and the error is returned.
func (s *Session) Send(ctx context.Context, api API, text string) (models.ChatResponse, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ChatResponse{}, ErrEmptyInput
	}
	if s.pending {
		return models.ChatResponse{}, ErrPending
	}
	s.pending = true
	defer func() { s.pending = false }()

	req := s.request(text)
	s.Messages = append(s.Messages, models.ChatMessage{
		Role:            models.RoleUser,
		Content:         text,
		OriginalMessage: text,
		Timestamp:       s.now().UnixMilli(),
	})

	resp, err := api.Chat(ctx, req)
	if err != nil {
		s.Messages = append(s.Messages, models.ChatMessage{
			Role:      models.RoleAssistant,
			Content:   GenericErrorMessage,
			Timestamp: s.now().UnixMilli(),
		})
		return models.ChatResponse{}, err
	}

	s.Sources = resp.Sources
	s.Messages = append(s.Messages, models.ChatMessage{
		Role:      models.RoleAssistant,
		Content:   resp.Answer,
		Timestamp: s.now().UnixMilli(),
	})
	return resp, nil
}

// Command is the parsed effect of a slash command.
type Command int

const (
	CmdNone Command = iota
	CmdQuit
	CmdNew
	CmdSources
	CmdHelp
	CmdSettings
)

// Apply executes a slash command against the session.
func (s *Session) Apply(line string) (Command, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return CmdNone, fmt.Errorf("not a command: %q", line)
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "/quit", "/exit", "/q":
		return CmdQuit, nil
	case "/new":
		s.Reset()
		return CmdNew, nil
	case "/sources":
		return CmdSources, nil
	case "/help", "/?":
		return CmdHelp, nil
	case "/settings":
		return CmdSettings, nil
	case "/type":
		if len(args) != 1 {
			return CmdNone, fmt.Errorf("%w: /type semantic|statistical|hybrid", errUsage)
		}
		t, err := models.ParseSearchType(args[0])
		if err != nil {
			return CmdNone, err
		}
		s.Params.SearchType = t
		if t == models.SearchHybrid && s.Params.Alpha == nil {
			s.Params.Alpha = DefaultParams().Alpha
		}
		return CmdSettings, nil
	case "/mode":
		if len(args) != 1 {
			return CmdNone, fmt.Errorf("%w: /mode last|all", errUsage)
		}
		m, err := models.ParseQueryMode(args[0])
		if err != nil {
			return CmdNone, err
		}
		s.Params.QueryMode = m
		return CmdSettings, nil
	case "/topk":
		if len(args) != 1 {
			return CmdNone, fmt.Errorf("%w: /topk 1..20", errUsage)
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 || n > 20 {
			return CmdNone, fmt.Errorf("top_k must be an integer within 1..20")
		}
		s.Params.TopK = n
		return CmdSettings, nil
	case "/alpha":
		if len(args) != 1 {
			return CmdNone, fmt.Errorf("%w: /alpha 0..1", errUsage)
		}
		a, err := strconv.ParseFloat(args[0], 64)
		if err != nil || a < 0 || a > 1 {
			return CmdNone, fmt.Errorf("alpha must be a number within 0..1")
		}
		s.Params.Alpha = &a
		return CmdSettings, nil
	default:
		return CmdNone, fmt.Errorf("unknown command %s (try /help)", name)
	}
}
