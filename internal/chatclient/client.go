package chatclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/omegarag/internal/httpclient"
	"github.com/mohammad-safakhou/omegarag/models"
)

// ChatRequest is the /api/chat body.
type ChatRequest struct {
	Message             string               `json:"message"`
	ConversationHistory []models.ChatMessage `json:"conversationHistory"`
	SearchParams        models.SearchParams  `json:"searchParams"`
}

// API sends chat turns to the backend.
type API interface {
	Chat(ctx context.Context, req ChatRequest) (models.ChatResponse, error)
}

// HTTPAPI talks to a running omegarag server.
type HTTPAPI struct {
	baseURL string
	http    *httpclient.Client
}

func NewHTTPAPI(baseURL string, timeout time.Duration) *HTTPAPI {
	return &HTTPAPI{baseURL: strings.TrimRight(baseURL, "/"), http: httpclient.New(timeout)}
}

// WithHTTPClient swaps the transport, mainly for tests.
func (a *HTTPAPI) WithHTTPClient(hc *http.Client) *HTTPAPI {
	a.http = httpclient.Wrap(hc)
	return a
}

type chatReply struct {
	models.ChatResponse
	Error string `json:"error"`
}

func (a *HTTPAPI) Chat(ctx context.Context, req ChatRequest) (models.ChatResponse, error) {
	var reply chatReply
	err := a.http.DoJSON(ctx, http.MethodPost, a.baseURL+"/api/chat", nil, req, &reply)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			return models.ChatResponse{}, fmt.Errorf("HTTP error! status: %d", se.Code)
		}
		return models.ChatResponse{}, err
	}
	if reply.Error != "" {
		return models.ChatResponse{}, errors.New(reply.Error)
	}
	if reply.Sources == nil {
		reply.Sources = []models.Source{}
	}
	return reply.ChatResponse, nil
}
