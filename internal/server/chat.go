package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/omegarag/internal/rag"
	"github.com/mohammad-safakhou/omegarag/models"
	"go.uber.org/zap"
)

// Answerer runs one retrieval-augmented chat turn.
type Answerer interface {
	Answer(ctx context.Context, req rag.ChatRequest) (models.ChatResponse, error)
}

type ChatHandler struct {
	RAG    Answerer
	Logger *zap.Logger
}

func (h *ChatHandler) Register(g *echo.Group, mw ...echo.MiddlewareFunc) {
	g.POST("/chat", h.chat, mw...)
}

type chatRequestBody struct {
	Message             string               `json:"message"`
	ConversationHistory []models.ChatMessage `json:"conversationHistory"`
	SearchParams        models.SearchParams  `json:"searchParams"`
}

func (h *ChatHandler) chat(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidBody).SetInternal(err)
	}
	if err := ValidateChatBody(raw); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidBody).SetInternal(err)
	}
	var body chatRequestBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidBody).SetInternal(err)
	}

	resp, err := h.RAG.Answer(c.Request().Context(), rag.ChatRequest{
		Message: body.Message,
		History: body.ConversationHistory,
		Params:  body.SearchParams,
	})
	if err != nil {
		return chatError(err)
	}
	if resp.Sources == nil {
		resp.Sources = []models.Source{}
	}
	return c.JSON(http.StatusOK, resp)
}
