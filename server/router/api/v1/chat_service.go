package v1

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/supportdesk/ai/pipeline"
	"github.com/hrygo/supportdesk/plugin/chat_apps"
)

// SessionCookieName carries the web chat conversation id.
const SessionCookieName = "supportdesk_session"

const sessionCookieMaxAge = 30 * 24 * time.Hour

type askRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

type askResponse struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
	Escalated      bool   `json:"escalated"`
}

type historyItem struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// Ask answers one web chat question. It always replies 200; failures carry the matching
// canned text.
func (s *APIV1Service) Ask(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		slog.Debug("ask: malformed body", "error", err)
		req = askRequest{}
	}

	conversationID := s.conversationID(c, req.ConversationID)
	result, err := s.Pipeline.Process(c.Request().Context(), &pipeline.Request{
		ConversationID: conversationID,
		Platform:       string(chat_apps.PlatformWeb),
		Text:           req.Message,
	})
	if err != nil {
		return c.JSON(http.StatusOK, askResponse{Answer: s.Pipeline.ReplyFor(err), ConversationID: conversationID})
	}
	return c.JSON(http.StatusOK, askResponse{
		Answer:         result.Text,
		ConversationID: conversationID,
		Escalated:      result.Escalated,
	})
}

// conversationID prefers the body, then the session cookie, then a new session.
func (s *APIV1Service) conversationID(c echo.Context, fromBody string) string {
	if id := strings.TrimSpace(fromBody); id != "" {
		return id
	}
	if cookie, err := c.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	id := shortuuid.New()
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(sessionCookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   !s.Profile.IsDev(),
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// History lists stored turns oldest first, for one conversation or for all of them.
func (s *APIV1Service) History(c echo.Context) error {
	turns, err := s.Pipeline.History(c.Request().Context(), c.QueryParam("conversation_id"))
	if err != nil {
		slog.Error("history: failed to list turns", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": s.Pipeline.Messages().StorageFailure})
	}
	items := make([]historyItem, 0, len(turns))
	for _, turn := range turns {
		items = append(items, historyItem{Sender: string(turn.Sender), Message: turn.Message})
	}
	return c.JSON(http.StatusOK, items)
}

// Examples returns sample questions for the web UI.
func (s *APIV1Service) Examples(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{"examples": s.Pipeline.Examples()})
}
