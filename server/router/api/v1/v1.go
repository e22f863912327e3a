package v1

import (
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/supportdesk/ai/metrics"
	"github.com/hrygo/supportdesk/ai/pipeline"
	"github.com/hrygo/supportdesk/internal/profile"
	"github.com/hrygo/supportdesk/plugin/chat_apps/channels"
	chatmetrics "github.com/hrygo/supportdesk/plugin/chat_apps/metrics"
)

// APIV1Service serves the web chat API and the chat platform webhooks.
type APIV1Service struct {
	Profile       *profile.Profile
	Pipeline      *pipeline.Pipeline
	Metrics       *metrics.PrometheusExporter
	WebhookHealth *chatmetrics.Registry

	chatChannelRouter *channels.ChannelRouter

	// dispatch runs webhook work off the request goroutine.
	dispatch func(func())
	inflight sync.WaitGroup
}

func NewAPIV1Service(profile *profile.Profile, p *pipeline.Pipeline, router *channels.ChannelRouter, exporter *metrics.PrometheusExporter, health *chatmetrics.Registry) *APIV1Service {
	if router == nil {
		router = channels.NewChannelRouter()
	}
	if health == nil {
		health = chatmetrics.NewRegistry()
	}
	return &APIV1Service{
		Profile:           profile,
		Pipeline:          p,
		Metrics:           exporter,
		WebhookHealth:     health,
		chatChannelRouter: router,
		dispatch:          func(fn func()) { go fn() },
	}
}

// SetDispatcher replaces how webhook messages are scheduled. Tests pass a synchronous one.
func (s *APIV1Service) SetDispatcher(fn func(func())) {
	s.dispatch = fn
}

// RegisterRoutes registers every API route on the given Echo instance.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo) {
	echoServer.POST("/ask", s.Ask)
	echoServer.GET("/history", s.History)
	echoServer.POST("/callback", s.HandleWebhook)
	echoServer.POST("/callback/:platform", s.HandleWebhook)
	echoServer.GET("/healthz", s.Healthz)

	apiGroup := echoServer.Group("/api/v1")
	apiGroup.GET("/examples", s.Examples)
	apiGroup.GET("/webhooks/health", s.WebhookHealthz)
}

// Wait blocks until every dispatched webhook message has been answered.
func (s *APIV1Service) Wait() {
	s.inflight.Wait()
}

// ChannelRouter returns the registered webhook channels.
func (s *APIV1Service) ChannelRouter() *channels.ChannelRouter {
	return s.chatChannelRouter
}

func (s *APIV1Service) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.Profile.Version,
	})
}

func (s *APIV1Service) WebhookHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, s.WebhookHealth.All())
}
