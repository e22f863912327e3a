package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/supportdesk/ai/answer"
	"github.com/hrygo/supportdesk/ai/core/llm"
	"github.com/hrygo/supportdesk/ai/knowledge"
	"github.com/hrygo/supportdesk/ai/metrics"
	"github.com/hrygo/supportdesk/ai/pipeline"
	"github.com/hrygo/supportdesk/internal/profile"
	"github.com/hrygo/supportdesk/plugin/chat_apps/channels"
	"github.com/hrygo/supportdesk/plugin/webhook"
	apiv1 "github.com/hrygo/supportdesk/server/router/api/v1"
	"github.com/hrygo/supportdesk/server/router/frontend"
	"github.com/hrygo/supportdesk/store"
)

const (
	bodyLimit       = "1M"
	shutdownTimeout = 10 * time.Second
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer    *echo.Echo
	apiV1Service  *apiv1.APIV1Service
	channelRouter *channels.ChannelRouter
	notifier      *webhook.Notifier
	exporter      *metrics.PrometheusExporter
}

// Option customizes NewServer.
type Option func(*options)

type options struct {
	channelRouter *channels.ChannelRouter
}

// WithChannelRouter replaces the channels built from the profile.
func WithChannelRouter(router *channels.ChannelRouter) Option {
	return func(o *options) { o.channelRouter = router }
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store, kb *knowledge.Base, llmService llm.Service, opts ...Option) (*Server, error) {
	if kb == nil || llmService == nil {
		return nil, errors.New("knowledge base and LLM service are required")
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	s := &Server{
		Profile:  profile,
		Store:    store,
		exporter: metrics.NewPrometheusExporter(metrics.DefaultConfig()),
		notifier: webhook.NewNotifier(profile.EscalationWebhookURL),
	}

	engine := answer.NewEngine(llmService, time.Duration(profile.LLMTimeout)*time.Second, kb.Messages(), s.exporter)
	var notifier pipeline.Notifier
	if s.notifier != nil {
		notifier = s.notifier
	}
	p := pipeline.New(store, kb, engine, pipeline.Config{
		HistoryWindow:     profile.HistoryWindow,
		MaxQuestionLength: profile.MaxQuestionLength,
		HandoffPhrase:     profile.HandoffPhrase,
	}, notifier, s.exporter)

	s.channelRouter = o.channelRouter
	if s.channelRouter == nil {
		s.channelRouter = apiv1.NewChannelRouter(profile)
	}

	echoServer := echo.New()
	echoServer.Debug = profile.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.RequestID())
	echoServer.Use(middleware.CORS())
	echoServer.Use(middleware.BodyLimit(bodyLimit))
	echoServer.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelDebug
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			slog.Log(context.Background(), level, "http request",
				"method", v.Method,
				"path", v.URIPath,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
				"error", v.Error,
			)
			return nil
		},
	}))
	s.echoServer = echoServer

	frontend.NewFrontendService(profile).Serve(ctx, echoServer)

	s.apiV1Service = apiv1.NewAPIV1Service(profile, p, s.channelRouter, s.exporter, nil)
	s.apiV1Service.RegisterRoutes(echoServer)
	echoServer.GET("/metrics", echo.WrapHandler(s.exporter.Handler()))

	return s, nil
}

// Start listens on the profile address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}
	s.echoServer.Listener = listener

	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start echo server", "error", err)
		}
	}()
	slog.Info("server listening", "address", listener.Addr().String())
	return nil
}

// Handler exposes the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// API returns the v1 service.
func (s *Server) API() *apiv1.APIV1Service {
	return s.apiV1Service
}

// Shutdown stops accepting requests, then waits for webhook replies and escalation
// notifications still in flight before closing the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	slog.Info("server shutting down")

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return waitContext(gctx, s.apiV1Service.Wait) })
	g.Go(func() error { return waitContext(gctx, s.notifier.Wait) })
	if err := g.Wait(); err != nil {
		slog.Warn("in-flight work did not finish before shutdown deadline", "error", err)
	}

	if err := s.channelRouter.Close(); err != nil {
		slog.Error("failed to close chat channels", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}

	slog.Info("server stopped properly")
}

func waitContext(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
