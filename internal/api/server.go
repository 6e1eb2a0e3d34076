package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/mg7d/adaptivefps/internal/policy"
	"github.com/mg7d/adaptivefps/internal/settings"
	"github.com/mg7d/adaptivefps/internal/state"
	"github.com/mg7d/adaptivefps/internal/status"
)

const maxCommandBytes = 1 << 10

// Engine is the read side of policy.Engine the API reports on.
type Engine interface {
	Settings() settings.Settings
	Decision() policy.Decision
}

// Clicker delivers clicks to the status entry.
type Clicker interface {
	Display() status.Display
	Click(c status.Click) bool
}

// CommandRunner executes /afps command arguments.
type CommandRunner interface {
	Run(args string) ([]string, error)
}

// Options wires the server to the agent.
type Options struct {
	Listen      string
	AuthToken   string
	MetricsPath string
	Metrics     http.Handler // nil disables the metrics route
	Engine      Engine
	Entry       Clicker
	Commands    CommandRunner
	Audit       *state.AuditRing
	Logger      *zap.Logger
}

// Server is the HTTP control surface.
type Server struct {
	echo   *echo.Echo
	opts   Options
	logger *zap.Logger
}

// NewServer registers all routes.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		opts:   opts,
		logger: opts.Logger.With(zap.String("component", "api")),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			s.logger.Debug("request", fields...)
			return nil
		},
	}))
	if s.opts.AuthToken != "" {
		s.echo.Use(s.bearerAuth())
	}

	s.echo.GET("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		s.echo.GET(s.opts.MetricsPath, echo.WrapHandler(s.opts.Metrics))
	}
	s.echo.GET("/status", s.handleStatus)
	s.echo.POST("/status/click", s.handleClick)
	s.echo.POST("/command", s.handleCommand)
	s.echo.GET("/audit", s.handleAudit)
}

func (s *Server) bearerAuth() echo.MiddlewareFunc {
	token := []byte(s.opts.AuthToken)
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/healthz"
		},
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), token) == 1, nil
		},
		ErrorHandler: func(_ error, _ echo.Context) error {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		},
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("api listening", zap.String("listen", s.opts.Listen))
	return s.echo.Start(s.opts.Listen)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

type settingsView struct {
	Enabled        bool  `json:"enabled"`
	CombatCap      uint  `json:"combat_cap"`
	OutOfCombatCap uint  `json:"out_of_combat_cap"`
	LastUserCap    *uint `json:"last_user_cap,omitempty"`
}

type snapshotView struct {
	LoggedIn   bool   `json:"logged_in"`
	InCombat   bool   `json:"in_combat"`
	CurrentCap uint   `json:"current_cap"`
	RefreshHz  uint   `json:"refresh_hz"`
	Stamp      uint64 `json:"stamp"`
}

type statusResponse struct {
	Text           string       `json:"text"`
	Tooltip        string       `json:"tooltip"`
	Settings       settingsView `json:"settings"`
	Snapshot       snapshotView `json:"snapshot"`
	Applicable     bool         `json:"applicable"`
	DesiredCap     uint         `json:"desired_cap"`
	OverrideActive bool         `json:"override_active"`
}

func (s *Server) handleStatus(c echo.Context) error {
	cfg := s.opts.Engine.Settings()
	d := s.opts.Engine.Decision()
	disp := s.opts.Entry.Display()
	return c.JSON(http.StatusOK, statusResponse{
		Text:    disp.Text,
		Tooltip: disp.Tooltip,
		Settings: settingsView{
			Enabled:        cfg.Enabled,
			CombatCap:      cfg.CombatCap.Raw(),
			OutOfCombatCap: cfg.OutOfCombatCap.Raw(),
			LastUserCap:    cfg.LastUserCap,
		},
		Snapshot: snapshotView{
			LoggedIn:   d.Snapshot.LoggedIn,
			InCombat:   d.Snapshot.InCombat,
			CurrentCap: d.Snapshot.CurrentCap,
			RefreshHz:  d.Snapshot.RefreshHz,
			Stamp:      d.Stamp,
		},
		Applicable:     d.Applicable,
		DesiredCap:     d.Desired.Raw(),
		OverrideActive: d.OverrideActive,
	})
}

func (s *Server) handleClick(c echo.Context) error {
	button, err := status.ParseClick(c.QueryParam("button"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !s.opts.Entry.Click(button) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "status entry not active")
	}
	return c.JSON(http.StatusOK, s.opts.Entry.Display())
}

type commandResponse struct {
	Lines []string `json:"lines"`
	Error string   `json:"error,omitempty"`
}

func (s *Server) handleCommand(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxCommandBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body")
	}
	lines, err := s.opts.Commands.Run(strings.TrimSpace(string(body)))
	resp := commandResponse{Lines: lines}
	if err != nil {
		resp.Error = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAudit(c echo.Context) error {
	if s.opts.Audit == nil {
		return c.JSON(http.StatusOK, []state.AuditEvent{})
	}
	return c.JSON(http.StatusOK, s.opts.Audit.Events())
}
