// Package web is the read-only status server of the daemon: health, the
// job list, and per-job progress summaries.
package web

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"plastron.evalgo.org/common"
	"plastron.evalgo.org/jobs"
	"plastron.evalgo.org/version"
)

// Config configures the status server.
type Config struct {
	Port            int
	BodyLimit       string
	RateLimit       float64
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the status server defaults.
func DefaultConfig() Config {
	return Config{
		Port:            8099,
		BodyLimit:       "1M",
		RateLimit:       20,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server serves the status endpoints over an Echo instance with the
// standard middleware stack.
type Server struct {
	cfg    Config
	echo   *echo.Echo
	store  *jobs.Store
	logger *logrus.Entry
}

// NewServer builds the status server around a job store.
func NewServer(cfg Config, store *jobs.Store) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(cfg.RateLimit),
		)))
	}

	s := &Server{
		cfg:    cfg,
		echo:   e,
		store:  store,
		logger: common.ComponentLogger("web"),
	}

	e.GET("/healthz", s.health)
	e.GET("/jobs", s.listJobs)
	e.GET("/jobs/:job_id", s.showJob)
	return s
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.WithField("port", s.cfg.Port).Info("Starting status server")
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	err := s.echo.StartServer(server)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// healthResponse is the /healthz body.
type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version,omitempty"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:  "healthy",
		Service: "plastrond",
		Version: version.GetBuildInfo().MainVersion,
	})
}

func (s *Server) listJobs(c echo.Context) error {
	ids, err := s.store.List()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"jobs": ids})
}

// runSummary is the latest-run section of a job summary.
type runSummary struct {
	Timestamp string `json:"timestamp"`
	Invalid   int    `json:"invalid"`
	Failed    int    `json:"failed"`
}

// jobSummary is the /jobs/:job_id body.
type jobSummary struct {
	JobID     string       `json:"job_id"`
	Config    *jobs.Config `json:"config"`
	Completed int          `json:"completed"`
	Runs      []string     `json:"runs"`
	LatestRun *runSummary  `json:"latest_run,omitempty"`
}

func (s *Server) showJob(c echo.Context) error {
	id, err := url.PathUnescape(c.Param("job_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}

	job, err := s.store.Get(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no such job %q", id))
	}

	cfg, err := job.LoadConfig()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	completed, err := job.CompletedLog()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	completedCount := completed.Len()
	completed.Close()

	runs, err := job.Runs()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if runs == nil {
		runs = []string{}
	}

	summary := jobSummary{
		JobID:     id,
		Config:    cfg,
		Completed: completedCount,
		Runs:      runs,
	}

	latest, err := job.LatestRun()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if latest != nil {
		rs := &runSummary{Timestamp: latest.Timestamp}
		if log, err := latest.InvalidLog(); err == nil {
			rs.Invalid = log.Len()
			log.Close()
		}
		if log, err := latest.FailedLog(); err == nil {
			rs.Failed = log.Len()
			log.Close()
		}
		summary.LatestRun = rs
	}
	return c.JSON(http.StatusOK, summary)
}
