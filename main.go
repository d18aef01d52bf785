// plastrond is the repository ingest daemon: it receives job commands
// over a STOMP broker, runs import, update, and publication jobs against
// an LDP repository, and optionally serves a read-only status API.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"plastron.evalgo.org/common"
	"plastron.evalgo.org/config"
	"plastron.evalgo.org/handles"
	"plastron.evalgo.org/jobs"
	"plastron.evalgo.org/ldp"
	"plastron.evalgo.org/messaging"
	"plastron.evalgo.org/model"
	"plastron.evalgo.org/web"
)

func main() {
	cfgFile := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	if err := run(*cfgFile); err != nil {
		common.Logger.WithError(err).Error("plastrond failed")
		os.Exit(1)
	}
}

func run(cfgFile string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	if err := common.ConfigureLogger(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	logger := common.ComponentLogger("main")

	if cfg.Vocabularies.CachePath != "" {
		if err := model.Vocabularies().Persist(cfg.Vocabularies.CachePath); err != nil {
			return err
		}
		defer model.Vocabularies().Close()
	}

	client, err := newRepositoryClient(cfg)
	if err != nil {
		return err
	}

	var handleClient *handles.Client
	if cfg.Handles.Endpoint != "" {
		handleClient = handles.NewClient(cfg.Handles.Endpoint, cfg.Handles.JWTToken)
	}

	store := jobs.NewStore(cfg.JobsDir)

	boxes, err := messaging.NewBoxes(cfg.Broker.MessageStoreDir)
	if err != nil {
		return err
	}
	broker := messaging.NewSTOMPBroker(messaging.STOMPConfig{
		Server:    cfg.Broker.Server,
		Login:     cfg.Broker.Login,
		Passcode:  cfg.Broker.Passcode,
		Heartbeat: cfg.Broker.Heartbeat,
	})
	dispatcher, err := messaging.NewDispatcher(messaging.Options{
		Broker: broker,
		Boxes:  boxes,
		Store:  store,
		Client: client,
		Destinations: messaging.Destinations{
			Jobs:            cfg.Broker.Destinations.Jobs,
			JobsSynchronous: cfg.Broker.Destinations.JobsSynchronous,
			JobStatus:       cfg.Broker.Destinations.JobStatus,
			JobProgress:     cfg.Broker.Destinations.JobProgress,
		},
		PoolSize:         cfg.Worker.PoolSize,
		Handles:          handleClient,
		HandlePrefix:     cfg.Handles.Prefix,
		PublicURLPattern: cfg.Handles.PublicURLPattern,
	})
	if err != nil {
		return err
	}

	// Cancelled on SIGINT/SIGTERM; the dispatcher drains and any open
	// transactions roll back through context cancellation.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var status *web.Server
	if cfg.Status.Enabled {
		webCfg := web.DefaultConfig()
		webCfg.Port = cfg.Status.Port
		status = web.NewServer(webCfg, store)
		go func() {
			if err := status.Start(); err != nil {
				logger.WithError(err).Error("Status server failed")
			}
		}()
	}

	logger.WithField("broker", cfg.Broker.Server).Info("plastrond started")
	err = dispatcher.Run(ctx)
	if err == context.Canceled {
		err = nil
	}

	if status != nil {
		if shutdownErr := status.Shutdown(context.Background()); shutdownErr != nil {
			logger.WithError(shutdownErr).Warn("Status server shutdown failed")
		}
	}
	logger.Info("plastrond stopped")
	return err
}

// newRepositoryClient builds the LDP client from the repository section,
// wiring bearer or minted-JWT auth and the optional Ziti overlay
// transport.
func newRepositoryClient(cfg *config.Config) (*ldp.Client, error) {
	var auth ldp.AuthProvider
	switch {
	case cfg.Repository.AuthToken != "":
		auth = &ldp.BearerAuth{Token: cfg.Repository.AuthToken}
	case cfg.Repository.JWTSecret != "":
		auth = ldp.NewJWTSecretAuth(cfg.Repository.JWTSecret)
	}

	var httpClient *http.Client
	if cfg.Repository.ZitiIdentity != "" {
		transport, err := ldp.ZitiTransport(cfg.Repository.ZitiIdentity, cfg.Repository.ZitiService)
		if err != nil {
			return nil, err
		}
		httpClient = &http.Client{
			Transport: transport,
			Timeout:   cfg.Repository.Timeout,
		}
	}

	return ldp.NewClient(ldp.Config{
		Endpoint:    cfg.Repository.Endpoint,
		ExternalURL: cfg.Repository.ExternalURL,
		Auth:        auth,
		HTTPClient:  httpClient,
		Timeout:     cfg.Repository.Timeout,
	})
}
