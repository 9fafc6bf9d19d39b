package main

import (
	"context"
	"encoding/base64"
	"flag"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/pardot/oidcservice"
	"github.com/pardot/oidcservice/storage"
	"github.com/pardot/oidcservice/storage/factory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := struct {
		Addr       string
		ConfigPath string
		Store      string
		SessionKey string
		Secure     bool
		LogLevel   string
	}{
		Addr:       "localhost:8084",
		ConfigPath: "rp.yaml",
		Store:      "memory:",
		LogLevel:   "info",
	}

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "address to listen on")
	flag.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "client configuration, reloaded when it changes")
	flag.StringVar(&cfg.Store, "store", cfg.Store, "flow state store")
	flag.StringVar(&cfg.SessionKey, "session-auth-key", cfg.SessionKey, "session authentication key, base64-encoded. random if unset")
	flag.BoolVar(&cfg.Secure, "secure-cookie", cfg.Secure, "only send the session cookie over https")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")

	flag.Parse()

	logger := logrus.New()
	lvl, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Fatal("invalid log level")
	}
	logger.SetLevel(lvl)

	sessionKey, err := sessionAuthKey(cfg.SessionKey)
	if err != nil {
		logger.WithError(err).Fatal("invalid session key")
	}

	store, closeStore, err := factory.Open(ctx, cfg.Store)
	if err != nil {
		logger.WithError(err).Fatal("failed to open store")
	}
	defer func() { _ = closeStore() }()

	load := func() (*oidcservice.Client, error) {
		return loadClient(ctx, cfg.ConfigPath, store, logger)
	}
	cli, err := load()
	if err != nil {
		logger.WithError(err).Fatal("failed to set up client")
	}

	reg := prometheus.NewRegistry()
	svr, err := newServer(cli, newCookieStore(sessionKey, cfg.Secure), reg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to set up server")
	}

	if err := watchFile(cfg.ConfigPath, defaultDebounce, func() {
		c, err := load()
		if err != nil {
			logger.WithError(err).Error("reloading client configuration, keeping the previous one")
			return
		}
		svr.setClient(c)
		logger.Info("reloaded client configuration")
	}, logger); err != nil {
		logger.WithError(err).Fatal("failed to watch configuration")
	}

	logger.Infof("Listening on: http://%s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, svr); err != nil {
		logger.WithError(err).Fatal("server failed")
	}
}

// loadClient reads the configuration at path and discovers its issuer. Flows
// live in store, so they survive a reload.
func loadClient(ctx context.Context, path string, store storage.Storage, logger logrus.FieldLogger) (*oidcservice.Client, error) {
	ccfg, err := oidcservice.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	cli, err := oidcservice.New(ccfg, store, oidcservice.WithLogger(logger), oidcservice.WithIDTokenVerification())
	if err != nil {
		return nil, err
	}
	if _, err := cli.Discover(ctx); err != nil {
		return nil, err
	}
	return cli, nil
}

// newCookieStore returns the session store. Secure must be false when serving
// plain http, or the browser never sends the session back.
func newCookieStore(key []byte, secure bool) *sessions.CookieStore {
	cs := sessions.NewCookieStore(key)
	cs.Options.Secure = secure
	cs.Options.SameSite = http.SameSiteLaxMode
	cs.Options.HttpOnly = true
	return cs
}

func sessionAuthKey(b64 string) ([]byte, error) {
	if b64 == "" {
		return []byte(mustRandStr(64)), nil
	}
	return base64.StdEncoding.DecodeString(b64)
}
