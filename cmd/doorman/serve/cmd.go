package serve

import (
	"fmt"
	"os"
	"time"

	"github.com/andrebq/doorman/api"
	"github.com/andrebq/doorman/auth"
	"github.com/andrebq/doorman/credstore"
	"github.com/andrebq/doorman/internal/cmdflags"
	"github.com/andrebq/doorman/internal/httpserver"
	"github.com/andrebq/doorman/internal/logutil"
	"github.com/andrebq/doorman/internal/metrics"
	"github.com/andrebq/doorman/session"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const (
	storeMemory = "memory"
	storeRedis  = "redis"
)

func Cmd() *cli.Command {
	bindAddr := "localhost:7010"
	var database string
	var ttl time.Duration
	var scheme string
	var pepperEnvVar string
	sessionStore := storeMemory
	redisURL := "redis://localhost:6379/0"
	var insecureCookie bool
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the doorman HTTP api",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "bind",
				Usage:       "Address to bind the HTTP api",
				EnvVars:     []string{"DOORMAN_BIND"},
				Value:       bindAddr,
				Destination: &bindAddr,
			},
			cmdflags.Database(&database),
			cmdflags.SessionTTL(&ttl),
			cmdflags.HashScheme(&scheme),
			cmdflags.PepperEnvVar(&pepperEnvVar),
			&cli.StringFlag{
				Name:        "session-store",
				Usage:       "Where sessions are kept (memory or redis), memory sessions are lost on restart",
				EnvVars:     []string{"DOORMAN_SESSION_STORE"},
				Value:       sessionStore,
				Destination: &sessionStore,
			},
			&cli.StringFlag{
				Name:        "redis-url",
				Usage:       "Redis connection url, used only when session-store is redis",
				EnvVars:     []string{"DOORMAN_REDIS_URL"},
				Value:       redisURL,
				Destination: &redisURL,
			},
			&cli.BoolFlag{
				Name:        "insecure-cookie",
				Usage:       "Allow the session cookie over plain HTTP, only for local development",
				EnvVars:     []string{"DOORMAN_INSECURE_COOKIE"},
				Destination: &insecureCookie,
			},
		},
		Action: func(ctx *cli.Context) error {
			keyfn, err := auth.KeyFNFromEnv(pepperEnvVar, os.Getenv, os.Setenv)
			if err != nil {
				return err
			}
			hasher, err := auth.HasherFor(scheme)
			if err != nil {
				return err
			}
			store, err := credstore.Open(ctx.Context, database)
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := openSessionStore(ctx, sessionStore, redisURL, ttl)
			if err != nil {
				return err
			}
			defer sessions.Close()

			m := metrics.New()
			gate := session.NewGate(sessions, ttl)
			authn := auth.New(store, auth.WithHasher(hasher), auth.WithPepper(keyfn))
			handler := api.AsHandler(ctx.Context, authn, api.NewRealm(gate, m, insecureCookie), m)

			log.Info().
				Str("database", database).
				Str("session_store", sessionStore).
				Dur("session_ttl", ttl).
				Str("hash", hasher.Scheme()).
				Bool("pepper", keyfn != nil).
				Msg("Doorman configured")
			return httpserver.Serve(ctx.Context, bindAddr, logutil.Middleware(log.Logger, handler))
		},
	}
}

type closableStore interface {
	session.Store
	Close() error
}

func openSessionStore(ctx *cli.Context, kind, redisURL string, ttl time.Duration) (closableStore, error) {
	switch kind {
	case storeMemory:
		mem, err := session.NewMemoryStore(ctx.Context, ttl)
		if err != nil {
			return nil, err
		}
		return mem, nil
	case storeRedis:
		rs, err := session.DialRedis(ctx.Context, redisURL)
		if err != nil {
			return nil, err
		}
		return rs, nil
	}
	return nil, fmt.Errorf("invalid session store %q, valid options are %v and %v", kind, storeMemory, storeRedis)
}
