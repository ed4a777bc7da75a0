package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/andrebq/doorman/internal/logutil"
)

type (
	Timeouts struct {
		Read       time.Duration
		ReadHeader time.Duration
		Write      time.Duration
		Idle       time.Duration
		Shutdown   time.Duration
	}
)

// DefaultTimeouts are generous for humans typing passwords but
// still bound slow clients.
var DefaultTimeouts = Timeouts{
	Read:       time.Second * 30,
	ReadHeader: time.Second * 10,
	Write:      time.Second * 30,
	Idle:       time.Minute * 2,
	Shutdown:   time.Second * 30,
}

// Serve listens on bind and serves handler until ctx is cancelled
func Serve(ctx context.Context, bind string, handler http.Handler) error {
	lst, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	return ServeListener(ctx, lst, handler, DefaultTimeouts)
}

// ServeListener serves handler on lst until ctx is cancelled, in which case
// in-flight requests get up to t.Shutdown to complete.
//
// A server closed by ctx returns nil.
func ServeListener(ctx context.Context, lst net.Listener, handler http.Handler, t Timeouts) error {
	server := &http.Server{
		Handler:           handler,
		Addr:              lst.Addr().String(),
		ReadTimeout:       t.Read,
		WriteTimeout:      t.Write,
		ReadHeaderTimeout: t.ReadHeader,
		IdleTimeout:       t.Idle,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	err := make(chan error, 1)
	done := make(chan struct{})
	go serveInBackground(ctx, server, lst, t.Shutdown, err, done)
	<-done
	return <-err
}

func serveInBackground(ctx context.Context, server *http.Server, lst net.Listener, grace time.Duration, firstErr chan<- error, done chan<- struct{}) {
	log := logutil.GetOrDefault(ctx).With().Str("server.addr", server.Addr).Logger()
	defer close(done)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		log.Info().Msg("Starting HTTP server")
		err := server.Serve(lst)
		if errors.Is(err, http.ErrServerClosed) {
			log.Info().Msg("Server closed")
			return
		} else if err != nil {
			firstErr <- err
		}
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		log.Info().Msg("Initiating shutdown process")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), grace)
		defer cancelShutdown()
		err := server.Shutdown(shutdownCtx)
		if err != nil {
			log.Error().Err(err).Msg("Unable to complete shutdown, closing remaining connections")
			server.Close()
		}
		log.Info().Msg("Shutdown completed")
	}
	<-stopped
	close(firstErr)
}
