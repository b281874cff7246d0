package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/example/ride-relay/internal/config"
	"github.com/example/ride-relay/internal/geo"
	httpapi "github.com/example/ride-relay/internal/http"
	"github.com/example/ride-relay/internal/ingest"
	"github.com/example/ride-relay/internal/logging"
	"github.com/example/ride-relay/internal/matcher"
	"github.com/example/ride-relay/internal/relay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.NewLogger("info")
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logging.NewLogger(cfg.LogLevel)

	// bind both ports before serving anything so a busy port fails fast
	wsLn, err := net.Listen("tcp", cfg.WSAddr())
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.WSAddr()).Msg("cannot bind relay port")
	}
	httpLn, err := net.Listen("tcp", cfg.HTTPAddr())
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.HTTPAddr()).Msg("cannot bind http port")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, wsLn, httpLn); err != nil {
		log.Error().Err(err).Msg("relay stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("relay stopped")
}

// run serves the relay and the introspection surface on the given
// listeners until ctx ends or one of them fails.
func run(ctx context.Context, cfg config.RelayConfig, log zerolog.Logger, wsLn, httpLn net.Listener) error {
	reg := geo.NewRegistry()

	var pubs []ingest.Publisher
	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 {
		pubs = append(pubs, ingest.NewKafkaProducer(brokers, cfg.KafkaTopic))
		log.Info().Strs("brokers", brokers).Str("topic", cfg.KafkaTopic).Msg("location event stream enabled")
	}
	if cfg.RedisAddr != "" {
		pubs = append(pubs, ingest.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey))
		log.Info().Str("addr", cfg.RedisAddr).Str("key", cfg.RedisGeoKey).Msg("redis geo mirror enabled")
	}
	var (
		sink   relay.LocationSink
		fanout *ingest.Fanout
	)
	if len(pubs) > 0 {
		fanout = ingest.NewFanout(cfg.SinkBuffer, log, pubs...)
		sink = fanout
	}

	m := matcher.NewService(reg, cfg.MaxDistance, cfg.DriverMaxAge, cfg.MatchConcurrency)
	hub := relay.NewHub(reg, m, sink, relay.Options{
		ReadLimit:         cfg.WSReadLimit,
		WriteTimeout:      cfg.WSWriteTimeout,
		EvictOnDisconnect: cfg.EvictOnDisconnect,
	}, log)
	if cfg.EvictOnDisconnect {
		log.Warn().Msg("evict-on-disconnect enabled: drivers leave the registry when their connection closes")
	}

	wsSrv := &http.Server{
		Handler:           hub,
		ReadHeaderTimeout: cfg.ReadTimeout,
	}
	httpSrv := &http.Server{
		Handler:      httpapi.NewServer(reg, hub, log),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", wsLn.Addr().String()).Float64("max_distance_m", cfg.MaxDistance).Msg("relay listening")
		return serve(wsSrv, wsLn)
	})
	g.Go(func() error {
		log.Info().Str("addr", httpLn.Addr().String()).Msg("http listening")
		return serve(httpSrv, httpLn)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		errs := []error{
			httpSrv.Shutdown(sctx),
			wsSrv.Shutdown(sctx),
			hub.Close(sctx),
		}
		if fanout != nil {
			errs = append(errs, fanout.Close())
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

func serve(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
