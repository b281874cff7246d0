package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-relay/internal/config"
	"github.com/example/ride-relay/internal/ingest"
	"github.com/example/ride-relay/internal/logging"
	"github.com/example/ride-relay/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total driver location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total successful redis updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, redisUpdates, redisErrors)
}

func main() {
	cfg, err := config.LoadConsumer()
	if err != nil {
		boot := logging.NewLogger("info")
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logging.NewLogger(cfg.LogLevel)

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	mirror := ingest.RedisGeoFromClient(rc, cfg.RedisGeoKey)

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			// readiness: check redis connectivity
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics/health listening")
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers(), Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 1, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log.Info().Str("topic", cfg.KafkaTopic).Strs("brokers", cfg.KafkaBrokers()).Str("group", cfg.KafkaGroup).Msg("consumer listening")
	consume(ctx, r, mirror, log)
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// consume mirrors events until ctx ends. Read errors back off exponentially.
func consume(ctx context.Context, r messageReader, m Mirror, log zerolog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("shutting down consumer")
				return
			}
			log.Warn().Err(err).Dur("backoff", backoff).Msg("kafka read error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		msgsConsumed.Inc()

		var ev models.LocationEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil || ev.DriverID == "" {
			msgsInvalid.Inc()
			log.Warn().Err(err).Bytes("key", msg.Key).Msg("invalid location event")
			continue
		}

		if err := mirrorWithRetry(ctx, m, ev, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			log.Warn().Err(err).Str("driver_id", ev.DriverID).Msg("redis update failed")
			continue
		}
		redisUpdates.Inc()
	}
}

// Mirror is the write side of the Redis GEO mirror.
type Mirror interface {
	Publish(ctx context.Context, ev models.LocationEvent) error
}

// mirrorWithRetry writes one event with retry/backoff.
func mirrorWithRetry(ctx context.Context, m Mirror, ev models.LocationEvent, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if err = m.Publish(ctx, ev); err == nil {
			return nil
		}
	}
	return err
}
