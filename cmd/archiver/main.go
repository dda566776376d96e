// The archiver consumes the rescue audit stream and persists it: every event
// lands in Postgres for retention, and the Redis geo set of pending request
// coordinates is kept in step so the relay's nearby queries survive restarts.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/resq-relay/internal/models"
)

var (
	eventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archiver_events_consumed_total",
		Help: "Total rescue events consumed",
	})
	eventsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archiver_events_invalid_total",
		Help: "Total invalid messages received",
	})
	archiveWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archiver_writes_total",
		Help: "Total successful archive writes",
	})
	archiveErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archiver_errors_total",
		Help: "Total archive errors after retries",
	})
)

func init() {
	prometheus.MustRegister(eventsConsumed, eventsInvalid, archiveWrites, archiveErrors)
}

func main() {
	_ = godotenv.Load()

	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokers := []string{"localhost:9092"}
	if env := os.Getenv("KAFKA_BROKERS"); env != "" {
		brokers = brokers[:0]
		for _, b := range strings.Split(env, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	}
	topic := getenv("KAFKA_TOPIC", "rescue-events")
	group := getenv("KAFKA_GROUP", "resq-archiver")
	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	geoKey := getenv("REDIS_GEO_KEY", "pending_requests_geo")
	dsn := os.Getenv("PG_DSN")

	rc := redis.NewClient(&redis.Options{Addr: redisAddr})

	var db *sql.DB
	if dsn != "" {
		var err error
		if db, err = sql.Open("postgres", dsn); err != nil {
			log.Fatalf("postgres open error: %v", err)
		}
	}

	sink := &archiveSink{db: db, geo: &redisAdapter{c: rc}, geoKey: geoKey}

	// metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
		if db != nil {
			_ = db.Close()
		}
	}()

	log.Printf("archiver listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down archiver")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		eventsConsumed.Inc()

		var ev models.RescueEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil || ev.RequestID == "" {
			eventsInvalid.Inc()
			log.Printf("invalid event: %v", err)
			continue
		}

		if err := archiveWithRetry(ctx, sink, &ev, 3, 200*time.Millisecond); err != nil {
			archiveErrors.Inc()
			log.Printf("archive failed for request=%s kind=%s: %v", ev.RequestID, ev.Kind, err)
			continue
		}
		archiveWrites.Inc()
	}
}

// EventSink defines the small subset of archive operations we need for tests
// and production.
type EventSink interface {
	Insert(ctx context.Context, ev *models.RescueEvent) error
	UpdateGeo(ctx context.Context, ev *models.RescueEvent) error
}

// geoUpdater defines the small subset of redis geo operations we need for
// tests and production.
type geoUpdater interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	ZRem(ctx context.Context, key, member string) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	_, err := r.c.GeoAdd(ctx, key, loc).Result()
	return err
}

func (r *redisAdapter) ZRem(ctx context.Context, key, member string) error {
	return r.c.ZRem(ctx, key, member).Err()
}

type archiveSink struct {
	db     *sql.DB
	geo    geoUpdater
	geoKey string
}

func (s *archiveSink) Insert(ctx context.Context, ev *models.RescueEvent) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rescue_events(request_id, kind, lat, lng, responder, occurred_at) VALUES($1,$2,$3,$4,$5,$6)`,
		ev.RequestID, ev.Kind, ev.Location.Lat, ev.Location.Lng, ev.Responder, ev.At)
	return err
}

// UpdateGeo keeps the geo set in step with the pending lifecycle: a request
// enters the set when created and leaves it the moment a responder takes it,
// not just at rescue or cancel.
func (s *archiveSink) UpdateGeo(ctx context.Context, ev *models.RescueEvent) error {
	switch ev.Kind {
	case models.EventCreated:
		return s.geo.GeoAdd(ctx, s.geoKey, &redis.GeoLocation{
			Longitude: ev.Location.Lng,
			Latitude:  ev.Location.Lat,
			Name:      ev.RequestID,
		})
	case models.EventAccepted, models.EventRescued, models.EventCanceled:
		return s.geo.ZRem(ctx, s.geoKey, ev.RequestID)
	}
	return nil
}

// archiveWithRetry writes one event through the sink with retry/backoff.
func archiveWithRetry(ctx context.Context, sink EventSink, ev *models.RescueEvent, attempts int, delay time.Duration) error {
	for i := 0; i < attempts; i++ {
		if err := sink.Insert(ctx, ev); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		if err := sink.UpdateGeo(ctx, ev); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return nil
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
