// Command worker runs the evaluation-and-delivery pipeline: it ingests
// telemetry, evaluates rules on a fixed tick, and relays emitted events to
// the broker through a durable local outbox.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vinibressanini/idab-processor/internal/config"
	"github.com/vinibressanini/idab-processor/internal/equipment"
	"github.com/vinibressanini/idab-processor/internal/ingest"
	"github.com/vinibressanini/idab-processor/internal/logging"
	"github.com/vinibressanini/idab-processor/internal/metrics"
	"github.com/vinibressanini/idab-processor/internal/outbox"
	"github.com/vinibressanini/idab-processor/internal/publisher"
	"github.com/vinibressanini/idab-processor/internal/relay"
	"github.com/vinibressanini/idab-processor/internal/rules"
	"github.com/vinibressanini/idab-processor/internal/scheduler"
)

// publisherShutdownTimeout bounds how long an in-flight publisher call is
// allowed to finish after a shutdown signal before it is abandoned.
const publisherShutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	log := logging.NewDefault()

	cfg, err := config.LoadService()
	if err != nil {
		log.WithField("error", err).Error("worker: failed to load configuration")
		return 1
	}
	log = logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	topologyPath := os.Getenv("TOPOLOGY_PATH")
	if topologyPath == "" {
		topologyPath = "topology.json"
	}
	topo, err := config.LoadTopology(topologyPath)
	if err != nil {
		log.WithField("error", err).Error("worker: failed to load topology")
		return 1
	}

	cache := rules.NewCache()
	equipments, err := equipment.BuildAll(topo, cache)
	if err != nil {
		log.WithField("error", err).Error("worker: failed to build equipment model")
		return 1
	}

	store, err := outbox.Open(cfg.Outbox.DBPath)
	if err != nil {
		log.WithField("error", err).Error("worker: failed to open outbox store")
		return 1
	}
	defer store.Close()

	var m *metrics.Metrics
	if metrics.Enabled() {
		m = metrics.New(prometheus.DefaultRegisterer)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil && err != http.ErrServerClosed {
				log.WithField("error", err).Warn("worker: metrics endpoint stopped")
			}
		}()
	}

	adapter := selectAdapter(cfg, log)
	pub := selectPublisher(cfg, log)
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := adapter.Connect(ctx, equipments); err != nil {
		log.WithField("error", err).Error("worker: failed to connect ingestion adapter")
		return 1
	}

	sched := scheduler.New(scheduler.Config{Interval: cfg.Tick.Interval}, adapter, equipments, store, m, log)
	rl := relay.New(relay.Config{
		SleepInterval:    cfg.Relay.SleepInterval,
		BatchSize:        cfg.Relay.BatchSize,
		TTLSeconds:       cfg.Relay.TTLSeconds,
		MaxRetries:       cfg.Relay.MaxRetries,
		BaseDelaySeconds: cfg.Relay.BaseDelaySeconds,
	}, store, pub, log)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		rl.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("worker: shutdown requested")

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(publisherShutdownTimeout):
		log.Warn("worker: shutdown timed out waiting for in-flight work")
	}

	return 0
}

// selectAdapter picks the MQTT ingestion adapter unless the demo switch is
// set, in which case it returns the simulated source so the pipeline runs
// without a live broker.
func selectAdapter(cfg *config.ServiceConfig, log *logging.Logger) ingest.Adapter {
	if os.Getenv("USE_SIMULATED_SOURCE") != "" {
		log.Info("worker: using simulated PLC source")
		return ingest.NewSimulated(1)
	}
	clientID := fmt.Sprintf("%s-%s", cfg.Bus.ClientID, uuid.NewString())
	return ingest.NewMQTT(ingest.MQTTConfig{
		BrokerURL: cfg.Bus.BrokerURL,
		ClientID:  clientID,
		QueueSize: cfg.Bus.QueueSize,
	}, log)
}

// selectPublisher picks the AMQP broker publisher unless the demo switch is
// set, in which case it returns an in-memory mock.
func selectPublisher(cfg *config.ServiceConfig, log *logging.Logger) publisher.Publisher {
	if os.Getenv("USE_MOCK_PUBLISHER") != "" {
		log.Info("worker: using mock publisher")
		return publisher.NewMock(log)
	}
	return publisher.NewBroker(publisher.BrokerConfig{
		URL:          cfg.Broker.URL,
		Exchange:     cfg.Broker.Exchange,
		ExchangeKind: cfg.Broker.ExchangeKind,
	}, log)
}
