// Package metrics holds the prometheus instrumentation shared by the ledger,
// the randomness program and the oracle, and the server exposing it.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransactionsTotal counts submitted transactions by first program and outcome.
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "randomness_ledger_transactions_total",
			Help: "How many transactions were submitted, partitioned by program and outcome.",
		},
		[]string{"program", "outcome"},
	)

	// CurrentSlot is the latest ledger slot.
	CurrentSlot = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "randomness_ledger_slot",
		Help: "Latest ledger slot.",
	})

	// SeedsTotal counts committed seeds.
	SeedsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "randomness_seeds_total",
		Help: "How many records received an attested seed.",
	})

	// RevealsTotal counts completed reveals by strategy.
	RevealsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "randomness_reveals_total",
			Help: "How many records were revealed, partitioned by strategy.",
		},
		[]string{"strategy"},
	)

	// FulfillmentsTotal counts oracle fulfillment attempts by result.
	FulfillmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "randomness_oracle_fulfillments_total",
			Help: "How many requests the oracle tried to fulfill, partitioned by result.",
		},
		[]string{"result"},
	)

	// ArchivedRecordsTotal counts record snapshots written to storage.
	ArchivedRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "randomness_archived_records_total",
			Help: "How many revealed records were archived, partitioned by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		TransactionsTotal,
		CurrentSlot,
		SeedsTotal,
		RevealsTotal,
		FulfillmentsTotal,
		ArchivedRecordsTotal,
	)
}

// MetricsServer serves /metrics on its own address.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server. The namespace is reported as a constant
// build_info label.
func New(namespace, addr string) (*MetricsServer, error) {
	buildInfo := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "randomness_build_info",
		Help:        "Constant 1, labelled with the service namespace.",
		ConstLabels: prometheus.Labels{"namespace": namespace},
	})
	buildInfo.Set(1)
	if err := prometheus.Register(buildInfo); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			return nil, err
		}
	}

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
