package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Database performance metrics
var (
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postsible_db_queries_total",
			Help: "Total number of database queries executed",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postsible_db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
		},
		[]string{"operation"},
	)

	DBTransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postsible_db_transactions_total",
			Help: "Total number of database transactions",
		},
		[]string{"status"},
	)

	DBTransactionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "postsible_db_transaction_duration_seconds",
			Help:    "Duration of database transactions in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
	)
)

// Account store metrics
var (
	AccountOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postsible_account_operations_total",
			Help: "Account store operations by entity, operation and result",
		},
		[]string{"entity", "operation", "result"},
	)

	PasswordHashes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postsible_password_hashes_total",
			Help: "Password hashes computed, by strategy and result",
		},
		[]string{"strategy", "result"},
	)
)

// Filter script pipeline metrics
var (
	SieveCompilations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postsible_sieve_compilations_total",
			Help: "Sieve script compilations by result",
		},
		[]string{"result"},
	)

	SieveActivationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "postsible_sieve_activation_duration_seconds",
			Help:    "Time to synthesize, compile and activate a mailbox filter script",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		},
	)

	VacationExpirations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postsible_vacation_expirations_total",
			Help: "Vacation records removed because their end date had passed",
		},
	)
)

// Admin API metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postsible_http_requests_total",
			Help: "Total number of admin API requests",
		},
		[]string{"action", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postsible_http_request_duration_seconds",
			Help:    "Duration of admin API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)
)

// 1 healthy, 0.5 degraded, 0 unhealthy
var ComponentHealth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "postsible_component_health",
		Help: "Result of the last health check per component",
	},
	[]string{"component"},
)
