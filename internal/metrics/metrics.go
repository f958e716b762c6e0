package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	DownloadsAttempted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "envfetch",
			Name:      "downloads_attempted_total",
			Help:      "Download tasks handed to the engine.",
		},
	)

	DownloadsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "envfetch",
			Name:      "downloads_completed_total",
			Help:      "Download tasks finished, by outcome.",
		},
		[]string{"outcome"},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "envfetch",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups, by result.",
		},
		[]string{"result"},
	)

	BytesDownloaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "envfetch",
			Name:      "bytes_downloaded_total",
			Help:      "Bytes fetched over the network.",
		},
	)

	NetworkErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "envfetch",
			Name:      "network_errors_total",
			Help:      "Transport-level request failures.",
		},
	)

	RetryAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "envfetch",
			Name:      "retry_attempts_total",
			Help:      "Attempts beyond the first against any source.",
		},
	)

	CacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "envfetch",
			Name:      "cache_evictions_total",
			Help:      "Cache entries removed to stay under the size budget.",
		},
	)

	CacheSizeBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "envfetch",
			Name:      "cache_size_bytes",
			Help:      "Total size of indexed cache files.",
		},
	)

	MirrorProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "envfetch",
			Name:      "mirror_probes_total",
			Help:      "Mirror health probes, by resulting status.",
		},
		[]string{"status"},
	)
)

// Register registers the envfetch metrics into the default registry.
func Register() {
	prometheus.MustRegister(
		DownloadsAttempted,
		DownloadsCompleted,
		CacheLookups,
		BytesDownloaded,
		NetworkErrors,
		RetryAttempts,
		CacheEvictions,
		CacheSizeBytes,
		MirrorProbes,
	)
}
