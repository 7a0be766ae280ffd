// Package config loads and hot-reloads the runtime's operator-tunable
// Settings tree: scheduler budgets, persistence store options,
// orchestrator role, and transport endpoints.
package config

import "time"

// SchedulerSettings configures internal/scheduler.
type SchedulerSettings struct {
	FrameBudget time.Duration `yaml:"frame_budget"`
	AgingFactor float64       `yaml:"aging_factor"`
	HistoryMax  int           `yaml:"history_max"`
}

// PersistenceSettings configures internal/persistence and the
// kvstore adapter sitting underneath it.
type PersistenceSettings struct {
	StoreName string `yaml:"store_name"`
	KeyPrefix string `yaml:"key_prefix"`
	CacheSize int    `yaml:"cache_size"`
}

// OrchestratorSettings configures internal/orchestrator.
type OrchestratorSettings struct {
	Role string `yaml:"role"`
}

// TransportSettings configures internal/transport.
type TransportSettings struct {
	ListenAddr          string `yaml:"listen_addr"`
	ServiceManagerToken string `yaml:"service_manager_token"`
}

// ObservabilitySettings configures the OTLP trace exporter internal/tracing
// bootstraps. Empty Endpoint disables the OTLP exporter in favor of a
// stdout exporter, so a fresh deployment still emits spans somewhere.
type ObservabilitySettings struct {
	ServiceName  string  `yaml:"service_name"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	OTLPInsecure bool    `yaml:"otlp_insecure"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

// Settings is the full operator-tunable configuration tree.
type Settings struct {
	Scheduler     SchedulerSettings     `yaml:"scheduler"`
	Persistence   PersistenceSettings   `yaml:"persistence"`
	Orchestrator  OrchestratorSettings  `yaml:"orchestrator"`
	Transport     TransportSettings     `yaml:"transport"`
	Observability ObservabilitySettings `yaml:"observability"`
}

// Default returns the out-of-the-box Settings a fresh deployment
// starts from.
func Default() Settings {
	return Settings{
		Scheduler: SchedulerSettings{
			FrameBudget: 4 * time.Millisecond,
			AgingFactor: 0.1,
			HistoryMax:  256,
		},
		Persistence: PersistenceSettings{
			StoreName: "entities",
			KeyPrefix: "runtime:",
			CacheSize: 1024,
		},
		Orchestrator: OrchestratorSettings{
			Role: "server",
		},
		Transport: TransportSettings{
			ListenAddr:          ":8080",
			ServiceManagerToken: "",
		},
		Observability: ObservabilitySettings{
			ServiceName: "runtime",
			SampleRatio: 0.1,
		},
	}
}
