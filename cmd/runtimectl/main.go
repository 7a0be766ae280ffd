// Command runtimectl is a thin operator CLI for driving a demo
// orchestrator instance and hitting its ServiceManager endpoint. It is
// not the embedder's debug console/admin panel (out of scope); it
// exists so an operator can boot a server, inspect it, and poke its
// scheduler/FSM state from a terminal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iKryptonic/RBXStateMachine/internal/config"
	"github.com/iKryptonic/RBXStateMachine/internal/factory"
	"github.com/iKryptonic/RBXStateMachine/internal/kvstore"
	"github.com/iKryptonic/RBXStateMachine/internal/logging"
	"github.com/iKryptonic/RBXStateMachine/internal/orchestrator"
	"github.com/iKryptonic/RBXStateMachine/internal/persistence"
	"github.com/iKryptonic/RBXStateMachine/internal/scheduler"
	"github.com/iKryptonic/RBXStateMachine/internal/tracing"
	"github.com/iKryptonic/RBXStateMachine/internal/transport"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("runtimectl: "+err.Error()))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "runtimectl",
		Short: "Operator CLI for the entity-behavior runtime",
	}
	root.PersistentFlags().String("config", "", "path to a runtime settings YAML file")
	root.PersistentFlags().String("addr", "http://127.0.0.1:8080", "ServiceManager base URL")
	root.PersistentFlags().String("token", "", "ServiceManager bearer token")
	viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	viper.BindPFlag("addr", root.PersistentFlags().Lookup("addr"))
	viper.BindPFlag("token", root.PersistentFlags().Lookup("token"))

	root.AddCommand(newServeCommand())
	root.AddCommand(newConfigCommand())
	root.AddCommand(newSnapshotCommand())
	root.AddCommand(newFSMCommand())
	root.AddCommand(newSchedulerCommand())
	return root
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Settings file management"}
	cmd.AddCommand(&cobra.Command{
		Use:   "init <path>",
		Short: "Write a default settings file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteSample(args[0]); err != nil {
				return err
			}
			fmt.Println(green("wrote default settings to " + args[0]))
			return nil
		},
	})
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a demo orchestrator with a ServiceManager endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(viper.GetString("config"))
			if err != nil {
				return err
			}

			logger := logging.NewComponentLogger("runtimectl")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			shutdownTracing, err := tracing.Init(ctx, settings.Observability, logger)
			if err != nil {
				return err
			}
			defer shutdownTracing(context.Background())

			sched := scheduler.New(scheduler.Config{
				Name:        "runtimectl",
				FrameBudget: settings.Scheduler.FrameBudget,
				AgingFactor: settings.Scheduler.AgingFactor,
				HistorySize: settings.Scheduler.HistoryMax,
			})
			sched.Start()

			f := factory.New(logger)
			server := transport.NewServer(settings.Transport.ServiceManagerToken, logger)
			hub := transport.NewHub(logger, nil)

			kvConfig := kvstore.DefaultConfig()
			kvConfig.CacheSize = settings.Persistence.CacheSize
			kv := kvstore.New(settings.Persistence.StoreName, newMemoryStore(), kvConfig, logger)
			persist := persistence.New(persistence.Config{
				StoreName: settings.Persistence.StoreName,
				KeyPrefix: settings.Persistence.KeyPrefix,
			}, kv, logger)

			orch, err := orchestrator.New(orchestrator.Dependencies{
				Role:        orchestrator.RoleServer,
				Scheduler:   sched,
				Factory:     f,
				Logger:      logger,
				Broadcaster: hub,
				CommandRecv: hub,
				Requests:    server,
				Persistence: persist,
			})
			if err != nil {
				return err
			}
			orch.StartServiceManagerAPI(nil)

			fmt.Println(green(fmt.Sprintf("serving on %s", settings.Transport.ListenAddr)))
			return server.ListenAndServe(ctx, settings.Transport.ListenAddr)
		},
	}
}

func newSnapshotCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Fetch the current entity snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(cmd, "snapshot")
		},
	}
}

func newFSMCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "fsm", Short: "Inspect or control a state machine"}
	cmd.AddCommand(&cobra.Command{
		Use:  "get <id>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error { return callAndPrint(cmd, "fsm", "get", args[0]) },
	})
	cmd.AddCommand(&cobra.Command{
		Use:  "cancel <id>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error { return callAndPrint(cmd, "fsm", "cancel", args[0]) },
	})
	cmd.AddCommand(&cobra.Command{
		Use:  "retry <id> <initial-state>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(cmd, "fsm", "retry", args[0], args[1])
		},
	})
	return cmd
}

func newSchedulerCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "scheduler", Short: "Inspect or control the scheduler"}
	cmd.AddCommand(&cobra.Command{
		Use: "snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(cmd, "scheduler", "snapshot")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(cmd, "scheduler", "history")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "clear",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(cmd, "scheduler", "clear")
		},
	})
	return cmd
}

// memoryStore is an in-process kvstore.Store for the demo server; a
// real deployment wires a network-backed store behind the same
// interface instead.
type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (s *memoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", kvstore.ErrNotFound
	}
	return v, nil
}

func (s *memoryStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func callAndPrint(cmd *cobra.Command, name string, args ...any) error {
	client := transport.NewClient(viper.GetString("addr"), viper.GetString("token"))
	result, err := client.Request(cmd.Context(), name, args...)
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(yellow(string(out)))
	return nil
}
