// Command klstore is the operator-facing CLI over package klstore: keyspace/key
// operations for scripting and debugging (create-keyspace, append, flush, read-page,
// metadata) plus a long-running Kafka ingestion server (serve-ingest), grounded on the
// cobra.Command-per-subcommand style twmb/kcl's commands package uses.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/thill/klstore"
	"github.com/thill/klstore/backend"
	"github.com/thill/klstore/backend/s3"
	"github.com/thill/klstore/batching"
	"github.com/thill/klstore/ingest"
)

var (
	configFile  string
	metricsAddr string
)

func main() {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	root := &cobra.Command{
		Use:   "klstore",
		Short: "Operate an appendable, iterable key/log store backed by an S3-compatible object store.",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a klstore YAML config file (object store + store settings)")

	root.AddCommand(
		createKeyspaceCmd(logger),
		appendCmd(logger),
		flushCmd(logger),
		readPageCmd(logger),
		metadataCmd(logger),
		serveIngestCmd(logger),
	)

	if err := root.Execute(); err != nil {
		level.Error(logger).Log("msg", "command failed", "err", err)
		os.Exit(1)
	}
}

// fileConfig is the on-disk shape loaded by --config: the object store selection plus the
// klstore.Config and ingest.Config subtrees, following the single-YAML-document convention
// cmd/tempo/app/config.go uses for its own top-level config.
type fileConfig struct {
	Backend struct {
		Kind  string              `yaml:"kind"`
		S3    s3.Config           `yaml:"s3"`
		Retry backend.RetryConfig `yaml:"retry"`
	} `yaml:"backend"`
	Store  klstore.Config  `yaml:"store"`
	Batch  batching.Config `yaml:"batching"`
	Ingest ingest.Config   `yaml:"ingest"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, fmt.Errorf("--config is required")
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(body, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// openStore builds the object store named by fileConfig.Backend.Kind, wrapping it in the
// capped-backoff retry decorator whenever the backend reports its own transient
// classifier (§7).
func openStore(ctx context.Context, cfg fileConfig, logger log.Logger) (backend.ObjectStore, error) {
	switch cfg.Backend.Kind {
	case "s3":
		store, err := s3.New(ctx, cfg.Backend.S3)
		if err != nil {
			return nil, fmt.Errorf("open s3 backend: %w", err)
		}
		return backend.WithRetry(store, cfg.Backend.Retry, s3.IsTransient, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q (expected \"s3\")", cfg.Backend.Kind)
	}
}

func openStoreHandle(ctx context.Context, logger log.Logger) (*klstore.Store, error) {
	cfg, err := loadFileConfig(configFile)
	if err != nil {
		return nil, err
	}
	objStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return klstore.New(objStore, cfg.Store, logger)
}

func createKeyspaceCmd(logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "create-keyspace <keyspace>",
		Short: "Create a keyspace marker object; fails if the keyspace already exists.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStoreHandle(ctx, logger)
			if err != nil {
				return err
			}
			return store.CreateKeyspace(ctx, args[0])
		},
	}
}

func appendCmd(logger log.Logger) *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "append <keyspace> <key>",
		Short: "Append one record to a key, reading its payload from --payload or stdin.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStoreHandle(ctx, logger)
			if err != nil {
				return err
			}
			body := []byte(payload)
			if payload == "" {
				stdin, err := readAllStdin()
				if err != nil {
					return fmt.Errorf("read payload from stdin: %w", err)
				}
				body = stdin
			}
			return store.Append(ctx, args[0], args[1], []klstore.Insertion{{Payload: body}})
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "record payload; reads stdin if omitted")
	return cmd
}

func flushCmd(logger log.Logger) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "flush [keyspace] [key]",
		Short: "Flush a single key's pending batch, or every key with --all.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStoreHandle(ctx, logger)
			if err != nil {
				return err
			}
			if all {
				return store.FlushAll(ctx)
			}
			if len(args) != 2 {
				return fmt.Errorf("flush requires <keyspace> <key>, or --all")
			}
			return store.FlushKey(ctx, args[0], args[1])
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "flush every key with a pending batch instead of one key")
	return cmd
}

func readPageCmd(logger log.Logger) *cobra.Command {
	var (
		backward      bool
		pageSize      int
		startOffset   int64
		startTSMillis int64
		continuation  string
		latest        bool
	)
	cmd := &cobra.Command{
		Use:   "read-page <keyspace> <key>",
		Short: "Read one page of records, forward or backward, from a seek position.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStoreHandle(ctx, logger)
			if err != nil {
				return err
			}

			dir := klstore.Forward
			if backward {
				dir = klstore.Backward
			}

			start := klstore.Earliest()
			switch {
			case continuation != "":
				token, err := base64.StdEncoding.DecodeString(continuation)
				if err != nil {
					return fmt.Errorf("decode --continuation: %w", err)
				}
				start = klstore.AtContinuation(token)
			case latest:
				start = klstore.Latest()
			case startOffset >= 0:
				start = klstore.AtOffset(uint64(startOffset))
			case startTSMillis != 0:
				start = klstore.AtTimestamp(startTSMillis)
			}

			records, next, err := store.ReadPage(ctx, args[0], args[1], dir, start, pageSize)
			if err != nil {
				return err
			}
			for _, rec := range records {
				fmt.Printf("offset=%d nonce=%s timestamp=%d payload=%q\n", rec.Offset, rec.Nonce.String(), rec.Timestamp, rec.Payload)
			}
			if next != nil {
				fmt.Printf("continuation=%s\n", base64.StdEncoding.EncodeToString(next))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&backward, "backward", false, "page backward instead of forward")
	cmd.Flags().IntVar(&pageSize, "page-size", 100, "max records to return")
	cmd.Flags().Int64Var(&startOffset, "start-offset", -1, "seek to this offset before paging")
	cmd.Flags().Int64Var(&startTSMillis, "start-timestamp-millis", 0, "seek to this epoch-millis timestamp before paging")
	cmd.Flags().StringVar(&continuation, "continuation", "", "resume from a continuation token returned by a prior read-page")
	cmd.Flags().BoolVar(&latest, "latest", false, "seek to the newest record before paging")
	return cmd
}

func metadataCmd(logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "metadata <keyspace> <key>",
		Short: "Print a key's derived metadata (first/last offset, nonce, timestamp).",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStoreHandle(ctx, logger)
			if err != nil {
				return err
			}
			meta, err := store.KeyMetadata(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("%+v\n", meta)
			return nil
		},
	}
}

func serveIngestCmd(logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve-ingest",
		Short: "Run the Kafka ingestion bridge in front of the Batching Facade until terminated.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			cfg, err := loadFileConfig(configFile)
			if err != nil {
				return err
			}
			objStore, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			store, err := klstore.New(objStore, cfg.Store, logger)
			if err != nil {
				return fmt.Errorf("construct store: %w", err)
			}

			facade := batching.NewFacade(store.Writer, cfg.Batch, logger)
			defer facade.Close()

			bridge, err := ingest.New(cfg.Ingest, facade, logger)
			if err != nil {
				return fmt.Errorf("construct ingestion bridge: %w", err)
			}
			defer bridge.Close()

			go serveMetrics(logger)

			sigterm := make(chan os.Signal, 1)
			signal.Notify(sigterm, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigterm
				level.Info(logger).Log("msg", "received shutdown signal, cancelling ingestion")
				cancel()
			}()

			runErr := bridge.Run(ctx)
			if runErr != nil && runErr != context.Canceled {
				return runErr
			}

			flushCtx, flushCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer flushCancel()
			if err := facade.FlushAll(flushCtx); err != nil {
				level.Error(logger).Log("msg", "final flush on shutdown failed", "err", err)
			}
			return nil
		},
	}
}

func serveMetrics(logger log.Logger) {
	if metricsAddr == "" {
		metricsAddr = ":9090"
	}
	level.Info(logger).Log("msg", "serving prometheus metrics", "addr", metricsAddr)
	http.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(metricsAddr, nil); err != nil {
		level.Error(logger).Log("msg", "metrics server exited", "err", err)
	}
}

func readAllStdin() ([]byte, error) {
	return io.ReadAll(os.Stdin)
}
