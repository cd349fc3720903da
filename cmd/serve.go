package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/routesim/routesim/internal/archive"
	"github.com/routesim/routesim/internal/auth"
	"github.com/routesim/routesim/internal/httpapi"
	"github.com/routesim/routesim/internal/runner"
	"github.com/routesim/routesim/internal/sink"
	"github.com/routesim/routesim/internal/store"
	"github.com/routesim/routesim/internal/stream"
	"github.com/routesim/routesim/internal/telemetry"
	"github.com/routesim/routesim/sim/cluster"
)

var (
	// serve flags
	listenAddr      string        // HTTP listen address
	tick            time.Duration // Wall time between steps
	timeScale       float64       // Simulated seconds per wall second
	maxStep         float64       // Longest wall frame one step covers
	jwtSecret       string        // HMAC secret for write routes
	commandRate     float64       // Write requests per second
	commandBurst    int           // Write request burst
	kafkaBrokers    string        // Comma-separated broker list
	kafkaTopic      string        // Topic for step batches
	kafkaOnlyEvents bool          // Skip batches without events
	dbDriver        string        // sqlite or postgres
	dbDSN           string        // Database DSN or sqlite path
	resumeRun       string        // Run id whose latest stored snapshot is resumed
	snapshotEvery   time.Duration // Periodic snapshot interval
	s3Bucket        string        // Archive bucket
	s3Prefix        string        // Archive key prefix
	traceMaxRecords int           // Trace retention cap for long-running servers
)

// defaultServeTraceRecords caps trace retention when the config leaves it open.
const defaultServeTraceRecords = 100_000

// serveCmd runs the simulator in real time behind the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulator in real time with an HTTP control API",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := buildConfig(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		capTrace(cmd, &cfg)

		var db *store.SQLStore
		runID := uuid.NewString()
		if dbDSN != "" {
			db, err = store.Open(ctx, dbDriver, dbDSN)
			if err != nil {
				logrus.Fatalf("%v", err)
			}
			defer db.Close()
		}
		s, err := openSimulator(ctx, cfg, db)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if db != nil {
			if resumeRun != "" {
				runID = resumeRun
			} else {
				run, err := db.CreateRun(ctx, cfg.Mode, cfg.Seed)
				if err != nil {
					logrus.Fatalf("%v", err)
				}
				runID = run.ID
			}
		}

		collector := telemetry.NewCollector()
		hub := stream.NewHub()
		sinks := sink.Multi{collector, hub}
		if kafkaBrokers != "" {
			ks, err := sink.NewKafkaSink(sink.KafkaConfig{
				Brokers:    strings.Split(kafkaBrokers, ","),
				Topic:      kafkaTopic,
				OnlyEvents: kafkaOnlyEvents,
			})
			if err != nil {
				logrus.Fatalf("%v", err)
			}
			sinks = append(sinks, ks)
		}
		defer sinks.Close()

		rcfg := runner.DefaultConfig()
		rcfg.Tick = tick
		rcfg.TimeScale = timeScale
		rcfg.MaxStep = maxStep
		opts := []runner.Option{runner.WithSink(sinks)}
		apiOpts := httpapi.Options{Stream: hub, Metrics: collector.Handler()}
		if db != nil {
			rcfg.SnapshotEvery = snapshotEvery
			opts = append(opts, runner.WithStore(db))
			apiOpts.Store = db
		}
		if s3Bucket != "" {
			arch, err := archive.NewS3Archiver(ctx, s3Bucket, s3Prefix)
			if err != nil {
				logrus.Fatalf("%v", err)
			}
			opts = append(opts, runner.WithArchiver(arch))
		}
		r, err := runner.New(s, runID, rcfg, opts...)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		if jwtSecret != "" {
			if apiOpts.Verifier, err = auth.NewVerifier(jwtSecret, auth.CommandScope); err != nil {
				logrus.Fatalf("%v", err)
			}
		} else {
			logrus.Warn("no --jwt-secret set: write routes are open")
		}
		if commandRate > 0 {
			apiOpts.Limiter = rate.NewLimiter(rate.Limit(commandRate), commandBurst)
		}

		srv := &http.Server{
			Addr:              listenAddr,
			Handler:           httpapi.New(r, apiOpts).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go hub.Run(ctx)
		runErr := make(chan error, 1)
		go func() { runErr <- r.Run(ctx) }()
		go func() {
			logrus.Infof("routesim %s listening on %s", runID, listenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.Errorf("http server: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Warnf("http shutdown: %v", err)
		}
		if err := <-runErr; err != nil {
			logrus.Errorf("runner: %v", err)
		}
	},
}

// capTrace bounds trace retention for a simulator that never ends. An
// explicit --trace-max-records wins, then the config file, then the default.
func capTrace(cmd *cobra.Command, cfg *cluster.Config) {
	switch {
	case cmd.Flags().Changed("trace-max-records"):
		cfg.Trace.MaxRecords = traceMaxRecords
	case cfg.Trace.MaxRecords == 0:
		cfg.Trace.MaxRecords = defaultServeTraceRecords
	}
}

// openSimulator resumes --restore, then --resume-run from the store, else
// starts fresh.
func openSimulator(ctx context.Context, cfg cluster.Config, db *store.SQLStore) (*cluster.Simulator, error) {
	if resumeRun == "" || restorePath != "" {
		return newSimulator(cfg)
	}
	if db == nil {
		return nil, errors.New("--resume-run requires --db-dsn")
	}
	rec, err := db.LatestSnapshot(ctx, resumeRun)
	if err != nil {
		return nil, err
	}
	logrus.Infof("Resuming run %s at step %d", resumeRun, rec.Step)
	return cluster.RestoreSimulator(cfg, rec.Snapshot)
}

func init() {
	addSimulationFlags(serveCmd)
	serveCmd.Flags().StringVar(&listenAddr, "addr", ":8080", "HTTP listen address")
	serveCmd.Flags().DurationVar(&tick, "tick", 50*time.Millisecond, "Wall time between steps")
	serveCmd.Flags().Float64Var(&timeScale, "time-scale", 1, "Simulated seconds per wall second")
	serveCmd.Flags().Float64Var(&maxStep, "max-step", 0.05, "Longest wall frame a single step covers, in seconds")
	serveCmd.Flags().StringVar(&jwtSecret, "jwt-secret", os.Getenv("ROUTESIM_JWT_SECRET"), "HMAC secret protecting write routes (env ROUTESIM_JWT_SECRET)")
	serveCmd.Flags().Float64Var(&commandRate, "command-rate", 20, "Write requests per second (0 disables limiting)")
	serveCmd.Flags().IntVar(&commandBurst, "command-burst", 40, "Write request burst")
	serveCmd.Flags().StringVar(&kafkaBrokers, "kafka-brokers", "", "Comma-separated Kafka brokers for step batches")
	serveCmd.Flags().StringVar(&kafkaTopic, "kafka-topic", "routesim.steps", "Kafka topic for step batches")
	serveCmd.Flags().BoolVar(&kafkaOnlyEvents, "kafka-only-events", true, "Publish only batches that carry events")
	serveCmd.Flags().StringVar(&dbDriver, "db-driver", store.DriverSQLite, "Snapshot store driver (sqlite, postgres)")
	serveCmd.Flags().StringVar(&dbDSN, "db-dsn", "", "Snapshot store DSN or sqlite file path (empty disables)")
	serveCmd.Flags().StringVar(&resumeRun, "resume-run", "", "Resume the latest stored snapshot of this run id")
	serveCmd.Flags().DurationVar(&snapshotEvery, "snapshot-every", time.Minute, "Periodic snapshot interval (0 disables)")
	serveCmd.Flags().StringVar(&s3Bucket, "s3-bucket", "", "Archive the final snapshot to this S3 bucket")
	serveCmd.Flags().StringVar(&s3Prefix, "s3-prefix", "routesim", "S3 key prefix")
	serveCmd.Flags().IntVar(&traceMaxRecords, "trace-max-records", defaultServeTraceRecords, "Trace outcomes and samples retained each before the oldest half is dropped")

	rootCmd.AddCommand(serveCmd)
}
