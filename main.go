package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HeRaNO/sandbox-judge-worker/config"
	"github.com/HeRaNO/sandbox-judge-worker/consumer"
	"github.com/HeRaNO/sandbox-judge-worker/environment"
	"github.com/HeRaNO/sandbox-judge-worker/judge"
	"github.com/HeRaNO/sandbox-judge-worker/metrics"
	"github.com/HeRaNO/sandbox-judge-worker/sandbox"
	"github.com/HeRaNO/sandbox-judge-worker/sandbox/container"
	"github.com/HeRaNO/sandbox-judge-worker/sandbox/isolate"
	"github.com/HeRaNO/sandbox-judge-worker/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func init() {
	container.Reexec()
}

func main() {
	configFile := flag.String("c", "./config.yaml", "the path of configure file")
	flag.Parse()

	conf, err := config.Load(*configFile)
	if err != nil {
		log.Fatalln("[FAILED] init config:", err)
	}
	conf.Environments = append(conf.Environments, flag.Args()...)

	logger, err := util.NewLogger(conf.Log.Release, conf.Log.Debug, conf.Log.Silent)
	if err != nil {
		log.Fatalln("[FAILED] init logger:", err)
	}
	defer logger.Sync()

	if err := run(conf, logger); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func run(conf *config.Configure, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newStore(conf.Definitions)
	if err != nil {
		return err
	}
	defer closeStore()

	driver, err := newDriver(conf.Sandbox, logger)
	if err != nil {
		return err
	}
	slot := sandbox.NewSlot(driver)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, conf.Environments)

	pipeline := judge.New(judge.Options{
		Store:       store,
		Slot:        slot,
		BuildLimits: conf.Sandbox.Build.Limitation(),
		RunLimits:   conf.Sandbox.Run.Limitation(),
		Metrics:     m,
		Logger:      logger,
	})

	conn, ch, err := consumer.Dial(conf.MQ.URL())
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Info("connected to broker", zap.String("host", conf.MQ.IP), zap.Int("port", conf.MQ.Port))

	c := consumer.New(ch, pipeline, consumer.Options{
		Exchange:            conf.MQ.Exchange,
		DeadLetterExchange:  conf.MQ.DeadLetterExchange,
		Environments:        conf.Environments,
		RejectInternalError: conf.MQ.RejectInternalError,
		Metrics:             m,
		Logger:              logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	if conf.Metrics.Enable {
		srv := &http.Server{Addr: conf.Metrics.Addr, Handler: metricsMux(reg)}
		g.Go(func() error {
			logger.Info("serving metrics", zap.String("addr", conf.Metrics.Addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		})
	}
	return g.Wait()
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	return mux
}

func newStore(conf config.DefinitionConfig) (environment.Store, func(), error) {
	var store environment.Store
	closeStore := func() {}
	switch conf.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     conf.Redis.Addr,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		store = environment.NewRedisStore(client, conf.Redis.Prefix)
		closeStore = func() { client.Close() }
	case config.BackendFile:
		store = environment.NewFileStore(conf.Dir)
	default:
		return nil, nil, fmt.Errorf("unknown definition backend %q", conf.Backend)
	}
	if conf.Cache {
		store = environment.NewCached(store)
	}
	return store, closeStore, nil
}

func newDriver(conf config.SandboxConfig, logger *zap.Logger) (sandbox.Driver, error) {
	logger = logger.With(zap.String("driver", conf.Driver), zap.Int("boxId", conf.BoxID))
	switch conf.Driver {
	case config.DriverIsolate:
		return isolate.New(isolate.Options{
			Bin:     conf.Isolate.Bin,
			BoxID:   conf.BoxID,
			Cgroups: conf.Isolate.Cgroups,
			MetaDir: conf.Isolate.MetaDir,
			Logger:  logger,
		}), nil
	case config.DriverContainer:
		factory, err := container.NewFactory(conf.Rootfs.StateDir)
		if err != nil {
			return nil, fmt.Errorf("init container factory: %w", err)
		}
		return container.New(container.Options{
			Factory:    factory,
			RootfsPath: conf.Rootfs.RootfsPath,
			SlotsDir:   conf.Rootfs.SlotsDir,
			WorkDir:    conf.Rootfs.WorkDir,
			WorkUser:   conf.Rootfs.WorkUser,
			BoxID:      conf.BoxID,
			Logger:     logger,
		}), nil
	}
	return nil, fmt.Errorf("unknown sandbox driver %q", conf.Driver)
}
