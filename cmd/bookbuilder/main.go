package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"bookbuilder/config"
	"bookbuilder/domain/event"
	"bookbuilder/infra/codec"
	"bookbuilder/infra/journal"
	"bookbuilder/infra/kafka"
	"bookbuilder/infra/outbox"
	"bookbuilder/infra/ws"
	"bookbuilder/jobs/broadcaster"
	"bookbuilder/logging"
	"bookbuilder/metrics"
	"bookbuilder/service"
)

func main() {
	fs := pflag.NewFlagSet("bookbuilder", pflag.ExitOnError)
	configPath := fs.String("config", "", "config file (toml, yaml or json)")
	fs.String("source", "journal", "event feed: journal, kafka or ws")
	fs.String("codec", "binary", "message codec for kafka and ws: binary or json")
	fs.String("journal-dir", "data/journal", "journal directory to replay")
	fs.String("record", "", "also append every consumed event to a journal in this directory")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("metrics", "", "serve Prometheus metrics on this address")
	fs.Bool("strict", false, "stop on duplicate, unknown or invalid orders")
	printBBO := fs.Bool("print", false, "print the final best bid/offer of every symbol to stdout")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	err = run(cfg, log, *printBBO)
	if err != nil {
		log.Error("bookbuilder stopped", zap.Error(err))
	}
	exit(log, err)
}

var osExit = os.Exit

// exit flushes log before leaving; os.Exit skips deferred calls.
func exit(log *zap.Logger, err error) {
	_ = log.Sync()
	if err != nil {
		osExit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger, printBBO bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------- Metrics ----------------

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics endpoint", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	// ---------------- Outbox + broadcaster ----------------

	var opts []service.Option
	if cfg.Outbox.Enabled {
		ob, err := outbox.Open(cfg.Outbox.Dir, nil)
		if err != nil {
			return err
		}
		defer ob.Close()

		last, err := ob.LastSeq()
		if err != nil {
			return fmt.Errorf("outbox last seq: %w", err)
		}
		opts = append(opts, service.WithOutbox(ob, last))

		producer, err := broadcaster.NewProducer(cfg.Broadcaster.Brokers)
		if err != nil {
			return fmt.Errorf("broadcaster producer: %w", err)
		}
		bc := broadcaster.New(ob, producer, cfg.Broadcaster.Topic, log, m)
		defer bc.Close()

		bcCtx, bcStop := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			bc.Run(bcCtx, cfg.Broadcaster.Interval)
		}()
		// Runs before ob.Close and bc.Close.
		defer func() {
			bcStop()
			<-done
		}()
	}

	// ---------------- Service ----------------

	svc := service.New(service.Config{Strict: cfg.Book.Strict, Capacity: cfg.Book.Capacity}, log, m, opts...)

	src, err := newSource(cfg, log)
	if err != nil {
		return err
	}

	sinks := []func(event.Event) error{svc.Apply}
	if cfg.Journal.RecordDir != "" {
		w, err := journal.Open(journal.Config{
			Dir:         cfg.Journal.RecordDir,
			SegmentSize: cfg.Journal.SegmentSize,
			Sync:        cfg.Journal.Sync,
		})
		if err != nil {
			return fmt.Errorf("record journal: %w", err)
		}
		defer w.Close()
		sinks = append([]func(event.Event) error{func(e event.Event) error {
			_, err := w.Append(e)
			return err
		}}, sinks...)
	}
	if cfg.Kafka.PublishTopic != "" {
		c, _ := codec.ByName(cfg.Codec)
		p := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.PublishTopic, c)
		defer p.Close()
		sinks = append(sinks, func(e event.Event) error { return p.Publish(ctx, e) })
	}

	log.Info("consuming", zap.String("source", cfg.Source), zap.String("codec", cfg.Codec))
	runErr := src.Run(ctx, service.Tee(sinks...))
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	stats := svc.Stats()
	log.Info("feed finished",
		zap.Int("live_orders", svc.Len()),
		zap.Uint64("last_seq", svc.LastSeq()),
		zap.Uint64("adds", stats.Adds),
		zap.Uint64("updates", stats.Updates),
		zap.Uint64("deletes", stats.Deletes))

	for _, sym := range svc.Symbols() {
		q := svc.BBO(sym)
		log.Info("bbo",
			zap.String("symbol", string(sym)),
			zap.Float64("bid", q.Bid.Price), zap.Float64("bid_size", q.Bid.Size), zap.Int("bid_orders", q.Bid.Count),
			zap.Float64("ask", q.Ask.Price), zap.Float64("ask_size", q.Ask.Size), zap.Int("ask_orders", q.Ask.Count))
		if printBBO {
			fmt.Printf("%-12s %14g x %-10g | %14g x %-10g\n", sym, q.Bid.Price, q.Bid.Size, q.Ask.Price, q.Ask.Size)
		}
	}
	return runErr
}

func newSource(cfg *config.Config, log *zap.Logger) (service.Source, error) {
	c, err := codec.ByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	switch cfg.Source {
	case "journal":
		return journal.Source{Dir: cfg.Journal.Dir}, nil
	case "kafka":
		return &kafka.Source{
			Reader: kafka.NewReader(kafka.ReaderConfig{
				Brokers: cfg.Kafka.Brokers,
				Topic:   cfg.Kafka.Topic,
				GroupID: cfg.Kafka.GroupID,
			}),
			Codec:  c,
			Logger: log,
		}, nil
	case "ws":
		var sub []byte
		if cfg.WS.Subscribe != "" {
			sub = []byte(cfg.WS.Subscribe)
		}
		return &ws.Source{
			URL:          cfg.WS.URL,
			Subscribe:    sub,
			Codec:        c,
			Logger:       log,
			ReadTimeout:  cfg.WS.ReadTimeout,
			PingInterval: cfg.WS.PingInterval,
		}, nil
	}
	return nil, fmt.Errorf("unknown source %q", cfg.Source)
}
