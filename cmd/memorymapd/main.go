package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/lanikai/memorymap"
	"github.com/lanikai/memorymap/internal/logging"
	"github.com/lanikai/memorymap/internal/mq"
	"github.com/lanikai/memorymap/internal/shm"
	"github.com/lanikai/memorymap/processor"
)

// Populated via -ldflags="-X ...".
var GitRevisionId string

var log = logging.DefaultLogger.WithTag("memorymapd")

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		version()
		os.Exit(0)
	}

	if err := logging.Configure(flagLogLevel); err != nil {
		log.Fatalf("%v", err)
	}

	cfg := memorymap.DefaultConfig()
	if flagConfig != "" {
		var err error
		if cfg, err = memorymap.LoadConfig(flagConfig); err != nil {
			log.Fatalf("%v", err)
		}
	}
	if flag.CommandLine.Changed("namespace") {
		cfg.Namespace = flagNamespace
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	transform, err := processor.Lookup(flagTransform)
	if err != nil {
		log.Fatalf("%v", err)
	}

	q, err := attach(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer q.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := processor.New(transform, flagWorkers)
	if err := p.Serve(ctx, q); err != nil {
		log.Error("%v", err)
	}

	stats := p.Stats()
	log.Info("Handled %d frame(s), %d failed", stats.Handled, stats.Failed)
}

// Attach to the filter's queue, creating it if the filter has not run yet so
// the processor can start first.
func attach(cfg memorymap.Config) (*mq.Queue, error) {
	q, err := mq.Open(cfg.QueueName(), cfg.QueueCapacity, shm.DescriptorSize)
	if err != nil {
		return nil, err
	}
	q.Close()
	return mq.Attach(cfg.QueueName())
}
