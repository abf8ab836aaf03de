package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/config"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/optimizer"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/relay"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the optimizer cadence, event sweeper and relays",
		Long: `Open the store and run the background loops of the queue core
until interrupted:

  - the optimizer pass, every optimizer.interval
  - the event sweeper (retention, acknowledgment redelivery)
  - the AMQP and Kafka relays, when configured

Exit codes:
  0 - Stopped by SIGINT/SIGTERM
  1 - A loop failed
  2 - Command error (bad config, store cannot be opened, etc.)

Examples:
  queuecore serve --config queuecore.yaml
  queuecore serve -v`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd)
		},
	}
	return cmd
}

func runServe(opts *RootOptions, cmd *cobra.Command) error {
	f := formatter(opts, cmd)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	a, err := openApp(ctx, opts)
	if err != nil {
		return fail(f, "failed to start", err)
	}
	defer a.Close()

	relays, err := buildRelays(a)
	if err != nil {
		return fail(f, "failed to start relays", err)
	}

	sched := optimizer.NewScheduler(a.opt, a.cfg.Optimizer.Interval, optimizer.Scope{})
	sched.Trigger()
	loops := []func(context.Context) error{a.sync.Run, sched.Run}
	for _, r := range relays {
		loops = append(loops, r.Run)
	}

	slog.Info("queuecore serving",
		"store", a.cfg.Store.Path,
		"cache", a.cfg.Cache.Backend,
		"relays", len(relays),
		"last_seq", a.sync.LastSeq(),
	)

	if err := runLoops(ctx, cancel, loops); err != nil {
		return fail(f, "serve failed", err)
	}
	slog.Info("queuecore stopped", "events", a.sync.Stats().Published)
	return nil
}

// runLoops runs every loop until ctx ends. The first loop to fail cancels
// the rest; its error is returned. Cancellation is not an error.
func runLoops(ctx context.Context, cancel context.CancelFunc, loops []func(context.Context) error) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(loops))
	for _, run := range loops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
				cancel()
			}
		}()
	}
	wg.Wait()
	close(errCh)
	return <-errCh
}

// buildRelays returns one relay per configured sink. Each relay holds its
// own subscription, so a slow broker never stalls the other.
func buildRelays(a *app) ([]*relay.Relay, error) {
	var relays []*relay.Relay
	logger := a.logger.With("component", "relay")

	if a.cfg.Relay.AMQP.URL != "" {
		sink, err := relay.DialAMQP(a.cfg.Relay.AMQP)
		if err != nil {
			return nil, err
		}
		relays = append(relays, relay.New(a.sync, []relay.Sink{sink},
			relay.WithName("relay-amqp"), relay.WithLogger(logger)))
	}
	if kafkaEnabled(a.cfg.Relay.Kafka) {
		sink := relay.NewKafkaSink(relay.NewKafkaWriter(a.cfg.Relay.Kafka), a.cfg.Relay.Kafka.Topic)
		relays = append(relays, relay.New(a.sync, []relay.Sink{sink},
			relay.WithName("relay-kafka"), relay.WithLogger(logger)))
	}
	return relays, nil
}

func kafkaEnabled(k config.Kafka) bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}
