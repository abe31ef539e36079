package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/subcache"
	"github.com/unkn0wn-root/subcache/codec"
	"github.com/unkn0wn-root/subcache/feed/redisfeed"
	asynchook "github.com/unkn0wn-root/subcache/hooks/async"
	zaplog "github.com/unkn0wn-root/subcache/log/zap"
	"github.com/unkn0wn-root/subcache/metrics/promhooks"
)

const userCount = 20

type runOptions struct {
	configPath  string
	subscribers int
	failRate    float64
	latency     time.Duration
	duration    time.Duration
	mutateEvery time.Duration
	metricsAddr string
	redisAddr   string
	debug       bool
}

func runCmd() *cobra.Command {
	var o runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the demo",
		Long:  "Start watchers over users and user ranges, mutate rows periodically and print every value the watchers see",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDemo(ctx, cmd.OutOrStdout(), o)
		},
	}

	cmd.Flags().StringVar(&o.configPath, "config", "", "YAML cache config (initial_delay, multiplier, max_delay, auto_refetch)")
	cmd.Flags().IntVar(&o.subscribers, "subscribers", 8, "Number of watchers")
	cmd.Flags().Float64Var(&o.failRate, "fail-rate", 0.2, "Probability that a backend call fails")
	cmd.Flags().DurationVar(&o.latency, "latency", 50*time.Millisecond, "Backend latency")
	cmd.Flags().DurationVar(&o.duration, "duration", 5*time.Second, "How long to run")
	cmd.Flags().DurationVar(&o.mutateEvery, "mutate-every", 500*time.Millisecond, "Interval between row writes (0 disables)")
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().StringVar(&o.redisAddr, "redis-addr", "", "Share mutations with other demo processes through Redis Pub/Sub")
	cmd.Flags().BoolVar(&o.debug, "debug", false, "Debug logging")

	return cmd
}

func loadOptions(path string) (subcache.Options, error) {
	if path == "" {
		return subcache.Options{AutoRefetch: true}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return subcache.Options{}, err
	}
	defer f.Close()
	cfg, err := subcache.LoadConfig(f)
	if err != nil {
		return subcache.Options{}, err
	}
	return cfg.Options(), nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// publisher applies a mutation locally and, with a feed, to every peer.
type publisher func(ctx context.Context, m change) error

func runDemo(ctx context.Context, out io.Writer, o runOptions) error {
	if o.subscribers <= 0 {
		return errors.New("--subscribers must be positive")
	}
	if o.failRate < 0 || o.failRate > 1 {
		return fmt.Errorf("--fail-rate %v is not in [0, 1]", o.failRate)
	}

	zl, err := newLogger(o.debug)
	if err != nil {
		return err
	}
	defer zl.Sync()

	opts, err := loadOptions(o.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	reg := prometheus.NewRegistry()
	hooks := asynchook.New(promhooks.New(reg, promhooks.Options{Namespace: "demo"}), 1, 1024)
	defer hooks.Close()
	opts.Logger = zaplog.ZapLogger{L: zl}
	opts.Hooks = hooks

	c, err := subcache.New[change](opts)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.Close(closeCtx); err != nil {
			zl.Warn("cache close", zap.Error(err))
		}
	}()

	if o.metricsAddr != "" {
		srv := &http.Server{Addr: o.metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				zl.Error("metrics server", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	publish := publisher(func(_ context.Context, m change) error {
		c.Invalidate(m)
		return nil
	})
	if o.redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: o.redisAddr})
		defer rdb.Close()
		feed, err := redisfeed.New(redisfeed.Config[change]{
			Client: rdb,
			Cache:  c,
			Codec:  codec.Limit[change]{Inner: codec.JSON[change]{}, MaxDecode: 1 << 10},
			Logger: opts.Logger,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := feed.Run(ctx); err != nil {
				zl.Error("feed stopped", zap.Error(err))
			}
		}()
		publish = feed.Publish
	}

	db := newBackend(o.latency, o.failRate)
	runCtx, cancel := context.WithTimeout(ctx, o.duration)
	defer cancel()

	var (
		outMu sync.Mutex
		wg    sync.WaitGroup
	)
	printf := func(format string, args ...any) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	// Half the watchers follow single users, the rest follow ranges; the first
	// range watcher asks for every user so the narrower ranges can be cut from it.
	for i := 0; i < o.subscribers; i++ {
		var err error
		if i%2 == 0 {
			err = watchUser(runCtx, &wg, c, userByID{ID: i % userCount, db: db}, i, printf)
		} else {
			lo, hi := 0, userCount
			if i > 1 {
				lo = (i * 3) % (userCount - 5)
				hi = lo + 5
			}
			err = watchRange(runCtx, &wg, c, userRange{Lo: lo, Hi: hi, db: db}, i, printf)
		}
		if err != nil {
			return err
		}
	}

	if o.mutateEvery > 0 {
		t := time.NewTicker(o.mutateEvery)
		defer t.Stop()
	loop:
		for {
			select {
			case <-runCtx.Done():
				break loop
			case <-t.C:
				m := db.write(rand.IntN(userCount))
				if err := publish(runCtx, m); err != nil {
					zl.Warn("publish", zap.Error(err))
				}
			}
		}
	} else {
		<-runCtx.Done()
	}
	wg.Wait()

	printf("entries=%d backend_calls=%d dropped_hook_events=%d\n", c.Len(), db.callCount(), hooks.Dropped())
	return nil
}

func watchUser(ctx context.Context, wg *sync.WaitGroup, c *subcache.Cache[change], req userByID, n int, printf func(string, ...any)) error {
	w, err := subcache.Watch(c, req)
	if err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case v := <-w.Values():
				u, ok := v.Data()
				if !ok {
					printf("watcher %d %s: loading\n", n, req)
					continue
				}
				printf("watcher %d %s: %s v%d valid=%t\n", n, req, u.Name, u.Version, v.Valid())
			}
		}
	}()
	return nil
}

func watchRange(ctx context.Context, wg *sync.WaitGroup, c *subcache.Cache[change], req userRange, n int, printf func(string, ...any)) error {
	w, err := subcache.Watch(c, req)
	if err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case v := <-w.Values():
				us, ok := v.Data()
				if !ok {
					printf("watcher %d %s: loading\n", n, req)
					continue
				}
				total := 0
				for _, u := range us {
					total += u.Version
				}
				printf("watcher %d %s: %d users, %d writes valid=%t\n", n, req, len(us), total, v.Valid())
			}
		}
	}()
	return nil
}
