// Command zikir-client is an offline-first counting client. Taps are kept
// in a local SQLite queue and reconciled with the server in bulk.
//
//	zikir-client tap -room fajr -user u1 -n 33
//	zikir-client sync -user u1
//	zikir-client pending
//	zikir-client simulate -rooms 3 -failure 0.3
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/okian/zikir/internal/client/queue"
	"github.com/okian/zikir/internal/client/storage"
	"github.com/okian/zikir/internal/client/syncer"
	"github.com/okian/zikir/internal/offlinesim"
	"github.com/okian/zikir/pkg/logger"
)

// Default configuration constants.
const (
	defaultURL         = "http://localhost:9080"
	defaultDB          = "zikir-client.db"
	defaultTimeout     = 10 * time.Second
	defaultSimTimeout  = 10 * time.Minute
	defaultSimWorkers  = 2 // multiplier for runtime.NumCPU()
	defaultClientLevel = "warn"
)

var errUsage = errors.New("usage: zikir-client <tap|sync|pending|simulate> [flags]")

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "tap":
		return runTap(ctx, rest, out)
	case "sync":
		return runSync(ctx, rest, out)
	case "pending":
		return runPending(ctx, rest, out)
	case "simulate":
		return runSimulate(ctx, rest, out)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

// common holds the flags shared by the queue commands.
type common struct {
	url     string
	db      string
	timeout  time.Duration
	maxBatch int
	verbose  bool
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.url, "url", envOr("ZIKIR_CLIENT_URL", defaultURL), "Base URL of the service")
	fs.StringVar(&c.db, "db", envOr("ZIKIR_CLIENT_DB", defaultDB), "SQLite file holding pending taps")
	fs.DurationVar(&c.timeout, "timeout", defaultTimeout, "HTTP request timeout")
	fs.IntVar(&c.maxBatch, "max-batch", syncer.DefaultMaxBatch, "Taps per bulk request before the server asks for less")
	fs.BoolVar(&c.verbose, "verbose", false, "Enable verbose logging")
}

// session is an open queue and the sync client over it.
type session struct {
	store  *storage.SQLiteStorage
	queue  *queue.CountQueue
	client *syncer.Client
}

func (c *common) open(ctx context.Context) (*session, error) {
	level := defaultClientLevel
	if c.verbose {
		level = "debug"
	}
	if err := logger.Init(logger.WithWriter(os.Stderr), logger.WithLevel(level)); err != nil {
		return nil, err
	}

	store, err := storage.OpenSQLite(ctx, c.db)
	if err != nil {
		return nil, err
	}
	q, err := queue.Open(ctx, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	// Entries confirmed by an earlier run are past their grace delay.
	if _, err := q.Purge(ctx); err != nil {
		q.Close()
		_ = store.Close()
		return nil, err
	}
	transport := syncer.NewHTTPTransport(c.url, &http.Client{Timeout: c.timeout})
	return &session{store: store, queue: q, client: syncer.New(q, transport, syncer.WithMaxBatch(c.maxBatch))}, nil
}

func (s *session) close() {
	s.queue.Close()
	_ = s.store.Close()
}

func runTap(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("tap", flag.ContinueOnError)
	var c common
	c.register(fs)
	room := fs.String("room", "", "Room to count in")
	user := fs.String("user", os.Getenv("ZIKIR_CLIENT_USER"), "User id sent as X-User-ID")
	n := fs.Int("n", 1, "Number of taps")
	offline := fs.Bool("offline", false, "Queue the taps without syncing")
	live := fs.Bool("live", false, "Send each tap as a live count instead of queueing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *room == "" || *user == "" || *n < 1 {
		return fmt.Errorf("%w: tap needs -room, -user and a positive -n", errUsage)
	}

	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	if *live {
		for range *n {
			counter, err := s.client.CountNow(ctx, *room, *user)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "current %d today %d total %d\n", counter.CurrentCount, counter.TodayCount, counter.TotalCount)
		}
		return nil
	}

	for range *n {
		if _, err := s.client.Tap(ctx, *room, *user); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "queued %d, pending %d\n", *n, s.queue.PendingCount(*room, *user))
	if *offline {
		return nil
	}
	rep, _ := s.client.SetOnline(ctx, true)
	return printReport(out, rep)
}

func runSync(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	var c common
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	rep, _ := s.client.SetOnline(ctx, true)
	return printReport(out, rep)
}

func runPending(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("pending", flag.ContinueOnError)
	var c common
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCAL ID\tROOM\tUSER\tPENDING\tSTATE")
	for _, e := range s.queue.Entries() {
		state := "pending"
		switch {
		case e.Rejected:
			state = "rejected: " + e.RejectReason
		case e.Synced:
			state = "synced"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", e.LocalID, e.RoomID, e.UserID, e.Pending(), state)
	}
	return tw.Flush()
}

func printReport(out io.Writer, rep syncer.Report) error {
	fmt.Fprintf(out, "sync %s: %d synced, %d applied, %d duplicates\n",
		rep.State, rep.Synced(), rep.Applied, rep.Duplicates)
	for _, e := range rep.Errors {
		fmt.Fprintf(out, "  %v\n", e)
	}
	if rep.State == syncer.StateFailed {
		return errors.New("sync failed")
	}
	return nil
}

func runSimulate(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	cfg := &offlinesim.Config{}
	fs.StringVar(&cfg.BaseURL, "url", envOr("ZIKIR_CLIENT_URL", defaultURL), "Base URL of the service")
	fs.IntVar(&cfg.Rooms, "rooms", offlinesim.DefaultRooms, "Number of rooms to create")
	fs.IntVar(&cfg.Users, "users", offlinesim.DefaultUsers, "Users per room")
	fs.IntVar(&cfg.DevicesPerUser, "devices", offlinesim.DefaultDevicesPerUser, "Devices per user")
	fs.IntVar(&cfg.TapsPerDevice, "taps", offlinesim.DefaultTapsPerDevice, "Taps per device")
	fs.IntVar(&cfg.Workers, "workers", runtime.NumCPU()*defaultSimWorkers, "Devices simulated concurrently")
	fs.Float64Var(&cfg.FailureRate, "failure", offlinesim.DefaultFailureRate, "Chance a bulk request or its reply is lost")
	fs.Float64Var(&cfg.OfflineRate, "offline", offlinesim.DefaultOfflineRate, "Chance a device drops offline before a tap")
	fs.IntVar(&cfg.SyncRounds, "rounds", offlinesim.DefaultSyncRounds, "Flaky sync rounds before the network settles")
	fs.DurationVar(&cfg.Timeout, "timeout", offlinesim.DefaultTimeout, "HTTP request timeout")
	fs.IntVar(&cfg.MaxBatch, "max-batch", syncer.DefaultMaxBatch, "Taps per bulk request before the server asks for less")
	fs.Uint64Var(&cfg.Seed, "seed", uint64(time.Now().UnixNano()), "Seed for the failure pattern")
	fs.StringVar(&cfg.LogFile, "log", "", "Log file (default: offlinesim_TIMESTAMP.log)")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	closer, err := offlinesim.SetupLogging(cfg.LogFile, cfg.Verbose)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := context.WithTimeout(ctx, defaultSimTimeout)
	defer cancel()

	stats, err := offlinesim.Run(ctx, cfg)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}
	fmt.Fprintf(out, "verified %d rooms: %d taps over %d bulk requests, %d duplicates absorbed\n",
		stats.RoomsVerified, stats.Taps, stats.BulkRequests, stats.Duplicates)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
