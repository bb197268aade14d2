package offlinesim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/zikir/internal/client/queue"
	"github.com/okian/zikir/internal/client/storage"
	"github.com/okian/zikir/internal/client/syncer"
	"github.com/okian/zikir/pkg/logger"
)

// ErrNotConverged means a device still had taps pending after the network
// settled.
var ErrNotConverged = errors.New("pending taps did not drain")

type device struct {
	roomID string
	userID string
	stream uint64
}

// Run executes a complete simulation and verifies the server's totals.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	applyDefaults(config)
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get().Named("offlinesim")

	log.Info(ctx, "starting offline simulation",
		logger.String("baseURL", config.BaseURL),
		logger.String("runId", config.RunID),
		logger.Int("rooms", config.Rooms),
		logger.Int("users", config.Users),
		logger.Int("devicesPerUser", config.DevicesPerUser),
		logger.Int("tapsPerDevice", config.TapsPerDevice),
		logger.Float64("failureRate", config.FailureRate),
		logger.Float64("offlineRate", config.OfflineRate))

	client := newHTTPClient(config.BaseURL, config.Timeout)

	// Step 1: Check service health
	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Create rooms
	rooms := make([]string, config.Rooms)
	for r := range rooms {
		rooms[r] = fmt.Sprintf("%s-room-%d", config.RunID, r)
		if err := client.CreateRoom(ctx, adminUser, rooms[r]); err != nil {
			return nil, fmt.Errorf("create room: %w", err)
		}
	}

	// Step 3: Count from every device through the flaky network
	var devices []device
	expected := make(map[string]map[string]int64, len(rooms))
	for _, room := range rooms {
		expected[room] = make(map[string]int64, config.Users)
		for u := 0; u < config.Users; u++ {
			user := fmt.Sprintf("%s-user-%d", config.RunID, u)
			expected[room][user] = int64(config.DevicesPerUser * config.TapsPerDevice)
			for d := 0; d < config.DevicesPerUser; d++ {
				devices = append(devices, device{roomID: room, userID: user, stream: uint64(len(devices))})
			}
		}
	}
	if err := runDevices(ctx, config, devices, stats); err != nil {
		return stats, err
	}

	// Step 4: Verify the server's totals
	if err := verifyTotals(ctx, client, expected, stats); err != nil {
		return stats, fmt.Errorf("result verification failed: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)
	return stats, nil
}

func applyDefaults(c *Config) {
	if c.Rooms <= 0 {
		c.Rooms = DefaultRooms
	}
	if c.Users <= 0 {
		c.Users = DefaultUsers
	}
	if c.DevicesPerUser <= 0 {
		c.DevicesPerUser = DefaultDevicesPerUser
	}
	if c.TapsPerDevice <= 0 {
		c.TapsPerDevice = DefaultTapsPerDevice
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.SyncRounds <= 0 {
		c.SyncRounds = DefaultSyncRounds
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RunID == "" {
		c.RunID = uuid.NewString()[:8]
	}
}

// runDevices simulates devices with a bounded worker pool.
func runDevices(ctx context.Context, config *Config, devices []device, stats *Stats) error {
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	work := make(chan device, config.Workers)

	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range work {
				local := Stats{}
				err := runDevice(ctx, config, d, &local)
				mu.Lock()
				stats.Devices++
				stats.Taps += local.Taps
				stats.BulkRequests += local.BulkRequests
				stats.LostRequests += local.LostRequests
				stats.LostReplies += local.LostReplies
				stats.Duplicates += local.Duplicates
				stats.OfflineToggles += local.OfflineToggles
				if err != nil {
					errs = append(errs, err)
				}
				mu.Unlock()
			}
		}()
	}

	go func() {
		defer close(work)
		for _, d := range devices {
			select {
			case <-ctx.Done():
				return
			case work <- d:
			}
		}
	}()

	wg.Wait()
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func runDevice(ctx context.Context, config *Config, d device, stats *Stats) error {
	q, err := queue.Open(ctx, storage.NewMemoryStorage(), queue.WithGrace(10*time.Millisecond))
	if err != nil {
		return err
	}
	defer q.Close()

	flaky := newFlakyTransport(syncer.NewHTTPTransport(config.BaseURL, &http.Client{Timeout: config.Timeout}),
		config.FailureRate, config.Seed, d.stream)
	defer flaky.addTo(stats)
	c := syncer.New(q, flaky,
		syncer.WithMaxBatch(config.MaxBatch),
		syncer.WithLogger(logger.Get().Named("offlinesim-device")))
	rng := rand.New(rand.NewPCG(config.Seed, d.stream|1<<32))

	c.SetOnline(ctx, true)
	for i := 1; i <= config.TapsPerDevice; i++ {
		if rng.Float64() < config.OfflineRate {
			c.SetOnline(ctx, !c.Online())
			stats.OfflineToggles++
		}
		if _, err := c.Tap(ctx, d.roomID, d.userID); err != nil {
			return fmt.Errorf("device %s/%s tap %d: %w", d.roomID, d.userID, i, err)
		}
		stats.Taps++
		if i%explicitSyncInterval == 0 && c.Online() {
			c.Sync(ctx)
		}
	}

	drain := func(rounds int) {
		for r := 0; r < rounds && q.PendingCount(d.roomID, d.userID) > 0; r++ {
			if _, ran := c.SetOnline(ctx, true); !ran {
				c.Sync(ctx)
			}
		}
	}
	drain(config.SyncRounds)
	flaky.settle()
	drain(settleRounds)

	if n := q.PendingCount(d.roomID, d.userID); n > 0 {
		return fmt.Errorf("%w: device %s/%s has %d", ErrNotConverged, d.roomID, d.userID, n)
	}
	for _, e := range q.Entries() {
		if e.Rejected {
			return fmt.Errorf("device %s/%s: entry %s rejected: %s", d.roomID, d.userID, e.LocalID, e.RejectReason)
		}
	}
	return nil
}

// displayFinalStats logs the final simulation statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var tapsPerSecond float64
	if stats.Duration > 0 {
		tapsPerSecond = float64(stats.Taps) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("devices", stats.Devices),
		logger.Int("taps", stats.Taps),
		logger.Int("bulkRequests", stats.BulkRequests),
		logger.Int("lostRequests", stats.LostRequests),
		logger.Int("lostReplies", stats.LostReplies),
		logger.Int("duplicates", stats.Duplicates),
		logger.Int("offlineToggles", stats.OfflineToggles),
		logger.Int("roomsVerified", stats.RoomsVerified),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("tapsPerSecond", tapsPerSecond))
}
