// Package offlinesim drives simulated devices that count through flaky
// connectivity against a running server and checks that every tap is
// counted exactly once.
package offlinesim

import "time"

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL        string        // Base URL of the service
	Rooms          int           // Number of public rooms to create
	Users          int           // Users per room
	DevicesPerUser int           // Devices each user counts from
	TapsPerDevice  int           // Taps each device makes
	Workers        int           // Devices simulated concurrently
	FailureRate    float64       // Chance a bulk request or its reply is lost
	OfflineRate    float64       // Chance a device drops offline before a tap
	SyncRounds     int           // Flaky sync rounds before the network settles
	MaxBatch       int           // Starting cap on taps per bulk request
	Timeout        time.Duration // HTTP request timeout
	Seed           uint64        // Seed for the failure pattern
	RunID          string        // Prefix for room and user ids
	LogFile        string        // Log file for simulation output
	Verbose        bool          // Enable verbose logging
}

// Stats holds simulation statistics.
type Stats struct {
	Devices        int
	Taps           int
	BulkRequests   int
	LostRequests   int
	LostReplies    int
	Duplicates     int
	OfflineToggles int
	RoomsVerified  int
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
}

// Default configuration values.
const (
	DefaultRooms          = 3
	DefaultUsers          = 4
	DefaultDevicesPerUser = 2
	DefaultTapsPerDevice  = 200
	DefaultFailureRate    = 0.3
	DefaultOfflineRate    = 0.1
	DefaultSyncRounds     = 5
	DefaultTimeout        = 10 * time.Second

	adminUser            = "sim-admin"
	explicitSyncInterval = 25
	settleRounds         = 10
)
