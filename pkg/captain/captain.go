// Package captain implements the central orchestrator: the chore/crew/user
// stores, the submit/cancel/report logic (§4.2, §4.4), and the shared
// config consumed by the scheduler (assignment pass, §4.3) and the
// reconciler (§4.5). The HTTP transport lives in pkg/api; the assignment
// pass and reconciliation loop live in the sibling pkg/scheduler and
// pkg/reconciler packages to keep each background loop independently
// testable, the way the teacher's scheduler/reconciler packages wrap a
// shared manager.
package captain

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/captain/pkg/storage"
	"github.com/cuemby/captain/pkg/types"
)

// Config holds the tunables named in §6's environment variable table.
type Config struct {
	DataDir string

	CleanupTTL         time.Duration // CAPTAIN_CLEANUP_TTL, default 120s
	CancelRequestedTTL time.Duration // CAPTAIN_CANCEL_REQUESTED_TTL, default 300s
	TokenTTL           time.Duration // CAPTAIN_TOKEN_TTL, default 3600s
	AliveThreshold     time.Duration // ALIVE_THRESHOLD, default 10s
	FlagFile           string        // CAPTAIN_FLAG_FILE

	DispatchTimeout time.Duration // outbound HTTP timeout to sailors, ~3-5s
}

// DefaultConfig returns the documented defaults.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:            dataDir,
		CleanupTTL:         120 * time.Second,
		CancelRequestedTTL: 300 * time.Second,
		TokenTTL:           3600 * time.Second,
		AliveThreshold:     10 * time.Second,
		DispatchTimeout:    4 * time.Second,
	}
}

// Captain is the central orchestrator's in-process handle: three
// persistent stores (crew, chores, users) plus the token manager and a
// client for talking to sailors. Background loops (scheduler, reconciler)
// hold a reference to this and drive it on their own tickers.
type Captain struct {
	cfg Config

	Crew   storage.Store[types.Sailor]
	Chores storage.Store[types.Chore]
	Users  storage.Store[types.User]

	Tokens *TokenManager
	Auth   Authenticator
	Sailor SailorClient

	choreSeq atomic.Int64
	seqMu    sync.Mutex
}

// New wires up a Captain against the on-disk stores under cfg.DataDir.
func New(cfg Config, auth Authenticator, sailorClient SailorClient) (*Captain, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("captain: create data dir: %w", err)
	}

	crew, err := storage.NewFileStore[types.Sailor](filepath.Join(cfg.DataDir, "crew.json"))
	if err != nil {
		return nil, fmt.Errorf("captain: open crew store: %w", err)
	}
	chores, err := storage.NewFileStore[types.Chore](filepath.Join(cfg.DataDir, "chores.json"))
	if err != nil {
		return nil, fmt.Errorf("captain: open chores store: %w", err)
	}
	users, err := storage.NewFileStore[types.User](filepath.Join(cfg.DataDir, "users.json"))
	if err != nil {
		return nil, fmt.Errorf("captain: open users store: %w", err)
	}

	return &Captain{
		cfg:    cfg,
		Crew:   crew,
		Chores: chores,
		Users:  users,
		Tokens: NewTokenManager(),
		Auth:   auth,
		Sailor: sailorClient,
	}, nil
}

// Config exposes the immutable config to the scheduler/reconciler packages.
func (c *Captain) Config() Config { return c.cfg }

// NextChoreID allocates a strictly-increasing chore_id: a millisecond
// timestamp, disambiguated with a per-process counter in the (rare) case
// two submissions land in the same millisecond — per §4.2 step 2.
func (c *Captain) NextChoreID() string {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()

	ms := time.Now().UnixMilli()
	seq := c.choreSeq.Add(1)
	return strconv.FormatInt(ms, 10) + "-" + strconv.FormatInt(seq, 10)
}

// WriteFlagFile writes the {port, pid, started_at} discovery file named by
// CAPTAIN_FLAG_FILE, if configured.
func (c *Captain) WriteFlagFile(port int) error {
	if c.cfg.FlagFile == "" {
		return nil
	}
	payload := fmt.Sprintf(`{"port":%d,"pid":%d,"started_at":%d}`, port, os.Getpid(), time.Now().Unix())
	tmp := c.cfg.FlagFile + ".tmp"
	if err := os.WriteFile(tmp, []byte(payload), 0o644); err != nil {
		return fmt.Errorf("captain: write flag file: %w", err)
	}
	return os.Rename(tmp, c.cfg.FlagFile)
}

// RemoveFlagFile deletes the discovery file on shutdown.
func (c *Captain) RemoveFlagFile() {
	if c.cfg.FlagFile == "" {
		return
	}
	_ = os.Remove(c.cfg.FlagFile)
}
