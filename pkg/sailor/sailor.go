// Package sailor implements the worker agent (§4.6, §4.7): it accepts
// launch/cancel requests from the Captain, forks each chore's script as a
// supervised subprocess under the requested owner's uid/gid with a CPU
// affinity mask and GPU visibility env vars, and reports status back.
package sailor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/captain/pkg/log"
	"github.com/cuemby/captain/pkg/storage"
	"github.com/cuemby/captain/pkg/types"
	"github.com/rs/zerolog"
)

// Config holds the Sailor's own identity and tunables, normally loaded
// from a local YAML config file (see cmd/sailor).
type Config struct {
	Name        string
	IP          string
	CaptainIP   string
	CaptainPort int
	Port        int
	DataDir     string
}

// CaptainURL builds the base URL of the Captain this sailor reports to.
func (c Config) CaptainURL() string {
	return fmt.Sprintf("http://%s:%d", c.CaptainIP, c.CaptainPort)
}

// Agent is the running Sailor process: a table of in-flight chores backed
// by a crash-recovery hint file, plus the HTTP client used to report
// status and heartbeats to the Captain.
type Agent struct {
	cfg    Config
	logger zerolog.Logger

	running storage.Store[types.RunningChore]

	mu     sync.Mutex
	procs  map[string]*os.Process
	httpc  *http.Client
	stopCh chan struct{}
}

// NewAgent wires an Agent against cfg, opening its running-chores store
// under cfg.DataDir.
func NewAgent(cfg Config) (*Agent, error) {
	running, err := storage.NewFileStore[types.RunningChore](filepath.Join(cfg.DataDir, "running_chores.json"))
	if err != nil {
		return nil, fmt.Errorf("sailor: open running store: %w", err)
	}
	return &Agent{
		cfg:     cfg,
		logger:  log.WithSailor(cfg.Name),
		running: running,
		procs:   make(map[string]*os.Process),
		httpc:   &http.Client{Timeout: 5 * time.Second},
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins the 500ms heartbeat loop described in §4.6.
func (a *Agent) Start() {
	go a.heartbeatLoop()
}

// Stop stops the heartbeat loop.
func (a *Agent) Stop() {
	close(a.stopCh)
}

func (a *Agent) heartbeatLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.sendAwake()
		case <-a.stopCh:
			return
		}
	}
}

func (a *Agent) sendAwake() {
	body := types.AwakeRequest{Name: a.cfg.Name}
	if err := a.post(context.Background(), "/sailor_awake", body, nil); err != nil {
		a.logger.Debug().Err(err).Msg("heartbeat failed")
	}
}
