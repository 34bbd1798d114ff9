package sailor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/captain/pkg/metrics"
	"github.com/cuemby/captain/pkg/types"
	"golang.org/x/sys/unix"
)

// ErrForbidden is returned by Launch when the sailor daemon cannot drop
// privileges to the chore's owning uid, per §4.6 step 8 and the
// "forbidden" error kind of §7.
var ErrForbidden = errors.New("forbidden: cannot switch to requested uid")

// LaunchResult is returned synchronously by Launch; the chore's actual
// completion is reported asynchronously via reportStatus from the
// watcher goroutine.
type LaunchResult struct {
	AlreadyRunning bool
}

// Launch implements §4.6 "captain_request": resolve the owning uid,
// build a constrained environment, fork the script under its own
// process group with a CPU-affinity mask and GPU visibility env vars,
// persist the running-chore record, and start a watcher goroutine that
// reports the terminal status once the process exits.
//
// Idempotent: a chore_id already tracked in-memory is a no-op, matching
// the Captain's own at-least-once dispatch semantics.
func (a *Agent) Launch(req types.LaunchRequest) (LaunchResult, error) {
	a.mu.Lock()
	if _, ok := a.procs[req.ChoreID]; ok {
		a.mu.Unlock()
		return LaunchResult{AlreadyRunning: true}, nil
	}
	a.mu.Unlock()

	uid := req.Owner
	pw, pwErr := user.LookupId(strconv.Itoa(uid))

	workdir := req.WD
	if workdir != "" {
		if !filepath.IsAbs(workdir) {
			abs, err := filepath.Abs(workdir)
			if err != nil {
				return LaunchResult{}, fmt.Errorf("sailor: resolve working directory: %w", err)
			}
			workdir = abs
		}
		if info, err := os.Stat(workdir); err != nil || !info.IsDir() {
			return LaunchResult{}, fmt.Errorf("sailor: working directory not found: %s", workdir)
		}
	} else if pwErr == nil {
		workdir = pw.HomeDir
	} else {
		workdir = "/"
	}

	env := buildEnv(pw, uid, workdir)

	cpuTotal := runtime.NumCPU()
	nCPUs := clamp(req.Resources.CPUs, 1, cpuTotal)
	for _, v := range []string{"OMP_NUM_THREADS", "OPENBLAS_NUM_THREADS", "MKL_NUM_THREADS", "NUMEXPR_NUM_THREADS", "VECLIB_MAXIMUM_THREADS", "TORCH_NUM_THREADS"} {
		env = append(env, v+"="+strconv.Itoa(nCPUs))
	}
	env = append(env, "MKL_DYNAMIC=FALSE", "OMP_DYNAMIC=FALSE")

	if req.Resources.GPUs > 0 {
		gpuList := make([]string, req.Resources.GPUs)
		for i := range gpuList {
			gpuList[i] = strconv.Itoa(i)
		}
		gpuStr := strings.Join(gpuList, ",")
		for _, v := range []string{"CUDA_VISIBLE_DEVICES", "NVIDIA_VISIBLE_DEVICES", "HIP_VISIBLE_DEVICES", "ROCR_VISIBLE_DEVICES"} {
			env = append(env, v+"="+gpuStr)
		}
	}

	var cmd *exec.Cmd
	if req.Out != "" {
		outDir := filepath.Dir(req.Out)
		inner := fmt.Sprintf(
			"mkdir -p %s; echo 'START CHORE::%s' > %s; ( /bin/bash %s; ret=$?; echo 'END CHORE::%s'; exit $ret ) >> %s 2>&1",
			shQuote(outDir), req.ChoreID, shQuote(req.Out), shQuote(req.Script), req.ChoreID, shQuote(req.Out),
		)
		cmd = exec.Command("/bin/bash", "-lc", inner)
	} else {
		cmd = exec.Command("/bin/bash", req.Script)
	}
	cmd.Dir = workdir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if euid := os.Geteuid(); uid != euid {
		if euid != 0 {
			return LaunchResult{}, fmt.Errorf("%w: must run as root to switch to uid %d", ErrForbidden, uid)
		}
		gid := uid
		if pwErr == nil {
			if g, err := strconv.Atoi(pw.Gid); err == nil {
				gid = g
			}
		}
		groups := supplementaryGroups(pw)
		cmd.SysProcAttr.Credential = &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid), Groups: groups}
	}

	if err := cmd.Start(); err != nil {
		a.reportStatus(req.ChoreID, types.ChoreFailed, intPtr(-1))
		metrics.SailorLaunchesTotal.WithLabelValues("error").Inc()
		return LaunchResult{}, fmt.Errorf("sailor: start chore: %w", err)
	}

	a.mu.Lock()
	a.procs[req.ChoreID] = cmd.Process
	a.mu.Unlock()

	if err := setAffinity(cmd.Process.Pid, nCPUs); err != nil {
		a.logger.Warn().Err(err).Str("chore_id", req.ChoreID).Msg("failed to set CPU affinity, continuing anyway")
	}

	now := time.Now().Unix()
	_ = a.running.Update(func(m map[string]types.RunningChore) (map[string]types.RunningChore, error) {
		m[req.ChoreID] = types.RunningChore{
			ChoreID:       req.ChoreID,
			PID:           cmd.Process.Pid,
			PGID:          cmd.Process.Pid,
			Start:         now,
			Owner:         uid,
			RequestedCPUs: req.Resources.CPUs,
			RequestedGPUs: req.Resources.GPUs,
		}
		return m, nil
	})

	metrics.SailorLaunchesTotal.WithLabelValues("started").Inc()
	a.reportStatus(req.ChoreID, types.ChoreRunning, nil)
	go a.watch(req.ChoreID, cmd)

	return LaunchResult{}, nil
}

// watch blocks on the child's exit and reports the terminal status, per
// §4.6's watcher goroutine.
func (a *Agent) watch(choreID string, cmd *exec.Cmd) {
	err := cmd.Wait()

	a.mu.Lock()
	canceled := false
	if rc, ok := a.runningRecord(choreID); ok {
		canceled = rc.CancelRequested
	}
	delete(a.procs, choreID)
	a.mu.Unlock()

	status := types.ChoreDone
	var exitCode *int
	if canceled {
		status = types.ChoreCanceled
	} else if err != nil {
		status = types.ChoreFailed
		exitCode = intPtr(exitStatus(err))
	} else {
		exitCode = intPtr(0)
	}

	_ = a.running.Update(func(m map[string]types.RunningChore) (map[string]types.RunningChore, error) {
		delete(m, choreID)
		return m, nil
	})

	a.reportStatus(choreID, status, exitCode)
}

func (a *Agent) runningRecord(choreID string) (types.RunningChore, bool) {
	m, err := a.running.Read()
	if err != nil {
		return types.RunningChore{}, false
	}
	rc, ok := m[choreID]
	return rc, ok
}

// Cancel implements §4.6 "captain_cancel": a three-stage SIGTERM→wait→
// SIGKILL ladder against the chore's whole process group, so descendants
// spawned by the script are reaped too.
func (a *Agent) Cancel(choreID string) error {
	a.mu.Lock()
	proc, ok := a.procs[choreID]
	a.mu.Unlock()
	if !ok {
		return nil
	}

	_ = a.running.Update(func(m map[string]types.RunningChore) (map[string]types.RunningChore, error) {
		rc, ok := m[choreID]
		if !ok {
			return m, nil
		}
		rc.CancelRequested = true
		m[choreID] = rc
		return m, nil
	})

	pgid, err := syscall.Getpgid(proc.Pid)
	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
	}
	_ = proc.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_, _ = proc.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
	}

	if pgid, err := syscall.Getpgid(proc.Pid); err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	}
	_ = proc.Kill()
	return nil
}

// supplementaryGroups resolves the target user's supplementary group list
// (§4.6 step 8: "set supplementary groups via the user's group list, or
// empty"), mirroring the original's os.initgroups call. A nil pw (unknown
// uid) yields no supplementary groups, matching the "or empty" fallback.
func supplementaryGroups(pw *user.User) []uint32 {
	if pw == nil {
		return nil
	}
	ids, err := pw.GroupIds()
	if err != nil {
		return nil
	}
	groups := make([]uint32, 0, len(ids))
	for _, id := range ids {
		gid, err := strconv.Atoi(id)
		if err != nil {
			continue
		}
		groups = append(groups, uint32(gid))
	}
	return groups
}

func buildEnv(pw *user.User, uid int, workdir string) []string {
	home, username, shell := workdir, strconv.Itoa(uid), "/bin/sh"
	if pw != nil {
		home, username = pw.HomeDir, pw.Username
	}
	path := os.Getenv("PATH")
	if path == "" {
		path = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	}
	lang := os.Getenv("LANG")
	if lang == "" {
		lang = "C.UTF-8"
	}

	env := os.Environ()
	env = append(env,
		"HOME="+home,
		"LOGNAME="+username,
		"USER="+username,
		"SHELL="+shell,
		"PATH="+path,
		"LANG="+lang,
		"LC_ALL="+lang,
	)
	return env
}

func setAffinity(pid, nCPUs int) error {
	var set unix.CPUSet
	set.Zero()
	for i := 0; i < nCPUs; i++ {
		set.Set(i)
	}
	return unix.SchedSetaffinity(pid, &set)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func exitStatus(err error) int {
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus()
		}
	}
	return -1
}

func intPtr(n int) *int { return &n }
