package steps

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/captain/pkg/captain"
	"github.com/cuemby/captain/pkg/reconciler"
	"github.com/cuemby/captain/pkg/scheduler"
	"github.com/cuemby/captain/pkg/types"
	"github.com/cucumber/godog"
)

// fakeSailorClient lets scenarios simulate an unreachable sailor without a
// real HTTP round trip, mirroring the fakes used in pkg/scheduler's own
// unit tests.
type fakeSailorClient struct {
	mu          sync.Mutex
	unreachable map[string]bool
}

func newFakeSailorClient() *fakeSailorClient {
	return &fakeSailorClient{unreachable: make(map[string]bool)}
}

func (f *fakeSailorClient) Launch(ctx context.Context, sailor types.Sailor, req types.LaunchRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unreachable[sailor.Name] {
		return fmt.Errorf("fake: %s unreachable", sailor.Name)
	}
	return nil
}

func (f *fakeSailorClient) Cancel(ctx context.Context, sailor types.Sailor, req types.CancelRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unreachable[sailor.Name] {
		return fmt.Errorf("fake: %s unreachable", sailor.Name)
	}
	return nil
}

func (f *fakeSailorClient) markUnreachable(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreachable[name] = true
}

// schedulingContext holds the in-process Captain, scheduler, and
// reconciler a scenario drives its steps against.
type schedulingContext struct {
	cap    *captain.Captain
	sched  *scheduler.Scheduler
	recon  *reconciler.Reconciler
	client *fakeSailorClient

	lastChoreID string
	lastErr     error
}

func (sc *schedulingContext) reset() {
	sc.client = newFakeSailorClient()
	dataDir, err := os.MkdirTemp("", "captain-bdd-")
	if err != nil {
		panic(err)
	}
	cap, err := captain.New(captain.DefaultConfig(dataDir), &captain.StaticAuthenticator{}, sc.client)
	if err != nil {
		panic(err)
	}
	sc.cap = cap
	sc.sched = scheduler.NewScheduler(cap)
	sc.recon = reconciler.NewReconciler(cap, sc.sched)
	sc.lastChoreID = ""
	sc.lastErr = nil
}

func (sc *schedulingContext) aPreregisteredSailorOffering(name, service string) error {
	services := []string{}
	if service != "no particular service" {
		services = []string{service}
	}
	return sc.cap.Prereg(name, "10.0.0.1", services, "")
}

func (sc *schedulingContext) aPreregisteredSailorWithMaxTime(name, maxTime string) error {
	return sc.cap.Prereg(name, "10.0.0.1", nil, maxTime)
}

func (sc *schedulingContext) sailorRegistersWithCpusAndGpus(name string, cpus int, table *godog.Table) error {
	gpus := make([]types.GPU, 0, len(table.Rows)-1)
	for _, row := range table.Rows[1:] {
		vram, err := strconv.Atoi(row.Cells[1].Value)
		if err != nil {
			return err
		}
		gpus = append(gpus, types.GPU{Type: row.Cells[0].Value, VRAM: vram})
	}
	return sc.cap.Register(name, "10.0.0.1", 9000, cpus, gpus, 1<<34)
}

func (sc *schedulingContext) sailorRegistersWithCpusAndNoGpus(name string, cpus int) error {
	return sc.cap.Register(name, "10.0.0.1", 9000, cpus, nil, 1<<34)
}

func (sc *schedulingContext) sailorIsUnreachable(name string) error {
	sc.client.markUnreachable(name)
	return nil
}

func (sc *schedulingContext) ownerSubmitsAChoreRunningRequestingCpusAndGpus(owner int, script string, cpus, gpus int) error {
	return sc.submit(owner, script, "", cpus, gpus)
}

func (sc *schedulingContext) ownerSubmitsAChoreRunningOnServiceRequestingCpusAndGpus(owner int, script, service string, cpus, gpus int) error {
	return sc.submit(owner, script, service, cpus, gpus)
}

func (sc *schedulingContext) submit(owner int, script, service string, cpus, gpus int) error {
	id, err := sc.cap.Submit(captain.SubmitRequest{
		Script:    script,
		Service:   service,
		Resources: types.Resources{CPUs: cpus, GPUs: gpus},
		Owner:     owner,
	})
	sc.lastChoreID = id
	sc.lastErr = err
	if err == nil {
		return sc.sched.Assign(context.Background())
	}
	return nil
}

func (sc *schedulingContext) ownerSubmitsAChoreAssignedTo(owner int, script, sailorName string, cpus, gpus int) error {
	id := sc.cap.NextChoreID()
	return sc.cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		m[id] = types.Chore{
			ChoreID:    id,
			Script:     script,
			Resources:  types.Resources{CPUs: cpus, GPUs: gpus},
			Owner:      owner,
			Sailor:     sailorName,
			Status:     types.ChoreAssigned,
			AssignedAt: time.Now().Unix(),
		}
		sc.lastChoreID = id
		return m, nil
	})
}

func (sc *schedulingContext) ownerHasAChoresLimitOf(owner, limit int) error {
	return sc.cap.UpsertUser(owner, "", "", &limit, "")
}

func (sc *schedulingContext) ownerHasATimeLimitOf(owner int, limit string) error {
	return sc.cap.UpsertUser(owner, "", limit, nil, "")
}

func (sc *schedulingContext) ownerHasAChoreRunningForHours(owner, hours int) error {
	id := sc.cap.NextChoreID()
	return sc.cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		m[id] = types.Chore{
			ChoreID:  id,
			Owner:    owner,
			Status:   types.ChoreRunning,
			RunStart: time.Now().Add(-time.Duration(hours) * time.Hour).Unix(),
		}
		sc.lastChoreID = id
		return m, nil
	})
}

func (sc *schedulingContext) sailorHasAChoreRunningForHours(sailorName string, hours int) error {
	id := sc.cap.NextChoreID()
	return sc.cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		m[id] = types.Chore{
			ChoreID:  id,
			Sailor:   sailorName,
			Status:   types.ChoreRunning,
			RunStart: time.Now().Add(-time.Duration(hours) * time.Hour).Unix(),
		}
		sc.lastChoreID = id
		return m, nil
	})
}

func (sc *schedulingContext) theChoreHasBeenCancelRequestedForHours(hours int) error {
	return sc.cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		ch := m[sc.lastChoreID]
		ch.Status = types.ChoreCancelRequested
		ch.CancelRequestedAt = time.Now().Add(-time.Duration(hours) * time.Hour).Unix()
		m[sc.lastChoreID] = ch
		return m, nil
	})
}

func (sc *schedulingContext) theReconciliationPassRuns() error {
	return sc.recon.Reconcile(context.Background())
}

func (sc *schedulingContext) theChoreIsAssignedToSailor(sailorName string) error {
	ch, err := sc.chore()
	if err != nil {
		return err
	}
	if ch.Sailor != sailorName {
		return fmt.Errorf("expected chore assigned to %s, got %q (status %s, reason %q)", sailorName, ch.Sailor, ch.Status, ch.Reason)
	}
	return nil
}

func (sc *schedulingContext) sailorHasUsedCpusAndUsedGpus(name string, cpus, gpus int) error {
	crew, err := sc.cap.Crew.Read()
	if err != nil {
		return err
	}
	s, ok := crew[name]
	if !ok {
		return fmt.Errorf("sailor %s not found", name)
	}
	if s.UsedCPUs != cpus || s.UsedGPUs != gpus {
		return fmt.Errorf("expected used_cpus=%d used_gpus=%d, got used_cpus=%d used_gpus=%d", cpus, gpus, s.UsedCPUs, s.UsedGPUs)
	}
	return nil
}

func (sc *schedulingContext) sailorReportsTheChoreRunning(name string) error {
	ch, err := sc.chore()
	if err != nil {
		return err
	}
	return sc.cap.Report(name, ch.ChoreID, types.ChoreRunning, nil)
}

func (sc *schedulingContext) sailorReportsTheChoreDoneWithExitCode(name string, code int) error {
	ch, err := sc.chore()
	if err != nil {
		return err
	}
	return sc.cap.Report(name, ch.ChoreID, types.ChoreDone, &code)
}

func (sc *schedulingContext) sailorReportsTheChoreCanceled(name string) error {
	ch, err := sc.chore()
	if err != nil {
		return err
	}
	return sc.cap.Report(name, ch.ChoreID, types.ChoreCanceled, nil)
}

func (sc *schedulingContext) theChoreStatusIs(status string) error {
	ch, err := sc.chore()
	if err != nil {
		return err
	}
	if string(ch.Status) != status {
		return fmt.Errorf("expected status %s, got %s (reason %q)", status, ch.Status, ch.Reason)
	}
	return nil
}

func (sc *schedulingContext) theChoreReasonIs(reason string) error {
	ch, err := sc.chore()
	if err != nil {
		return err
	}
	if ch.Reason != reason {
		return fmt.Errorf("expected reason %q, got %q", reason, ch.Reason)
	}
	return nil
}

func (sc *schedulingContext) theChoreRunStartIsSet() error {
	ch, err := sc.chore()
	if err != nil {
		return err
	}
	if ch.RunStart == 0 {
		return fmt.Errorf("expected run_start to be set")
	}
	return nil
}

func (sc *schedulingContext) theChoreEndIsSet() error {
	ch, err := sc.chore()
	if err != nil {
		return err
	}
	if ch.End == 0 {
		return fmt.Errorf("expected end to be set")
	}
	return nil
}

func (sc *schedulingContext) theChoreIsCancelRequestedWithCancelSource(source string) error {
	ch, err := sc.chore()
	if err != nil {
		return err
	}
	if ch.Status != types.ChoreCancelRequested {
		return fmt.Errorf("expected cancel_requested, got %s", ch.Status)
	}
	if string(ch.CancelSource) != source {
		return fmt.Errorf("expected cancel_source %s, got %s", source, ch.CancelSource)
	}
	return nil
}

func (sc *schedulingContext) theChoreIsCancelRequestedWithReason(reason string) error {
	ch, err := sc.chore()
	if err != nil {
		return err
	}
	if ch.Status != types.ChoreCancelRequested {
		return fmt.Errorf("expected cancel_requested, got %s", ch.Status)
	}
	if ch.Reason != reason {
		return fmt.Errorf("expected reason %q, got %q", reason, ch.Reason)
	}
	return nil
}

func (sc *schedulingContext) theLastSubmissionIsRejectedWith(substr string) error {
	if sc.lastErr == nil {
		return fmt.Errorf("expected the last submission to fail, it succeeded")
	}
	if !strings.Contains(sc.lastErr.Error(), substr) {
		return fmt.Errorf("expected error containing %q, got %q", substr, sc.lastErr.Error())
	}
	return nil
}

func (sc *schedulingContext) choresArePendingForOwner(want, owner int) error {
	chores, err := sc.cap.ListChores(owner, false)
	if err != nil {
		return err
	}
	got := 0
	for _, ch := range chores {
		if ch.Status == types.ChorePending {
			got++
		}
	}
	if got != want {
		return fmt.Errorf("expected %d pending chores for owner %d, got %d", want, owner, got)
	}
	return nil
}

func (sc *schedulingContext) chore() (types.Chore, error) {
	chores, err := sc.cap.Chores.Read()
	if err != nil {
		return types.Chore{}, err
	}
	ch, ok := chores[sc.lastChoreID]
	if !ok {
		return types.Chore{}, fmt.Errorf("no chore recorded in scenario context")
	}
	return ch, nil
}

// InitializeSchedulingScenario registers every step used by
// features/scheduling.feature against a fresh in-process Captain per
// scenario.
func InitializeSchedulingScenario(ctx *godog.ScenarioContext) {
	sc := &schedulingContext{}

	ctx.Before(func(goCtx context.Context, s *godog.Scenario) (context.Context, error) {
		sc.reset()
		return goCtx, nil
	})

	ctx.Step(`^a preregistered sailor "([^"]*)" offering service "([^"]*)"$`, sc.aPreregisteredSailorOffering)
	ctx.Step(`^a preregistered sailor "([^"]*)" offering (no particular service)$`, sc.aPreregisteredSailorOffering)
	ctx.Step(`^a preregistered sailor "([^"]*)" with max_time "([^"]*)"$`, sc.aPreregisteredSailorWithMaxTime)
	ctx.Step(`^sailor "([^"]*)" registers with (\d+) cpus and gpus:$`, sc.sailorRegistersWithCpusAndGpus)
	ctx.Step(`^sailor "([^"]*)" registers with (\d+) cpus and no gpus$`, sc.sailorRegistersWithCpusAndNoGpus)
	ctx.Step(`^sailor "([^"]*)" is unreachable$`, sc.sailorIsUnreachable)

	ctx.Step(`^owner (\d+) submits a chore running "([^"]*)" requesting (\d+) cpus and (\d+) gpus$`,
		sc.ownerSubmitsAChoreRunningRequestingCpusAndGpus)
	ctx.Step(`^owner (\d+) submits a chore running "([^"]*)" on service "([^"]*)" requesting (\d+) cpus and (\d+) gpus$`,
		sc.ownerSubmitsAChoreRunningOnServiceRequestingCpusAndGpus)
	ctx.Step(`^owner (\d+) submits a chore running "([^"]*)" requesting (\d+) cpus and (\d+) gpus assigned to "([^"]*)"$`,
		func(owner int, script string, cpus, gpus int, sailorName string) error {
			return sc.ownerSubmitsAChoreAssignedTo(owner, script, sailorName, cpus, gpus)
		})

	ctx.Step(`^owner (\d+) has a chores_limit of (\d+)$`, sc.ownerHasAChoresLimitOf)
	ctx.Step(`^owner (\d+) has a time_limit of "([^"]*)"$`, sc.ownerHasATimeLimitOf)
	ctx.Step(`^owner (\d+) has a chore that has been running for (\d+) hours$`, sc.ownerHasAChoreRunningForHours)
	ctx.Step(`^sailor "([^"]*)" has a chore that has been running for (\d+) hours$`, sc.sailorHasAChoreRunningForHours)
	ctx.Step(`^the chore has been cancel_requested for (\d+) hours$`, sc.theChoreHasBeenCancelRequestedForHours)

	ctx.Step(`^the reconciliation pass runs$`, sc.theReconciliationPassRuns)

	ctx.Step(`^the chore is assigned to sailor "([^"]*)"$`, sc.theChoreIsAssignedToSailor)
	ctx.Step(`^sailor "([^"]*)" has used_cpus (\d+) and used_gpus (\d+)$`, sc.sailorHasUsedCpusAndUsedGpus)
	ctx.Step(`^sailor "([^"]*)" reports the chore running$`, sc.sailorReportsTheChoreRunning)
	ctx.Step(`^sailor "([^"]*)" reports the chore done with exit code (\d+)$`, sc.sailorReportsTheChoreDoneWithExitCode)
	ctx.Step(`^sailor "([^"]*)" reports the chore canceled$`, sc.sailorReportsTheChoreCanceled)

	ctx.Step(`^the chore status is "([^"]*)"$`, sc.theChoreStatusIs)
	ctx.Step(`^the chore reason is "([^"]*)"$`, sc.theChoreReasonIs)
	ctx.Step(`^the chore run_start is set$`, sc.theChoreRunStartIsSet)
	ctx.Step(`^the chore end is set$`, sc.theChoreEndIsSet)
	ctx.Step(`^the chore is cancel_requested with cancel_source "([^"]*)"$`, sc.theChoreIsCancelRequestedWithCancelSource)
	ctx.Step(`^the chore is cancel_requested with reason "([^"]*)"$`, sc.theChoreIsCancelRequestedWithReason)

	ctx.Step(`^the last submission is rejected with "([^"]*)"$`, sc.theLastSubmissionIsRejectedWith)
	ctx.Step(`^(\d+) chores are pending for owner (\d+)$`, sc.choresArePendingForOwner)
}
