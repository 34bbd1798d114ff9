package sailor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cuemby/captain/pkg/types"
)

// post sends a JSON body to the Captain at path, decoding the response
// into out if non-nil. Used for registration, whose error the caller
// acts on, and for heartbeats and chore status reports, whose errors are
// only logged.
func (a *Agent) post(ctx context.Context, path string, body, out interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.CaptainURL()+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sailor: %s: unexpected status %d", path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Register announces this sailor's identity and resources to the
// Captain. Must follow a successful Prereg on the Captain side (§4.4).
func (a *Agent) Register(ctx context.Context, ip, name string, port, cpus int, gpus []types.GPU, ram int64) error {
	return a.post(ctx, "/sailor_register", types.RegisterRequest{
		Name: name,
		IP:   ip,
		Port: port,
		CPUs: cpus,
		GPUs: gpus,
		RAM:  ram,
	}, nil)
}

// reportStatus posts a chore status transition, per §6's /sailor_report.
func (a *Agent) reportStatus(choreID string, status types.ChoreStatus, exitCode *int) {
	req := types.ReportRequest{
		Name:     a.cfg.Name,
		ChoreID:  choreID,
		Status:   status,
		ExitCode: exitCode,
	}
	if err := a.post(context.Background(), "/sailor_report", req, nil); err != nil {
		a.logger.Error().Err(err).Str("chore_id", choreID).Msg("status report failed")
	}
}
