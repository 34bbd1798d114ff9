package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/captain/pkg/types"
	"github.com/spf13/cobra"
)

var preregCmd = &cobra.Command{
	Use:   "prereg NAME IP",
	Short: "Preregister a sailor with the Captain (POST /prereg)",
	Args:  cobra.ExactArgs(2),
	RunE:  runPrereg,
}

func init() {
	preregCmd.Flags().String("captain", "http://127.0.0.1:8000", "Captain base URL")
	preregCmd.Flags().StringSlice("services", nil, "services this sailor offers")
	preregCmd.Flags().String("max-time", "", "per-chore max runtime on this sailor, e.g. 01:00:00")
	rootCmd.AddCommand(preregCmd)
}

func runPrereg(cmd *cobra.Command, args []string) error {
	captainURL, _ := cmd.Flags().GetString("captain")
	services, _ := cmd.Flags().GetStringSlice("services")
	maxTime, _ := cmd.Flags().GetString("max-time")

	body, err := json.Marshal(types.PreregRequest{
		Name:     args[0],
		IP:       args[1],
		Services: services,
		MaxTime:  maxTime,
	})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(strings.TrimRight(captainURL, "/")+"/prereg", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("prereg: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("prereg: captain returned status %d", resp.StatusCode)
	}
	fmt.Printf("preregistered sailor %q (%s)\n", args[0], args[1])
	return nil
}
