package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/aki/wamux/internal/cli/ui"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions of a running wamux service",
	RunE:  runSessions,
}

var (
	sessionsAddr   string
	sessionsToken  string
	sessionsFormat string
)

func init() {
	sessionsCmd.Flags().StringVar(&sessionsAddr, "addr", "http://localhost:3000", "Base URL of the wamux service")
	sessionsCmd.Flags().StringVar(&sessionsToken, "token", "", "Bearer token for the service")
	sessionsCmd.Flags().StringVarP(&sessionsFormat, "format", "f", "pretty", "Output format (pretty, json)")
}

type listedSession struct {
	Key             string    `json:"key"`
	State           string    `json:"state"`
	Identity        string    `json:"identity"`
	CreatedAt       time.Time `json:"createdAt"`
	PairingDeadline time.Time `json:"pairingDeadline"`
}

func runSessions(cmd *cobra.Command, args []string) error {
	format, err := ui.ParseFormat(sessionsFormat)
	if err != nil {
		return err
	}
	if err := ui.SetGlobalFormatter(format); err != nil {
		return err
	}

	sessions, err := fetchSessions(sessionsAddr, sessionsToken)
	if err != nil {
		return err
	}

	if ui.GlobalFormatter.IsJSON() {
		return ui.GlobalFormatter.Output(sessions)
	}

	if len(sessions) == 0 {
		ui.Info("No sessions")
		return nil
	}

	tbl := ui.NewTable("KEY", "STATE", "IDENTITY", "AGE")
	for _, s := range sessions {
		identity := s.Identity
		if identity == "" {
			identity = "-"
		}
		tbl.AddRow(s.Key, ui.StyleState(s.State), identity, ui.FormatDuration(time.Since(s.CreatedAt)))
	}

	ui.PrintSectionHeader(ui.SessionIcon, "Sessions", len(sessions))
	tbl.Print()
	ui.OutputLine("")
	return nil
}

func fetchSessions(addr, token string) ([]listedSession, error) {
	req, err := http.NewRequest(http.MethodGet, addr+"/sessions", nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach wamux service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("service returned %s", resp.Status)
	}

	var body struct {
		Sessions []listedSession `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode session listing: %w", err)
	}
	return body.Sessions, nil
}
