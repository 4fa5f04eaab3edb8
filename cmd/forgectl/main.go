// Package main implements the forgectl CLI for operating a forged daemon
// over its HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	forgehttp "github.com/softwareforge/forge/internal/http"
)

var (
	// serverURL is the base URL of the forged HTTP API
	serverURL string
	// requestTimeout bounds each call; collection servicing can take many minutes
	requestTimeout time.Duration
	// outputJSON prints raw JSON responses instead of text
	outputJSON bool
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "forgectl",
	Short: "CLI for the forge HTTP API",
	Long: `forgectl is a command-line interface for a forged daemon.
It lists, creates and removes team project collections, creates projects
from process templates and records project invitation requests.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "forged server URL")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 40*time.Minute, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print raw JSON responses")
	rootCmd.AddCommand(healthCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check forged server health",
	Long: `Check the health of the forged daemon and whether it holds an
authenticated session with the team foundation server.

Examples:
  forgectl health
  forgectl health --server http://forge.internal:8080`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	var resp forgehttp.HealthResponse
	if err := call(cmd, http.MethodGet, "/health", nil, &resp); err != nil {
		return err
	}
	return render(cmd, resp, func() {
		cmd.Printf("Server Status: %s\n", resp.Status)
		cmd.Printf("Authenticated: %t\n", resp.Authenticated)
		cmd.Printf("Server URL: %s\n", serverURL)
	})
}

// apiError is the error body written by the server.
type apiError struct {
	Message string `json:"message"`
}

// call sends body as JSON to path and decodes the response into out.
// Either may be nil.
func call(cmd *cobra.Command, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := strings.TrimRight(serverURL, "/") + path
	req, err := http.NewRequestWithContext(cmd.Context(), method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: requestTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("server returned status %d: %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// render writes v as indented JSON with --json, otherwise runs text.
func render(cmd *cobra.Command, v interface{}, text func()) error {
	if !outputJSON {
		text()
		return nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
