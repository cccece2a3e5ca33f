package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "rag-cli",
	Short:        "A CLI client for the ragdesk assistant",
	Long:         `A command-line interface for uploading documents to the RAG service and asking it questions.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Whoops. There was an error while executing your CLI: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	defaultServer := os.Getenv("RAG_SERVICE_URL")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "base URL of the RAG service")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout")
}

func endpoint(path string) string {
	return strings.TrimRight(serverURL, "/") + path
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// decode reads a JSON response into v, turning non-2xx answers into errors.
// v is still filled for error responses that carry a body of its shape.
func decode(resp *http.Response, v interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if v != nil && len(body) > 0 {
		_ = json.Unmarshal(body, v)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var e errorBody
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		if e.Kind != "" {
			return fmt.Errorf("%s (%d %s): %s", e.Kind, resp.StatusCode, http.StatusText(resp.StatusCode), e.Error)
		}
		return fmt.Errorf("%d %s: %s", resp.StatusCode, http.StatusText(resp.StatusCode), e.Error)
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
