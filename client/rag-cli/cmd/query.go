package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var (
	queryK          int
	queryShowSource bool
)

type queryResponse struct {
	Answer    string   `json:"answer"`
	Sources   []string `json:"sources"`
	Citations []struct {
		Source string  `json:"source"`
		Page   string  `json:"page"`
		Score  float32 `json:"score"`
	} `json:"citations"`
}

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Ask the RAG service a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := map[string]interface{}{"question": strings.Join(args, " ")}
		if queryK > 0 {
			payload["k"] = queryK
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, endpoint("/query"), bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := (&http.Client{Timeout: timeout}).Do(req)
		if err != nil {
			return fmt.Errorf("could not reach %s: %w", serverURL, err)
		}
		defer resp.Body.Close()

		var answer queryResponse
		err = decode(resp, &answer)
		out := cmd.OutOrStdout()
		if answer.Answer != "" {
			fmt.Fprintln(out, answer.Answer)
		}
		if queryShowSource || err != nil {
			printSources(cmd, answer)
		}
		return err
	},
}

func printSources(cmd *cobra.Command, a queryResponse) {
	if len(a.Sources) == 0 {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\nSources:")
	for i, text := range a.Sources {
		label := fmt.Sprintf("[%d]", i+1)
		if i < len(a.Citations) {
			c := a.Citations[i]
			label = fmt.Sprintf("[%d] %s", i+1, c.Source)
			if c.Page != "" {
				label += " p." + c.Page
			}
		}
		fmt.Fprintf(out, "%s\n    %s\n", label, text)
	}
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().IntVarP(&queryK, "k", "k", 0, "number of passages to retrieve (default from server)")
	queryCmd.Flags().BoolVar(&queryShowSource, "sources", false, "print the supporting passages")
}
