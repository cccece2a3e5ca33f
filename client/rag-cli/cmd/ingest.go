package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	ingestReset   bool
	ingestRemote  bool
	ingestOnError string
)

type ingestReport struct {
	Records   int `json:"records"`
	Documents int `json:"documents"`
	Pages     int `json:"pages"`
	Chunks    int `json:"chunks"`
	Skipped   []struct {
		Source string `json:"source"`
		Kind   string `json:"kind"`
		Error  string `json:"error"`
	} `json:"skipped"`
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file-or-source...]",
	Short: "Upload documents to the RAG service",
	Long: `Uploads local files to POST /ingest. With --remote the arguments are sent as
source names instead, resolved by the server: paths relative to its data directory, and
URLs or minio:// objects when the server allows remote sources.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			req *http.Request
			err error
		)
		if ingestRemote {
			req, err = remoteIngestRequest(args)
		} else {
			req, err = uploadRequest(args)
		}
		if err != nil {
			return err
		}

		resp, err := (&http.Client{Timeout: timeout}).Do(req.WithContext(cmd.Context()))
		if err != nil {
			return fmt.Errorf("could not reach %s: %w", serverURL, err)
		}
		defer resp.Body.Close()

		var report ingestReport
		if err := decode(resp, &report); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Ingested %d document(s): %d page(s), %d chunk(s), %d record(s) written.\n",
			report.Documents, report.Pages, report.Chunks, report.Records)
		for _, s := range report.Skipped {
			fmt.Fprintf(out, "Skipped %s (%s): %s\n", s.Source, s.Kind, s.Error)
		}
		return nil
	},
}

func remoteIngestRequest(sources []string) (*http.Request, error) {
	body, err := json.Marshal(map[string]interface{}{"sources": sources, "reset": ingestReset, "on_error": ingestOnError})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, endpoint("/ingest"), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func uploadRequest(paths []string) (*http.Request, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, path := range paths {
		if err := addFile(w, path); err != nil {
			return nil, err
		}
	}
	if err := w.WriteField("reset", strconv.FormatBool(ingestReset)); err != nil {
		return nil, err
	}
	if ingestOnError != "" {
		if err := w.WriteField("on_error", ingestOnError); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, endpoint("/ingest"), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

func addFile(w *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().BoolVar(&ingestReset, "reset", false, "clear the index before writing")
	ingestCmd.Flags().BoolVar(&ingestRemote, "remote", false, "send arguments as server-side source names instead of uploading")
	ingestCmd.Flags().StringVar(&ingestOnError, "on-error", "", "abort or skip when a document fails to load")
}
