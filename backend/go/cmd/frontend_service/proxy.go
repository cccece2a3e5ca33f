package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	httpclient "ragdesk/backend/go/pkg/http"
	"ragdesk/backend/go/pkg/logger"
)

const maxChatBody = 1 << 20

type chatRequest struct {
	Message string `json:"message"`
}

// chatProxy forwards chat messages to the RAG service's /api/query endpoint.
type chatProxy struct {
	upstream string
	client   *httpclient.Client
	log      *logger.Logger
}

func newChatProxy(ragServiceURL string, client *httpclient.Client, log *logger.Logger) *chatProxy {
	return &chatProxy{upstream: strings.TrimRight(ragServiceURL, "/") + "/api/query", client: client, log: log}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (p *chatProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No message provided"})
		return
	}

	body, _ := json.Marshal(req)
	upReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, p.upstream, bytes.NewReader(body))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	upReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(upReq)
	if err != nil {
		p.log.WithError(err).WithField("upstream", p.upstream).Error("rag service unreachable")
		msg := "could not connect to the RAG service"
		if errors.Is(err, httpclient.ErrUpstreamUnavailable) {
			msg += ": " + err.Error()
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": msg})
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.log.WithError(err).Warn("failed to relay rag service response")
	}
}

// staticHandler serves dir/index.html at the root and dir/static under /static/.
func staticHandler(dir string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(filepath.Join(dir, "static")))))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		index := filepath.Join(dir, "index.html")
		if _, err := os.Stat(index); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "index.html not found at path: " + index})
			return
		}
		http.ServeFile(w, r, index)
	})
	return mux
}
