//go:build integration
// +build integration

// Package integration exercises the full pipeline over HTTP against a
// running server:
//
//	ingest → run-rules → alerts → disposition → bundle → verify-chain
//
// Start a server first (kite serve), then run with:
//
//	go test -tags=integration -v ./tests/integration/...
//
// KITE_BASE_URL overrides the default endpoint.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"
)

func baseURL() string {
	if v := os.Getenv("KITE_BASE_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

var client = &http.Client{Timeout: 30 * time.Second}

func doRequest(t *testing.T, method, path string, body any, correlationID string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, baseURL()+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "integration-test")
	if correlationID != "" {
		req.Header.Set("X-Correlation-ID", correlationID)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	return resp, out.Bytes()
}

func TestPipeline(t *testing.T) {
	if resp, _ := doRequest(t, http.MethodGet, "/health", nil, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("server not healthy: %d", resp.StatusCode)
	}

	runID := fmt.Sprintf("itest-%d", time.Now().UnixNano())

	t.Run("ingest", func(t *testing.T) {
		body := map[string]any{
			"records": []map[string]string{
				{
					"accountRef":   "ITEST-ACC-1",
					"timestamp":    time.Now().UTC().Format(time.RFC3339),
					"amount":       "15000.00",
					"currency":     "USD",
					"counterparty": "Integration Counterparty",
					"direction":    "out",
				},
			},
		}
		resp, data := doRequest(t, http.MethodPost, "/ingest", body, runID)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d: %s", resp.StatusCode, data)
		}

		var out struct {
			Summary struct {
				RowsRead     int `json:"rowsRead"`
				RowsInserted int `json:"rowsInserted"`
			} `json:"summary"`
		}
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatal(err)
		}
		if out.Summary.RowsRead != 1 {
			t.Errorf("rowsRead = %d", out.Summary.RowsRead)
		}
	})

	t.Run("run rules", func(t *testing.T) {
		resp, data := doRequest(t, http.MethodPost, "/run-rules", nil, runID)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d: %s", resp.StatusCode, data)
		}
	})

	t.Run("alerts listed for run", func(t *testing.T) {
		resp, data := doRequest(t, http.MethodGet, "/alerts?correlation_id="+runID, nil, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d: %s", resp.StatusCode, data)
		}
		var out struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatal(err)
		}
		if out.Count == 0 {
			t.Skip("no alerts produced; high_value rule may be disabled on the target server")
		}
	})

	t.Run("bundle", func(t *testing.T) {
		resp, data := doRequest(t, http.MethodGet, "/runs/"+runID+"/bundle", nil, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d: %s", resp.StatusCode, data)
		}
		var bundle struct {
			Metadata struct {
				CorrelationID string `json:"correlationId"`
			} `json:"metadata"`
		}
		if err := json.Unmarshal(data, &bundle); err != nil {
			t.Fatal(err)
		}
		if bundle.Metadata.CorrelationID != runID {
			t.Errorf("correlationId = %q", bundle.Metadata.CorrelationID)
		}
	})

	t.Run("chain verifies", func(t *testing.T) {
		resp, data := doRequest(t, http.MethodGet, "/audit/verify", nil, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d: %s", resp.StatusCode, data)
		}
	})
}
