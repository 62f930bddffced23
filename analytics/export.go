package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Exporter ships aggregated KPI buckets to an external reporting system.
type Exporter interface {
	Export(ctx context.Context, data AggregatedData) error
	Flush(ctx context.Context) error
	Close() error
}

// HTTPExporter batches buckets and POSTs them as JSON to one endpoint.
type HTTPExporter struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	buffer     []AggregatedData
	batchSize  int
}

func NewHTTPExporter(endpoint, apiKey string, batchSize int) *HTTPExporter {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &HTTPExporter{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		buffer:    make([]AggregatedData, 0, batchSize),
		batchSize: batchSize,
	}
}

func (e *HTTPExporter) Export(ctx context.Context, data AggregatedData) error {
	e.buffer = append(e.buffer, data)
	if len(e.buffer) >= e.batchSize {
		return e.Flush(ctx)
	}
	return nil
}

func (e *HTTPExporter) Flush(ctx context.Context) error {
	if len(e.buffer) == 0 {
		return nil
	}
	payload, err := json.Marshal(e.buffer)
	if err != nil {
		return fmt.Errorf("failed to marshal analytics data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build export request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to export analytics data: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("analytics export rejected: status %d", resp.StatusCode)
	}
	e.buffer = e.buffer[:0]
	return nil
}

func (e *HTTPExporter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.Flush(ctx)
}
