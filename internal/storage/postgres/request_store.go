package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pncp-tools/harvester/internal/harvest"
)

// RequestStore implements harvest.RequestStore against Postgres.
type RequestStore struct {
	pool DBPool
}

// NewRequestStore constructs a RequestStore over an existing pool.
func NewRequestStore(pool DBPool) (*RequestStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RequestStore{pool: pool}, nil
}

// RecordRequest inserts one request metadata row. The payload itself lives
// only in the content table; the row carries just the content_id reference.
func (s *RequestStore) RecordRequest(ctx context.Context, req harvest.Request) error {
	if req.ID == "" {
		return fmt.Errorf("request id is required")
	}
	paramsJSON, err := json.Marshal(req.Parameters)
	if err != nil {
		return fmt.Errorf("marshal request parameters: %w", err)
	}
	headersJSON, err := json.Marshal(normalizeHeaders(req.Headers))
	if err != nil {
		return fmt.Errorf("marshal response headers: %w", err)
	}

	query := `
INSERT INTO request (
	id,
	endpoint_name,
	endpoint_url,
	data_date,
	run_id,
	request_parameters,
	response_code,
	response_headers,
	total_records,
	total_pages,
	current_page,
	page_size,
	content_id
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)`
	if _, err := s.pool.Exec(ctx, query,
		req.ID,
		req.EndpointName,
		req.EndpointURL,
		req.DataDate,
		req.RunID,
		paramsJSON,
		req.ResponseCode,
		headersJSON,
		req.TotalRecords,
		req.TotalPages,
		req.CurrentPage,
		req.PageSize,
		req.ContentID,
	); err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func normalizeHeaders(h http.Header) map[string][]string {
	if len(h) == 0 {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(h))
	for k, values := range h {
		out[k] = append([]string(nil), values...)
	}
	return out
}
