// Package source implements the HTTP boundary against the PNCP consultation
// API: one page fetch per call, with transient/fatal error classification
// and pagination envelope parsing.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pncp-tools/harvester/internal/harvest"
)

// Envelope is the pagination wrapper PNCP returns around every result page.
type Envelope struct {
	Data           []json.RawMessage `json:"data"`
	TotalRegistros int               `json:"totalRegistros"`
	TotalPaginas   int               `json:"totalPaginas"`
	NumeroPagina   int               `json:"numeroPagina"`
	PaginasRestam  int               `json:"paginasRestantes"`
	Empty          bool              `json:"empty"`
}

// Config controls the Client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client fetches consultation pages over HTTP.
type Client struct {
	base      string
	userAgent string
	http      *http.Client
	logger    *zap.Logger
}

// New constructs a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: source base URL is required", harvest.ErrInvalidConfiguration)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:      cfg.BaseURL,
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
	}, nil
}

const dateParamLayout = "20060102"

// FetchPage retrieves one page. Network errors, 429 and 5xx responses wrap
// harvest.ErrTransientFetch; other non-2xx responses wrap
// harvest.ErrFatalFetch. A 204 is a valid empty window.
func (c *Client) FetchPage(ctx context.Context, req harvest.PageRequest) (harvest.PageResponse, error) {
	params := c.buildParams(req)
	endpointURL := c.base + req.Endpoint.Path + "?" + encodeParams(params)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL, nil)
	if err != nil {
		return harvest.PageResponse{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return harvest.PageResponse{}, fmt.Errorf("fetch %s: %w", endpointURL, ctx.Err())
		}
		return harvest.PageResponse{}, fmt.Errorf("fetch %s: %v: %w", endpointURL, err, harvest.ErrTransientFetch)
	}
	defer resp.Body.Close() //nolint:errcheck // read side closed best-effort

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return harvest.PageResponse{}, fmt.Errorf("read body from %s: %v: %w", endpointURL, err, harvest.ErrTransientFetch)
	}
	duration := time.Since(start)

	out := harvest.PageResponse{
		URL:        endpointURL,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
		Parameters: params,
		Duration:   duration,
	}

	switch {
	case resp.StatusCode == http.StatusNoContent:
		// Empty window: nothing published for this (date, modality).
		out.CurrentPage = req.Page
		return out, nil
	case resp.StatusCode == http.StatusOK:
		var env Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return harvest.PageResponse{}, fmt.Errorf("decode envelope from %s: %v: %w", endpointURL, err, harvest.ErrFatalFetch)
		}
		out.TotalRecords = env.TotalRegistros
		out.TotalPages = env.TotalPaginas
		out.CurrentPage = env.NumeroPagina
		out.PagesRemaining = env.PaginasRestam
		out.RecordCount = len(env.Data)
		if out.CurrentPage == 0 {
			out.CurrentPage = req.Page
		}
		return out, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.logger.Debug("transient upstream response",
			zap.String("url", endpointURL), zap.Int("status", resp.StatusCode))
		return harvest.PageResponse{}, fmt.Errorf("status %d from %s: %w", resp.StatusCode, endpointURL, harvest.ErrTransientFetch)
	default:
		return harvest.PageResponse{}, fmt.Errorf("status %d from %s: %w", resp.StatusCode, endpointURL, harvest.ErrFatalFetch)
	}
}

func (c *Client) buildParams(req harvest.PageRequest) map[string]string {
	params := map[string]string{
		"dataInicial":   req.DataDate.Format(dateParamLayout),
		"dataFinal":     req.DataDate.Format(dateParamLayout),
		"pagina":        strconv.Itoa(req.Page),
		"tamanhoPagina": strconv.Itoa(req.PageSize),
	}
	if req.Endpoint.SupportsModalidade && req.Modalidade != nil {
		params["codigoModalidadeContratacao"] = strconv.Itoa(*req.Modalidade)
	}
	return params
}

func encodeParams(params map[string]string) string {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return values.Encode()
}

// IsTransient reports whether the fetch error is retryable.
func IsTransient(err error) bool {
	return errors.Is(err, harvest.ErrTransientFetch)
}
