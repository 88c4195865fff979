package calc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/corpustools/concord/internal/conc"
	"github.com/corpustools/concord/pkg/config"
)

// HTTPProvider fetches hits from the corpus search backend over HTTP.
type HTTPProvider struct {
	baseURL string
	http    *http.Client
}

var _ Provider = (*HTTPProvider)(nil)

func NewHTTPProvider(cfg config.ProviderConfig) *HTTPProvider {
	return &HTTPProvider{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
	}
}

type evalResponse struct {
	Hits       []conc.Hit `json:"hits"`
	Collocates []string   `json:"collocates"`
}

// Evaluate runs the query against the backend and returns matched positions
// in canonical order.
func (p *HTTPProvider) Evaluate(ctx context.Context, corpus, subchash, query string) ([]conc.Hit, []string, error) {
	q := url.Values{}
	q.Set("corpus", corpus)
	q.Set("q", query)
	if subchash != "" {
		q.Set("subchash", subchash)
	}
	reqURL := fmt.Sprintf("%s/api/v1/evaluate?%s", p.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("building evaluate request: %w", err)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("calling search backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("search backend returned %d", resp.StatusCode)
	}
	var out evalResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, nil, fmt.Errorf("decoding evaluate response: %w", err)
	}
	return out.Hits, out.Collocates, nil
}
