package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/palletline/inventory/pkg/httpclient"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both httpclient.Client and httpclient.CircuitBreakerClient satisfy this.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client resolves product references against the catalog service. The
// inventory API accepts a product UUID or slug for its product-keyed reads;
// the catalog owns that mapping.
type Client struct {
	http    HTTPDoer
	baseURL string
	logger  *slog.Logger
}

// NewClient creates a catalog service client.
func NewClient(http HTTPDoer, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		http:    http,
		baseURL: baseURL,
		logger:  logger,
	}
}

type productResponse struct {
	Data struct {
		ID       string `json:"id"`
		Slug     string `json:"slug"`
		Variants []struct {
			ID string `json:"id"`
		} `json:"variants"`
	} `json:"data"`
}

// ResolveVariants maps a product UUID or slug to the product ID and its
// variant IDs. An unknown key surfaces the catalog's NOT_FOUND error.
func (c *Client) ResolveVariants(ctx context.Context, productKey string) (string, []string, error) {
	url := fmt.Sprintf("%s/api/v1/products/%s?include=variants", c.baseURL, productKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("create product request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return "", nil, fmt.Errorf("call catalog service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, httpclient.ParseResponseError(resp, "catalog")
	}

	var product productResponse
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return "", nil, fmt.Errorf("decode product response: %w", err)
	}

	variantIDs := make([]string, 0, len(product.Data.Variants))
	for _, v := range product.Data.Variants {
		variantIDs = append(variantIDs, v.ID)
	}

	c.logger.DebugContext(ctx, "resolved product variants",
		slog.String("product_key", productKey),
		slog.String("product_id", product.Data.ID),
		slog.Int("variants", len(variantIDs)),
	)

	return product.Data.ID, variantIDs, nil
}
