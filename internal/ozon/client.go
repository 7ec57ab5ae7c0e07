package ozon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/peteski22/shopbridge/internal/batch"
	"github.com/peteski22/shopbridge/internal/model"
)

const (
	// maxPageSize is the largest page the list endpoints accept.
	maxPageSize = 1000

	// maxPostingWindow is the widest since..to range the posting list accepts.
	maxPostingWindow = 365 * 24 * time.Hour
)

// Client is an Ozon Seller API client.
type Client struct {
	// apiKey is the seller API key.
	apiKey string

	// baseURL is the base URL for API requests.
	baseURL string

	// clientID is the seller account id.
	clientID string

	// httpClient is the HTTP client for making requests.
	httpClient *http.Client

	// logger receives the items Ozon rejects.
	logger *slog.Logger

	// now returns the current time.
	now func() time.Time

	// pageSize is the number of records requested per page.
	pageSize int
}

// Orders returns the FBS postings that entered processing since the given time.
// A zero or too distant since is clamped to the widest window the API accepts.
func (c *Client) Orders(ctx context.Context, since time.Time) ([]model.Order, error) {
	to := c.now().UTC()
	if earliest := to.Add(-maxPostingWindow); since.IsZero() || since.Before(earliest) {
		since = earliest
	}

	var orders []model.Order
	for offset := 0; ; offset += c.pageSize {
		req := postingListRequest{
			Dir:    "ASC",
			Filter: postingFilter{Since: since.UTC(), To: to},
			Limit:  c.pageSize,
			Offset: offset,
		}

		var resp postingListResponse
		if err := c.doRequest(ctx, "/v3/posting/fbs/list", req, &resp); err != nil {
			return nil, fmt.Errorf("listing postings: %w", err)
		}

		for _, p := range resp.Result.Postings {
			order, err := p.ToDomainType()
			if err != nil {
				return nil, fmt.Errorf("mapping posting %s: %w", p.PostingNumber, err)
			}
			orders = append(orders, order)
		}

		if !resp.Result.HasNext || len(resp.Result.Postings) == 0 {
			break
		}
	}

	return orders, nil
}

// StocksByArticles returns the FBS stock rows of the given articles.
// A product without stock in any warehouse is returned as one row with an empty warehouse.
func (c *Client) StocksByArticles(ctx context.Context, articles []string) ([]model.Stock, error) {
	if len(articles) == 0 {
		return nil, nil
	}

	var info productInfoResponse
	if err := c.doRequest(ctx, "/v3/product/info/list", productInfoRequest{OfferID: articles}, &info); err != nil {
		return nil, fmt.Errorf("getting product info: %w", err)
	}
	if len(info.Items) == 0 {
		return nil, nil
	}

	skus := make([]int64, 0, len(info.Items))
	for _, item := range info.Items {
		skus = append(skus, item.SKU)
	}

	var stocks warehouseStocksResponse
	if err := c.doRequest(ctx, "/v1/product/info/stocks-by-warehouse/fbs", warehouseStocksRequest{SKU: skus}, &stocks); err != nil {
		return nil, fmt.Errorf("getting warehouse stocks: %w", err)
	}

	bySKU := make(map[int64][]WarehouseStock, len(stocks.Result))
	for _, s := range stocks.Result {
		bySKU[s.SKU] = append(bySKU[s.SKU], s)
	}

	var result []model.Stock
	for _, item := range info.Items {
		rows := bySKU[item.SKU]
		if len(rows) == 0 {
			result = append(result, model.Stock{Article: item.OfferID, ID: strconv.FormatInt(item.ID, 10)})
			continue
		}
		for _, s := range rows {
			result = append(result, s.ToDomainType(item.OfferID))
		}
	}

	return result, nil
}

// UpdateStocks sets the FBS stock of the given rows and returns the rows Ozon accepted.
func (c *Client) UpdateStocks(ctx context.Context, stocks []model.Stock) ([]model.Stock, error) {
	if len(stocks) == 0 {
		return nil, nil
	}

	req := stocksRequest{Stocks: make([]stockUpdate, len(stocks))}
	sent := make(map[string]model.Stock, len(stocks))
	for i, s := range stocks {
		warehouseID, err := strconv.ParseInt(s.WarehouseID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid warehouse id %q: %w", s.WarehouseID, err)
		}
		req.Stocks[i] = stockUpdate{OfferID: s.Article, Stock: s.Quantity, WarehouseID: warehouseID}
		sent[s.Article+"\x00"+s.WarehouseID] = s
	}

	var resp updateResponse
	if err := c.doRequest(ctx, "/v2/products/stocks", req, &resp); err != nil {
		return nil, fmt.Errorf("updating stocks: %w", err)
	}

	var updated []model.Stock
	for _, r := range resp.Result {
		if !r.Updated {
			c.logRejected(ctx, "stock update rejected", r)
			continue
		}
		warehouseID := strconv.FormatInt(r.WarehouseID, 10)
		s, ok := sent[r.OfferID+"\x00"+warehouseID]
		if !ok {
			continue
		}
		s.ID = strconv.FormatInt(r.ProductID, 10)
		updated = append(updated, s)
	}

	return updated, nil
}

// ProductPricesByArticles returns the prices of the products with the given articles.
func (c *Client) ProductPricesByArticles(ctx context.Context, articles []string) ([]model.ProductPrices, error) {
	if len(articles) == 0 {
		return nil, nil
	}

	var (
		cursor string
		prices []model.ProductPrices
	)
	for {
		req := pricesRequest{
			Cursor: cursor,
			Filter: pricesFilter{OfferID: articles, Visibility: "ALL"},
			Limit:  c.pageSize,
		}

		var resp pricesResponse
		if err := c.doRequest(ctx, "/v5/product/info/prices", req, &resp); err != nil {
			return nil, fmt.Errorf("listing prices: %w", err)
		}

		for _, p := range resp.Items {
			prices = append(prices, p.ToDomainType())
		}

		if resp.Cursor == "" || len(resp.Items) == 0 {
			break
		}
		cursor = resp.Cursor
	}

	return prices, nil
}

// UpdateProductPrices writes the given prices and returns the products Ozon accepted.
// Only the price, old_price and min_price ids are sent.
func (c *Client) UpdateProductPrices(ctx context.Context, prices []model.ProductPrices) ([]model.ProductPrices, error) {
	if len(prices) == 0 {
		return nil, nil
	}

	req := importPricesRequest{Prices: make([]priceUpdate, len(prices))}
	sent := make(map[string]model.ProductPrices, len(prices))
	for i, p := range prices {
		req.Prices[i] = toPriceUpdate(p)
		sent[p.Article] = p
	}

	var resp updateResponse
	if err := c.doRequest(ctx, "/v1/product/import/prices", req, &resp); err != nil {
		return nil, fmt.Errorf("importing prices: %w", err)
	}

	var updated []model.ProductPrices
	for _, r := range resp.Result {
		if !r.Updated {
			c.logRejected(ctx, "price update rejected", r)
			continue
		}
		p, ok := sent[r.OfferID]
		if !ok {
			continue
		}
		if r.ProductID != 0 {
			p.ID = strconv.FormatInt(r.ProductID, 10)
		}
		updated = append(updated, p)
	}

	return updated, nil
}

// logRejected records why Ozon refused an item. The item is left out of the accepted results.
func (c *Client) logRejected(ctx context.Context, msg string, r UpdateResult) {
	reasons := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		reasons[i] = e.Code + ": " + e.Message
	}
	c.logger.WarnContext(ctx, msg,
		"offer_id", r.OfferID,
		"warehouse_id", r.WarehouseID,
		"errors", strings.Join(reasons, "; "))
}

// doRequest POSTs body as JSON to path and decodes the response into result.
func (c *Client) doRequest(ctx context.Context, path string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("Client-Id", c.clientID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return batch.NewHTTPError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

// Config holds the required configuration for creating a Client.
type Config struct {
	// APIKey is the seller API key.
	APIKey string

	// ClientID is the seller account id.
	ClientID string
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.APIKey == "" {
		errs = append(errs, errors.New("API key is required"))
	}
	if c.ClientID == "" {
		errs = append(errs, errors.New("client ID is required"))
	}
	return errors.Join(errs...)
}

// NewClient creates a new Ozon Seller API client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: o.timeout}
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    o.baseURL,
		clientID:   cfg.ClientID,
		httpClient: httpClient,
		logger:     o.logger,
		now:        o.now,
		pageSize:   o.pageSize,
	}, nil
}
