package moysklad

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/peteski22/shopbridge/internal/batch"
	"github.com/peteski22/shopbridge/internal/model"
)

const (
	// expandLimit is the page size allowed when nested entities are expanded.
	expandLimit = 100

	// pageLimit is the page size of plain list requests.
	pageLimit = 1000

	// productLookupChunk bounds the ids per product filter while resolving stock rows.
	productLookupChunk = 100
)

// OrderDefaults holds the references every created customer order needs.
type OrderDefaults struct {
	// AgentID is the counterparty the orders are placed by.
	AgentID string

	// OrganizationID is the legal entity receiving the orders.
	OrganizationID string

	// StoreID is the optional store the orders ship from.
	StoreID string
}

// Client is a MoySklad JSON API client.
type Client struct {
	// baseURL is the base URL for API requests.
	baseURL string

	// defaults are the references of created orders.
	defaults OrderDefaults

	// httpClient is the HTTP client for making requests.
	httpClient *http.Client

	// logger receives the elements MoySklad rejects.
	logger *slog.Logger

	// tokenManager handles the bearer token.
	tokenManager *tokenManager
}

// OrdersByIDs returns the customer orders with the given ids, positions expanded.
func (c *Client) OrdersByIDs(ctx context.Context, ids []string) ([]model.Order, error) {
	orders, err := c.listOrders(ctx, filter("id", ids))
	if err != nil {
		return nil, fmt.Errorf("listing orders by id: %w", err)
	}
	return orders, nil
}

// OrdersByExternalCodes returns the customer orders with the given external codes, positions expanded.
func (c *Client) OrdersByExternalCodes(ctx context.Context, codes []string) ([]model.Order, error) {
	orders, err := c.listOrders(ctx, filter("externalCode", codes))
	if err != nil {
		return nil, fmt.Errorf("listing orders by external code: %w", err)
	}
	return orders, nil
}

// OrdersByAttribute returns the customer orders whose custom field holds one of values.
func (c *Client) OrdersByAttribute(ctx context.Context, attributeID string, values []string) ([]model.Order, error) {
	field := c.baseURL + "/entity/customerorder/metadata/attributes/" + attributeID

	orders, err := c.listOrders(ctx, filter(field, values))
	if err != nil {
		return nil, fmt.Errorf("listing orders by attribute: %w", err)
	}
	return orders, nil
}

// ProductsByIDs returns the products with the given ids.
func (c *Client) ProductsByIDs(ctx context.Context, ids []string) ([]model.Product, error) {
	products, err := c.listProducts(ctx, filter("id", ids), expandLimit)
	if err != nil {
		return nil, fmt.Errorf("listing products by id: %w", err)
	}
	return toProducts(products), nil
}

// ProductsByArticles returns the products with the given articles.
func (c *Client) ProductsByArticles(ctx context.Context, articles []string) ([]model.Product, error) {
	products, err := c.listProducts(ctx, filter("article", articles), expandLimit)
	if err != nil {
		return nil, fmt.Errorf("listing products by article: %w", err)
	}
	return toProducts(products), nil
}

// SaveOrders creates orders without an id and updates the others in one mass request.
// Rejected elements are logged and left out of the returned orders.
func (c *Client) SaveOrders(ctx context.Context, orders []model.Order) ([]model.Order, error) {
	if len(orders) == 0 {
		return nil, nil
	}

	payloads := make([]orderPayload, len(orders))
	for i, o := range orders {
		payloads[i] = c.payload(o)
	}

	var saved []savedEntity
	if err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/entity/customerorder", payloads, &saved); err != nil {
		return nil, fmt.Errorf("saving orders: %w", err)
	}

	result := make([]model.Order, 0, len(saved))
	for i, s := range saved {
		if len(s.Errors) > 0 {
			reasons := make([]string, len(s.Errors))
			for j, e := range s.Errors {
				reasons[j] = fmt.Sprintf("%d: %s", e.Code, e.Error)
			}

			// Mass responses keep the order of the request.
			var sent model.Order
			if i < len(orders) {
				sent = orders[i]
			}
			c.logger.WarnContext(ctx, "order rejected",
				"target_id", sent.ID,
				"external_code", sent.ExternalCode,
				"errors", strings.Join(reasons, "; "))
			continue
		}
		result = append(result, s.ToDomainType())
	}
	return result, nil
}

// Stocks returns the available quantity of every product per store.
// Variants and products without an article are left out.
func (c *Client) Stocks(ctx context.Context) ([]model.Stock, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(pageLimit))

	rows, err := list[StockRow](ctx, c, c.baseURL+"/report/stock/bystore?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("loading stock report: %w", err)
	}

	var productIDs []string
	for _, r := range rows {
		if r.Meta.Type == "product" {
			productIDs = append(productIDs, r.Meta.ID())
		}
	}

	items := batch.Lookup(
		ctx,
		productIDs,
		batch.DispatchFunc[string, []model.Product](c.ProductsByIDs),
		batch.ExtractorFunc[string, []model.Product, model.Product](
			func(products []model.Product, _ batch.Chunk[string]) ([]batch.Match[string, model.Product], error) {
				matches := make([]batch.Match[string, model.Product], len(products))
				for i, p := range products {
					matches[i] = batch.Match[string, model.Product]{Entity: p, Key: p.ID}
				}
				return matches, nil
			},
		),
		batch.WithChunkSize(productLookupChunk),
	)

	articles := make(map[string]string, len(items))
	var errs []error
	for _, item := range items {
		switch {
		case item.OK():
			articles[item.Value] = item.Entities[0].Article
		case item.Err.Type != batch.ErrorTypeNotFound && item.Err.Type != batch.ErrorTypeDuplicate:
			errs = append(errs, item.Err)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("resolving stock articles: %w", errors.Join(errs...))
	}

	var stocks []model.Stock
	for _, r := range rows {
		article := articles[r.Meta.ID()]
		if r.Meta.Type != "product" || article == "" {
			continue
		}
		for _, s := range r.StockByStore {
			stocks = append(stocks, model.Stock{
				Article:     article,
				Quantity:    available(s),
				WarehouseID: s.Meta.ID(),
			})
		}
	}

	return stocks, nil
}

// ProductPrices returns the sale prices of every product with an article.
func (c *Client) ProductPrices(ctx context.Context) ([]model.ProductPrices, error) {
	products, err := c.listProducts(ctx, "", pageLimit)
	if err != nil {
		return nil, fmt.Errorf("listing product prices: %w", err)
	}

	var prices []model.ProductPrices
	for _, p := range products {
		if p.Article == "" {
			continue
		}
		prices = append(prices, p.PricesDomainType())
	}
	return prices, nil
}

func (c *Client) listOrders(ctx context.Context, filterExpr string) ([]model.Order, error) {
	params := url.Values{}
	params.Set("filter", filterExpr)
	params.Set("expand", "positions.assortment")
	params.Set("limit", strconv.Itoa(expandLimit))

	rows, err := list[CustomerOrder](ctx, c, c.baseURL+"/entity/customerorder?"+params.Encode())
	if err != nil {
		return nil, err
	}

	orders := make([]model.Order, len(rows))
	for i := range rows {
		orders[i] = rows[i].ToDomainType()
	}
	return orders, nil
}

func (c *Client) listProducts(ctx context.Context, filterExpr string, limit int) ([]Product, error) {
	params := url.Values{}
	if filterExpr != "" {
		params.Set("filter", filterExpr)
	}
	params.Set("limit", strconv.Itoa(limit))

	return list[Product](ctx, c, c.baseURL+"/entity/product?"+params.Encode())
}

// list follows the nextHref links of a collection and returns every row.
func list[T any](ctx context.Context, c *Client, reqURL string) ([]T, error) {
	var all []T
	for reqURL != "" {
		var page listResponse[T]
		if err := c.doRequest(ctx, http.MethodGet, reqURL, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Rows...)
		reqURL = page.Meta.NextHref
	}
	return all, nil
}

// doRequest executes an authenticated JSON request. A rejected token is replaced once.
func (c *Client) doRequest(ctx context.Context, method string, reqURL string, body any, result any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
	}

	token, err := c.tokenManager.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("getting access token: %w", err)
	}

	resp, err := c.send(ctx, method, reqURL, payload, token)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		_ = resp.Body.Close()

		token, err = c.tokenManager.Invalidate(ctx, token)
		if err != nil {
			return fmt.Errorf("renewing access token: %w", err)
		}
		resp, err = c.send(ctx, method, reqURL, payload, token)
		if err != nil {
			return err
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return batch.NewHTTPError(resp)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}

func (c *Client) send(ctx context.Context, method string, reqURL string, payload []byte, token string) (*http.Response, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	return resp, nil
}

// filter builds a filter expression matching any of values. The API ORs repeated conditions on one field.
func filter(field string, values []string) string {
	conditions := make([]string, len(values))
	for i, v := range values {
		conditions[i] = field + "=" + v
	}
	return strings.Join(conditions, ";")
}

func toProducts(products []Product) []model.Product {
	out := make([]model.Product, len(products))
	for i := range products {
		out[i] = products[i].ToDomainType()
	}
	return out
}

// available is the unreserved stock, never negative.
func available(s StoreStock) int64 {
	return max(int64(math.Floor(s.Stock-s.Reserve)), 0)
}

// Config holds the required configuration for creating a Client.
type Config struct {
	// Login is the account login used to issue tokens. Optional when the token store holds a token.
	Login string

	// OrderDefaults are the references of created orders.
	OrderDefaults OrderDefaults

	// Password is the account password used to issue tokens.
	Password string

	// TokenStore provides access to the bearer token.
	TokenStore TokenStore
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if (c.Login == "") != (c.Password == "") {
		errs = append(errs, errors.New("login and password must be set together"))
	}
	if c.OrderDefaults.OrganizationID == "" {
		errs = append(errs, errors.New("organization ID is required"))
	}
	if c.OrderDefaults.AgentID == "" {
		errs = append(errs, errors.New("agent ID is required"))
	}
	if c.TokenStore == nil {
		errs = append(errs, errors.New("token store is required"))
	}
	return errors.Join(errs...)
}

// NewClient creates a new MoySklad API client.
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

	tm := newTokenManager(o.baseURL, cfg.Login, cfg.Password, cfg.TokenStore, httpClient)

	return &Client{
		baseURL:      o.baseURL,
		defaults:     cfg.OrderDefaults,
		httpClient:   httpClient,
		logger:       o.logger,
		tokenManager: tm,
	}, nil
}

// IssueToken obtains a new token with the configured credentials and saves it to the token store.
func (c *Client) IssueToken(ctx context.Context) error {
	if _, err := c.tokenManager.Issue(ctx); err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	return nil
}
