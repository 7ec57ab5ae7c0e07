// Package ozon provides a client for the Ozon Seller API.
package ozon

import (
	"time"

	"github.com/shopspring/decimal"
)

// Price ids of the prices an Ozon product carries.
const (
	// PriceMin is the lowest price automatic promotions may apply.
	PriceMin = "min_price"

	// PriceOld is the strikethrough price shown before discounts.
	PriceOld = "old_price"

	// PriceRegular is the selling price.
	PriceRegular = "price"
)

// Posting is an FBS shipment, the unit Ozon splits a customer order into.
type Posting struct {
	// InProcessAt is when the posting was accepted for processing.
	InProcessAt time.Time `json:"in_process_at"`

	// OrderID is the id of the customer order.
	OrderID int64 `json:"order_id"`

	// OrderNumber is the customer order number.
	OrderNumber string `json:"order_number"`

	// PostingNumber is the unique shipment number.
	PostingNumber string `json:"posting_number"`

	// Products are the shipped items.
	Products []PostingProduct `json:"products"`

	// Status is the shipment status, e.g. "awaiting_packaging".
	Status string `json:"status"`
}

// PostingProduct is one item of a posting.
type PostingProduct struct {
	// CurrencyCode is the currency of Price.
	CurrencyCode string `json:"currency_code"`

	// Name is the product name.
	Name string `json:"name"`

	// OfferID is the seller article.
	OfferID string `json:"offer_id"`

	// Price is the unit price as a decimal string.
	Price string `json:"price"`

	// Quantity is the number of units.
	Quantity int64 `json:"quantity"`

	// SKU is the Ozon product id.
	SKU int64 `json:"sku"`
}

// ProductInfo is the catalog entry of a product.
type ProductInfo struct {
	// ID is the product id.
	ID int64 `json:"id"`

	// Name is the product name.
	Name string `json:"name"`

	// OfferID is the seller article.
	OfferID string `json:"offer_id"`

	// SKU is the Ozon product id used by the stock endpoints.
	SKU int64 `json:"sku"`
}

// WarehouseStock is the FBS stock of one product in one seller warehouse.
type WarehouseStock struct {
	// Present is the quantity on hand.
	Present int64 `json:"present"`

	// ProductID is the product id.
	ProductID int64 `json:"product_id"`

	// Reserved is the quantity reserved by open postings.
	Reserved int64 `json:"reserved"`

	// SKU is the Ozon product id.
	SKU int64 `json:"sku"`

	// WarehouseID is the seller warehouse id.
	WarehouseID int64 `json:"warehouse_id"`

	// WarehouseName is the seller warehouse name.
	WarehouseName string `json:"warehouse_name"`
}

// ProductPrice is the price block of one product.
type ProductPrice struct {
	// OfferID is the seller article.
	OfferID string `json:"offer_id"`

	// Price holds the amounts.
	Price PriceDetails `json:"price"`

	// ProductID is the product id.
	ProductID int64 `json:"product_id"`
}

// PriceDetails holds the amounts of one product.
type PriceDetails struct {
	// CurrencyCode is the currency of every amount.
	CurrencyCode string `json:"currency_code"`

	// MinPrice is the lowest price automatic promotions may apply.
	MinPrice decimal.Decimal `json:"min_price"`

	// OldPrice is the strikethrough price.
	OldPrice decimal.Decimal `json:"old_price"`

	// Price is the selling price.
	Price decimal.Decimal `json:"price"`
}

// UpdateResult is the per-item outcome of a stock or price import.
type UpdateResult struct {
	// Errors explains why the item was rejected.
	Errors []ItemError `json:"errors"`

	// OfferID is the seller article.
	OfferID string `json:"offer_id"`

	// ProductID is the product id.
	ProductID int64 `json:"product_id"`

	// Updated is true when the item was accepted.
	Updated bool `json:"updated"`

	// WarehouseID is the warehouse of a stock import.
	WarehouseID int64 `json:"warehouse_id"`
}

// ItemError is one rejection reason.
type ItemError struct {
	// Code is the error code.
	Code string `json:"code"`

	// Message is the error description.
	Message string `json:"message"`
}

// postingListRequest is the body of /v3/posting/fbs/list.
type postingListRequest struct {
	Dir    string        `json:"dir"`
	Filter postingFilter `json:"filter"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

type postingFilter struct {
	Since time.Time `json:"since"`
	To    time.Time `json:"to"`
}

type postingListResponse struct {
	Result struct {
		HasNext  bool      `json:"has_next"`
		Postings []Posting `json:"postings"`
	} `json:"result"`
}

type productInfoRequest struct {
	OfferID []string `json:"offer_id"`
}

type productInfoResponse struct {
	Items []ProductInfo `json:"items"`
}

type warehouseStocksRequest struct {
	SKU []int64 `json:"sku"`
}

type warehouseStocksResponse struct {
	Result []WarehouseStock `json:"result"`
}

type stockUpdate struct {
	OfferID     string `json:"offer_id"`
	Stock       int64  `json:"stock"`
	WarehouseID int64  `json:"warehouse_id"`
}

type stocksRequest struct {
	Stocks []stockUpdate `json:"stocks"`
}

type pricesRequest struct {
	Cursor string       `json:"cursor"`
	Filter pricesFilter `json:"filter"`
	Limit  int          `json:"limit"`
}

type pricesFilter struct {
	OfferID    []string `json:"offer_id"`
	Visibility string   `json:"visibility"`
}

type pricesResponse struct {
	Cursor string         `json:"cursor"`
	Items  []ProductPrice `json:"items"`
}

// priceUpdate carries amounts as strings; unset amounts are left as they are.
type priceUpdate struct {
	MinPrice string `json:"min_price,omitempty"`
	OfferID  string `json:"offer_id"`
	OldPrice string `json:"old_price,omitempty"`
	Price    string `json:"price,omitempty"`
}

type importPricesRequest struct {
	Prices []priceUpdate `json:"prices"`
}

type updateResponse struct {
	Result []UpdateResult `json:"result"`
}
