// Package moysklad provides a client for the MoySklad JSON API 1.2.
package moysklad

import (
	"encoding/json"
	"path"
	"strings"
	"time"
)

// momentLayout is the timestamp format used by the API. Moments are in Moscow time.
const momentLayout = "2006-01-02 15:04:05.000"

// moscow is the fixed zone MoySklad reports moments in.
var moscow = time.FixedZone("MSK", 3*60*60)

// Meta is the reference every MoySklad entity carries.
type Meta struct {
	// Href is the entity URL.
	Href string `json:"href"`

	// MediaType is the content type, always application/json.
	MediaType string `json:"mediaType,omitempty"`

	// NextHref is the next page URL on list responses.
	NextHref string `json:"nextHref,omitempty"`

	// Type is the entity type, e.g. "product".
	Type string `json:"type,omitempty"`
}

// ID returns the entity id, the last segment of Href.
func (m Meta) ID() string {
	href, _, _ := strings.Cut(m.Href, "?")
	if href == "" {
		return ""
	}
	return path.Base(href)
}

// MetaRef wraps a Meta the way the API expects references to be sent.
type MetaRef struct {
	// Meta is the referenced entity.
	Meta Meta `json:"meta"`
}

// Attribute is a custom field value.
type Attribute struct {
	// ID is the attribute definition id.
	ID string `json:"id,omitempty"`

	// Meta references the attribute definition.
	Meta Meta `json:"meta"`

	// Name is the attribute name.
	Name string `json:"name,omitempty"`

	// Value is the attribute value. Only string values are kept.
	Value json.RawMessage `json:"value"`
}

// StringValue returns the value when it is a JSON string.
func (a Attribute) StringValue() (string, bool) {
	var s string
	if err := json.Unmarshal(a.Value, &s); err != nil {
		return "", false
	}
	return s, true
}

// CustomerOrder is a customerorder entity as returned by the API.
type CustomerOrder struct {
	// Attributes are the custom field values.
	Attributes []Attribute `json:"attributes,omitempty"`

	// Description is the order comment.
	Description string `json:"description,omitempty"`

	// ExternalCode correlates the order with other systems.
	ExternalCode string `json:"externalCode,omitempty"`

	// ID is the entity id.
	ID string `json:"id"`

	// Meta is the entity reference.
	Meta Meta `json:"meta"`

	// Moment is the order date in momentLayout.
	Moment string `json:"moment,omitempty"`

	// Name is the order number.
	Name string `json:"name,omitempty"`

	// Positions are the expanded line items.
	Positions *positionList `json:"positions,omitempty"`

	// State is the order status reference.
	State *MetaRef `json:"state,omitempty"`
}

// Position is an expanded customer order line item.
type Position struct {
	// Assortment is the expanded product.
	Assortment Product `json:"assortment"`

	// ID is the position id.
	ID string `json:"id,omitempty"`

	// Price is the unit price in kopecks.
	Price float64 `json:"price"`

	// Quantity is the number of units.
	Quantity float64 `json:"quantity"`
}

// Product is a product entity.
type Product struct {
	// Article is the vendor code.
	Article string `json:"article,omitempty"`

	// Code is the product code.
	Code string `json:"code,omitempty"`

	// ID is the entity id.
	ID string `json:"id,omitempty"`

	// Meta is the entity reference.
	Meta Meta `json:"meta"`

	// Name is the product name.
	Name string `json:"name,omitempty"`

	// SalePrices are the typed sale prices.
	SalePrices []SalePrice `json:"salePrices,omitempty"`
}

// PriceType identifies a sale price type.
type PriceType struct {
	// ExternalCode is the price type code.
	ExternalCode string `json:"externalCode,omitempty"`

	// ID is the price type id.
	ID string `json:"id"`

	// Name is the price type name.
	Name string `json:"name,omitempty"`
}

// SalePrice is one typed price of a product.
type SalePrice struct {
	// PriceType identifies the price.
	PriceType PriceType `json:"priceType"`

	// Value is the amount in kopecks.
	Value float64 `json:"value"`
}

// StoreStock is the stock of one product in one store.
type StoreStock struct {
	// Meta references the store.
	Meta Meta `json:"meta"`

	// Name is the store name.
	Name string `json:"name"`

	// Reserve is the reserved quantity.
	Reserve float64 `json:"reserve"`

	// Stock is the quantity on hand.
	Stock float64 `json:"stock"`
}

// StockRow is one row of the stock by store report.
type StockRow struct {
	// Meta references the product.
	Meta Meta `json:"meta"`

	// StockByStore lists the stock per store.
	StockByStore []StoreStock `json:"stockByStore"`
}

// positionList is the expanded positions collection of an order.
type positionList struct {
	// Rows are the positions.
	Rows []Position `json:"rows"`
}

// listResponse is a paged collection response.
type listResponse[T any] struct {
	// Meta carries the paging links.
	Meta Meta `json:"meta"`

	// Rows are the entities of the page.
	Rows []T `json:"rows"`
}

// orderPayload is a customerorder as sent for creation or update.
type orderPayload struct {
	Agent        *MetaRef          `json:"agent,omitempty"`
	Attributes   []attributeValue  `json:"attributes,omitempty"`
	Description  string            `json:"description,omitempty"`
	ExternalCode string            `json:"externalCode,omitempty"`
	Meta         *Meta             `json:"meta,omitempty"`
	Moment       string            `json:"moment,omitempty"`
	Name         string            `json:"name,omitempty"`
	Organization *MetaRef          `json:"organization,omitempty"`
	Positions    []positionPayload `json:"positions,omitempty"`
	State        *MetaRef          `json:"state,omitempty"`
	Store        *MetaRef          `json:"store,omitempty"`
}

// attributeValue is a custom field value as sent.
type attributeValue struct {
	Meta  Meta   `json:"meta"`
	Value string `json:"value"`
}

// positionPayload is a line item as sent.
type positionPayload struct {
	Assortment MetaRef `json:"assortment"`
	Price      int64   `json:"price"`
	Quantity   int64   `json:"quantity"`
}

// savedEntity is one element of a mass create or update response.
type savedEntity struct {
	CustomerOrder

	// Errors is set when the element was rejected.
	Errors []apiError `json:"errors,omitempty"`
}

// apiError is an error entry returned by the API.
type apiError struct {
	// Code is the MoySklad error code.
	Code int `json:"code"`

	// Error is the message.
	Error string `json:"error"`
}

// tokenResponse is the response of the token endpoint.
type tokenResponse struct {
	// AccessToken is the bearer token.
	AccessToken string `json:"access_token"`
}
