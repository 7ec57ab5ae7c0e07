// Package model defines the entity snapshots exchanged between source and target systems.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Attribute is a user defined custom field on an entity.
type Attribute struct {
	// ID identifies the custom field.
	ID string `json:"id" validate:"required"`

	// Value is the field value.
	Value string `json:"value"`
}

// Order is a customer order snapshot.
type Order struct {
	// Attributes are custom "additional" fields.
	Attributes []Attribute `json:"attributes,omitempty" validate:"omitempty,dive"`

	// Description is a free text comment.
	Description string `json:"description,omitempty"`

	// ExternalCode correlates the order with the other system.
	ExternalCode string `json:"externalCode,omitempty" validate:"omitempty,max=255"`

	// ID is the identifier within its own system. Empty for orders not yet created.
	ID string `json:"id,omitempty"`

	// Moment is when the order was placed.
	Moment time.Time `json:"moment"`

	// Name is the human readable order number.
	Name string `json:"name,omitempty" validate:"omitempty,max=255"`

	// Positions are the order line items.
	Positions []Position `json:"positions,omitempty" validate:"omitempty,dive"`

	// Status is the system specific status identifier.
	Status string `json:"status,omitempty"`
}

// Attribute returns the value of the custom field with the given id.
func (o Order) Attribute(id string) (string, bool) {
	for _, a := range o.Attributes {
		if a.ID == id {
			return a.Value, true
		}
	}
	return "", false
}

// Position is an order line item.
type Position struct {
	// Article is the vendor code of the product.
	Article string `json:"article,omitempty" validate:"required_without=ProductID"`

	// Name is the product name as shown on the order.
	Name string `json:"name,omitempty"`

	// Price is the unit price.
	Price decimal.Decimal `json:"price"`

	// ProductID identifies the product, in whichever system the position came from.
	ProductID string `json:"productId,omitempty" validate:"required_without=Article"`

	// Quantity is the number of units.
	Quantity int64 `json:"quantity" validate:"gt=0"`
}

// Product is a catalog entry.
type Product struct {
	// Article is the vendor code.
	Article string `json:"article"`

	// ID is the catalog identifier.
	ID string `json:"id"`

	// Name is the product name.
	Name string `json:"name"`
}

// Stock is the quantity of one article in one warehouse.
type Stock struct {
	// Article is the vendor code of the product.
	Article string `json:"article" validate:"required"`

	// ID is the target row identifier when known.
	ID string `json:"id,omitempty"`

	// Quantity is the number of units available.
	Quantity int64 `json:"quantity" validate:"gte=0"`

	// WarehouseID identifies the warehouse.
	WarehouseID string `json:"warehouseId" validate:"required"`
}

// Price is one typed price of a product.
type Price struct {
	// ID identifies the price type.
	ID string `json:"id" validate:"required"`

	// Value is the price amount.
	Value decimal.Decimal `json:"value"`
}

// ProductPrices is the set of prices of one product.
type ProductPrices struct {
	// Article is the vendor code of the product.
	Article string `json:"article" validate:"required"`

	// ID is the product identifier when known.
	ID string `json:"id,omitempty"`

	// Prices are the typed prices.
	Prices []Price `json:"prices" validate:"required,dive"`
}

// Price returns the price with the given type id.
func (p ProductPrices) Price(id string) (Price, bool) {
	for _, price := range p.Prices {
		if price.ID == id {
			return price, true
		}
	}
	return Price{}, false
}
