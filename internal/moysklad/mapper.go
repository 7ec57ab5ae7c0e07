package moysklad

import (
	"cmp"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/peteski22/shopbridge/internal/model"
)

// ToDomainType converts a CustomerOrder to its domain representation.
// Unparseable moments are left zero and non-string attribute values are dropped.
func (o *CustomerOrder) ToDomainType() model.Order {
	order := model.Order{
		Description:  o.Description,
		ExternalCode: o.ExternalCode,
		ID:           o.ID,
		Name:         o.Name,
	}

	if o.Moment != "" {
		if moment, err := time.ParseInLocation(momentLayout, o.Moment, moscow); err == nil {
			order.Moment = moment
		}
	}

	if o.State != nil {
		order.Status = o.State.Meta.ID()
	}

	for _, a := range o.Attributes {
		if v, ok := a.StringValue(); ok {
			order.Attributes = append(order.Attributes, model.Attribute{ID: a.ID, Value: v})
		}
	}

	if o.Positions != nil {
		for _, p := range o.Positions.Rows {
			order.Positions = append(order.Positions, p.ToDomainType())
		}
	}

	return order
}

// ToDomainType converts a Position to its domain representation.
func (p Position) ToDomainType() model.Position {
	return model.Position{
		Article:   p.Assortment.Article,
		Name:      p.Assortment.Name,
		Price:     fromKopecks(p.Price),
		ProductID: cmp.Or(p.Assortment.ID, p.Assortment.Meta.ID()),
		Quantity:  int64(math.Round(p.Quantity)),
	}
}

// ToDomainType converts a Product to its domain representation.
func (p *Product) ToDomainType() model.Product {
	return model.Product{
		Article: p.Article,
		ID:      cmp.Or(p.ID, p.Meta.ID()),
		Name:    p.Name,
	}
}

// PricesDomainType converts the sale prices of a Product. Price ids are price type ids.
func (p *Product) PricesDomainType() model.ProductPrices {
	prices := model.ProductPrices{
		Article: p.Article,
		ID:      cmp.Or(p.ID, p.Meta.ID()),
	}
	for _, sp := range p.SalePrices {
		prices.Prices = append(prices.Prices, model.Price{
			ID:    sp.PriceType.ID,
			Value: fromKopecks(sp.Value),
		})
	}
	return prices
}

// payload converts a domain order to the body sent to the API.
// Orders with an id become partial updates carrying only the set fields.
func (c *Client) payload(o model.Order) orderPayload {
	p := orderPayload{}

	if o.Status != "" {
		p.State = c.ref("customerorder/metadata/states/"+o.Status, "state")
	}

	if o.Positions != nil {
		p.Positions = make([]positionPayload, len(o.Positions))
		for i, pos := range o.Positions {
			p.Positions[i] = positionPayload{
				Assortment: *c.ref("product/"+pos.ProductID, "product"),
				Price:      toKopecks(pos.Price),
				Quantity:   pos.Quantity,
			}
		}
	}

	if o.ID != "" {
		p.Meta = &c.ref("customerorder/"+o.ID, "customerorder").Meta
		return p
	}

	p.Description = o.Description
	p.ExternalCode = o.ExternalCode
	p.Name = o.Name
	if !o.Moment.IsZero() {
		p.Moment = o.Moment.In(moscow).Format(momentLayout)
	}

	p.Agent = c.ref("counterparty/"+c.defaults.AgentID, "counterparty")
	p.Organization = c.ref("organization/"+c.defaults.OrganizationID, "organization")
	if c.defaults.StoreID != "" {
		p.Store = c.ref("store/"+c.defaults.StoreID, "store")
	}

	for _, a := range o.Attributes {
		p.Attributes = append(p.Attributes, attributeValue{
			Meta:  c.ref("customerorder/metadata/attributes/"+a.ID, "attributemetadata").Meta,
			Value: a.Value,
		})
	}

	return p
}

// ref builds a reference to an entity path below /entity.
func (c *Client) ref(entityPath string, entityType string) *MetaRef {
	return &MetaRef{Meta: Meta{
		Href:      c.baseURL + "/entity/" + entityPath,
		MediaType: "application/json",
		Type:      entityType,
	}}
}

// fromKopecks converts an API amount to currency units.
func fromKopecks(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Shift(-2)
}

// toKopecks converts currency units to an API amount.
func toKopecks(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}
