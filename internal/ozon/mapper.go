package ozon

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/peteski22/shopbridge/internal/model"
)

// ToDomainType converts a Posting to an order. The posting number serves as both id and external code.
func (p *Posting) ToDomainType() (model.Order, error) {
	order := model.Order{
		ExternalCode: p.PostingNumber,
		ID:           p.PostingNumber,
		Moment:       p.InProcessAt,
		Name:         p.OrderNumber,
		Status:       p.Status,
	}

	for _, item := range p.Products {
		price, err := parsePrice(item.Price)
		if err != nil {
			return model.Order{}, fmt.Errorf("product %s: %w", item.OfferID, err)
		}
		order.Positions = append(order.Positions, model.Position{
			Article:  item.OfferID,
			Name:     item.Name,
			Price:    price,
			Quantity: item.Quantity,
		})
	}

	return order, nil
}

// ToDomainType converts a WarehouseStock to a stock row of article.
func (s WarehouseStock) ToDomainType(article string) model.Stock {
	return model.Stock{
		Article:     article,
		ID:          strconv.FormatInt(s.ProductID, 10),
		Quantity:    s.Present,
		WarehouseID: strconv.FormatInt(s.WarehouseID, 10),
	}
}

// ToDomainType converts a ProductPrice to its domain representation. Zero amounts are left out.
func (p *ProductPrice) ToDomainType() model.ProductPrices {
	prices := model.ProductPrices{
		Article: p.OfferID,
		ID:      strconv.FormatInt(p.ProductID, 10),
	}

	for _, amount := range []struct {
		id    string
		value decimal.Decimal
	}{
		{id: PriceRegular, value: p.Price.Price},
		{id: PriceOld, value: p.Price.OldPrice},
		{id: PriceMin, value: p.Price.MinPrice},
	} {
		if amount.value.IsZero() {
			continue
		}
		prices.Prices = append(prices.Prices, model.Price{ID: amount.id, Value: amount.value})
	}

	return prices
}

// toPriceUpdate converts domain prices to an import entry. Unknown price ids are ignored.
func toPriceUpdate(p model.ProductPrices) priceUpdate {
	u := priceUpdate{OfferID: p.Article}
	for _, price := range p.Prices {
		value := price.Value.StringFixed(2)
		switch price.ID {
		case PriceRegular:
			u.Price = value
		case PriceOld:
			u.OldPrice = value
		case PriceMin:
			u.MinPrice = value
		}
	}
	return u
}

func parsePrice(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q: %w", s, err)
	}
	return d, nil
}
