package exchanger

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/swapbot/exchange/catalog"
	"github.com/m3rciful/swapbot/exchange/fields"
	"github.com/m3rciful/swapbot/exchange/order"
	"github.com/m3rciful/swapbot/exchange/quote"
)

// Gateway adapts the API client to the exchange engine interfaces.
type Gateway struct {
	client    *Client
	cache     *DirectionCache
	partnerID string
}

var (
	_ catalog.Source = (*Gateway)(nil)
	_ quote.Fetcher  = (*Gateway)(nil)
	_ fields.Source  = (*Gateway)(nil)
	_ order.Service  = (*Gateway)(nil)
)

// NewGateway wires client and cache. cache may be nil to always hit the API.
func NewGateway(client *Client, cache *DirectionCache, partnerID string) *Gateway {
	return &Gateway{client: client, cache: cache, partnerID: partnerID}
}

// FetchDirections implements catalog.Source.
func (g *Gateway) FetchDirections(ctx context.Context) ([]catalog.Direction, error) {
	var (
		items []Direction
		err   error
	)
	if g.cache != nil {
		items, err = g.cache.Directions(ctx)
	} else {
		items, err = g.client.Directions(ctx, "", "")
	}
	if err != nil {
		return nil, err
	}
	out := make([]catalog.Direction, 0, len(items))
	for _, d := range items {
		out = append(out, catalog.Direction{
			ID:        d.ID,
			GiveID:    d.GiveID,
			GiveLabel: strings.TrimSpace(d.GiveTitle),
			GetID:     d.GetID,
			GetLabel:  strings.TrimSpace(d.GetTitle),
		})
	}
	return out, nil
}

// FetchQuote implements quote.Fetcher.
func (g *Gateway) FetchQuote(ctx context.Context, req quote.Request) (quote.Quote, error) {
	calc, err := g.client.Calc(ctx, CalcRequest{
		DirectionID: req.DirectionID,
		Amount:      req.Amount.String(),
		Action:      actionFor(req.Pivot),
	})
	if err != nil {
		return quote.Quote{}, err
	}
	q := quote.Quote{
		GiveCurrency: calc.CurrencyGive,
		GetCurrency:  calc.CurrencyGet,
		RateGive:     lenient(calc.CourseGive),
		RateGet:      lenient(calc.CourseGet),
		FeeGive:      calc.FeeGive,
		FeeGet:       calc.FeeGet,
		Reserve:      quote.ParseLimit(calc.Reserve),
		MinGive:      quote.ParseLimit(calc.MinGive),
		MaxGive:      quote.ParseLimit(calc.MaxGive),
		MinGet:       quote.ParseLimit(calc.MinGet),
		MaxGet:       quote.ParseLimit(calc.MaxGet),
		Changed:      calc.Changed,
	}
	if q.SumGive, err = strict("sum_give", calc.SumGive); err != nil {
		return quote.Quote{}, err
	}
	if q.SumGet, err = strict("sum_get", calc.SumGet); err != nil {
		return quote.Quote{}, err
	}
	q.SumGiveWithFee = lenientOr(calc.SumGiveWithFee, q.SumGive)
	q.SumGetWithFee = lenientOr(calc.SumGetWithFee, q.SumGet)
	return q, nil
}

// FetchDirectionFields implements fields.Source.
func (g *Gateway) FetchDirectionFields(ctx context.Context, directionID string) (fields.Set, error) {
	info, err := g.client.Direction(ctx, directionID)
	if err != nil {
		return fields.Set{}, err
	}
	var set fields.Set
	seen := map[string]bool{}
	for _, f := range info.Fields() {
		if f.Name == "" || seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		ff := fields.Field{Name: f.Name, Label: f.Label, Type: f.Type, Required: f.Required}
		if f.Required {
			set.Required = append(set.Required, ff)
		} else {
			set.Optional = append(set.Optional, ff)
		}
	}
	return set, nil
}

// CreateOrder implements order.Service.
func (g *Gateway) CreateOrder(ctx context.Context, req order.CreateRequest) (order.Order, error) {
	bid, err := g.client.CreateBid(ctx, BidRequest{
		DirectionID: req.DirectionID,
		Amount:      req.Amount.String(),
		Action:      actionFor(req.Pivot),
		PartnerID:   g.partnerID,
		Fields:      req.Fields,
	})
	if err != nil {
		return order.Order{}, err
	}
	if bid.Hash == "" && bid.ID == "" {
		return order.Order{}, fmt.Errorf("exchanger: create_bid: response carries no bid id")
	}
	return toOrder(bid), nil
}

// FetchOrderStatus implements order.Service.
func (g *Gateway) FetchOrderStatus(ctx context.Context, hash string) (order.Order, error) {
	bid, err := g.client.BidInfo(ctx, hash)
	if err != nil {
		return order.Order{}, err
	}
	return toOrder(bid), nil
}

// PayOrder marks the order paid and returns its refreshed state.
func (g *Gateway) PayOrder(ctx context.Context, hash string) (order.Order, error) {
	if err := g.client.PayBid(ctx, hash); err != nil {
		return order.Order{}, err
	}
	return g.FetchOrderStatus(ctx, hash)
}

// CancelOrder cancels the order and returns its refreshed state.
func (g *Gateway) CancelOrder(ctx context.Context, hash string) (order.Order, error) {
	if err := g.client.CancelBid(ctx, hash); err != nil {
		return order.Order{}, err
	}
	return g.FetchOrderStatus(ctx, hash)
}

func toOrder(b Bid) order.Order {
	return order.Order{
		ID:           b.ID,
		Hash:         b.Hash,
		URL:          b.URL,
		StatusCode:   b.Status,
		StatusTitle:  b.StatusTitle,
		AmountGive:   lenient(b.AmountGive),
		AmountGet:    lenient(b.AmountGet),
		CurrencyGive: b.CurrencyGive,
		CurrencyGet:  b.CurrencyGet,
		PaymentURL:   b.Actions.PaymentURL(),
		PaymentType:  b.Actions.Type,
		Instruction:  b.Actions.Instruction,
		CanPayViaAPI: b.Actions.CanPayViaAPI(),
		CanCancel:    b.Actions.CanCancelViaAPI(),
	}
}

func actionFor(p quote.Pivot) CalcAction {
	if p == quote.PivotGet {
		return CalcGet
	}
	return CalcGive
}

func strict(name, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("exchanger: get_calc: invalid %s %q", name, s)
	}
	return d, nil
}

func lenient(s string) decimal.Decimal {
	return lenientOr(s, decimal.Zero)
}

func lenientOr(s string, def decimal.Decimal) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return d
}
