package exchanger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/m3rciful/swapbot/core/httpclient"
)

func newAPIID() string { return uuid.NewString() }

// Test checks credentials and reports the connection as seen by the server.
func (c *Client) Test(ctx context.Context) (Connection, error) {
	var w wireConnection
	if err := c.call(ctx, "test", nil, &w); err != nil {
		return Connection{}, err
	}
	return Connection{
		IP:        w.IP.String(),
		UserID:    w.UserID.String(),
		Locale:    w.Locale.String(),
		PartnerID: w.PartnerID.String(),
	}, nil
}

// Directions lists exchange directions. Empty ids do not filter.
func (c *Client) Directions(ctx context.Context, giveCurrencyID, getCurrencyID string) ([]Direction, error) {
	params := url.Values{}
	if giveCurrencyID != "" {
		params.Set("currency_id_give", giveCurrencyID)
	}
	if getCurrencyID != "" {
		params.Set("currency_id_get", getCurrencyID)
	}
	var items []wireDirection
	if err := c.call(ctx, "get_directions", params, &items); err != nil {
		return nil, err
	}
	out := make([]Direction, 0, len(items))
	for _, w := range items {
		out = append(out, Direction{
			ID:        w.ID.String(),
			GiveID:    w.GiveID.String(),
			GiveTitle: w.GiveTitle.String(),
			GetID:     w.GetID.String(),
			GetTitle:  w.GetTitle.String(),
		})
	}
	return out, nil
}

// Direction returns the details and submission fields of one direction.
func (c *Client) Direction(ctx context.Context, directionID string) (DirectionInfo, error) {
	params := url.Values{"direction_id": {directionID}}
	var w wireDirectionInfo
	if err := c.call(ctx, "get_direction", params, &w); err != nil {
		return DirectionInfo{}, err
	}
	return DirectionInfo{
		ID:           w.ID.orDefault(directionID),
		URL:          w.URL.String(),
		CurrencyGive: w.CurrencyGive.String(),
		CurrencyGet:  w.CurrencyGet.String(),
		CourseGive:   w.CourseGive.String(),
		CourseGet:    w.CourseGet.String(),
		Reserve:      w.Reserve.String(),
		MinGive:      w.MinGive.orDefault("no"),
		MaxGive:      w.MaxGive.orDefault("no"),
		MinGet:       w.MinGet.orDefault("no"),
		MaxGet:       w.MaxGet.orDefault("no"),
		GiveFields:   convertFields(w.GiveFields),
		GetFields:    convertFields(w.GetFields),
		DirFields:    convertFields(w.DirFields),
	}, nil
}

// CalcRequest describes a get_calc call.
type CalcRequest struct {
	DirectionID string
	Amount      string
	Action      CalcAction
	// Currency is the optional cd parameter.
	Currency string
}

// Calc prices an amount for a direction.
func (c *Client) Calc(ctx context.Context, r CalcRequest) (Calc, error) {
	action := r.Action
	if action == 0 {
		action = CalcGive
	}
	params := url.Values{
		"direction_id": {r.DirectionID},
		"calc_amount":  {r.Amount},
		"calc_action":  {strconv.Itoa(int(action))},
	}
	if r.Currency != "" {
		params.Set("cd", r.Currency)
	}
	var w wireCalc
	if err := c.call(ctx, "get_calc", params, &w); err != nil {
		return Calc{}, err
	}
	return Calc{
		SumGive:        w.SumGive.String(),
		SumGiveWithFee: w.SumGiveWithFee.String(),
		SumGet:         w.SumGet.String(),
		SumGetWithFee:  w.SumGetWithFee.String(),
		CurrencyGive:   w.CurrencyGive.String(),
		CurrencyGet:    w.CurrencyGet.String(),
		CourseGive:     w.CourseGive.String(),
		CourseGet:      w.CourseGet.String(),
		Reserve:        w.Reserve.String(),
		FeeGive:        w.FeeGive.String(),
		FeeGet:         w.FeeGet.String(),
		MinGive:        w.MinGive.orDefault("no"),
		MaxGive:        w.MaxGive.orDefault("no"),
		MinGet:         w.MinGet.orDefault("no"),
		MaxGet:         w.MaxGet.orDefault("no"),
		Changed:        strings.TrimSpace(w.Changed.String()) == "1",
	}, nil
}

// BidRequest describes a create_bid call.
type BidRequest struct {
	DirectionID string
	Amount      string
	Action      CalcAction
	PartnerID   string
	// Fields are merged into the request as-is.
	Fields map[string]string
}

// CreateBid creates an order. The request is never retried.
func (c *Client) CreateBid(ctx context.Context, r BidRequest) (Bid, error) {
	action := r.Action
	if action == 0 {
		action = CalcGive
	}
	params := url.Values{}
	for k, v := range r.Fields {
		params.Set(k, v)
	}
	params.Set("direction_id", r.DirectionID)
	params.Set("calc_amount", r.Amount)
	params.Set("calc_action", strconv.Itoa(int(action)))
	params.Set("api_id", c.apiID())
	if r.PartnerID != "" {
		params.Set("partner_id", r.PartnerID)
	}
	if c.callbackURL != "" {
		params.Set("callback_url", c.callbackURL)
	}
	var w wireBid
	if err := c.call(httpclient.WithoutRetry(ctx), "create_bid", params, &w); err != nil {
		return Bid{}, err
	}
	return w.bid(), nil
}

// BidInfo returns the current state of a bid by hash.
func (c *Client) BidInfo(ctx context.Context, hash string) (Bid, error) {
	return c.bidCall(ctx, "bid_info", url.Values{"hash": {hash}})
}

// CancelBid cancels a bid. Callers should check Actions.CanCancelViaAPI first.
func (c *Client) CancelBid(ctx context.Context, hash string) error {
	return c.call(httpclient.WithoutRetry(ctx), "cancel_bid", url.Values{"hash": {hash}}, nil)
}

// PayBid marks a bid as paid. Callers should check Actions.CanPayViaAPI first.
func (c *Client) PayBid(ctx context.Context, hash string) error {
	return c.call(httpclient.WithoutRetry(ctx), "pay_bid", url.Values{"hash": {hash}}, nil)
}

func (c *Client) bidCall(ctx context.Context, method string, params url.Values) (Bid, error) {
	var w wireBid
	if err := c.call(ctx, method, params, &w); err != nil {
		return Bid{}, err
	}
	return w.bid(), nil
}

// Exchanges lists bids created through the API.
func (c *Client) Exchanges(ctx context.Context, f ExchangeFilter) ([]Bid, error) {
	params := url.Values{}
	if f.StartTime > 0 {
		params.Set("start_time", strconv.FormatInt(f.StartTime, 10))
	}
	if f.EndTime > 0 {
		params.Set("end_time", strconv.FormatInt(f.EndTime, 10))
	}
	if f.BidID != "" {
		params.Set("id", f.BidID)
	}
	if f.APIID != "" {
		params.Set("api_id", f.APIID)
	}
	if f.StatusHistory {
		params.Set("status_history", "1")
	}
	if f.Limit > 0 {
		params.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		params.Set("offset", strconv.Itoa(f.Offset))
	}
	var raw json.RawMessage
	if err := c.call(ctx, "get_exchanges", params, &raw); err != nil {
		return nil, err
	}
	items, err := decodeItems(raw)
	if err != nil {
		return nil, fmt.Errorf("exchanger: get_exchanges: %w", err)
	}
	out := make([]Bid, 0, len(items))
	for _, w := range items {
		out = append(out, w.bid())
	}
	return out, nil
}

// decodeItems accepts either a list or an object carrying an items list.
func decodeItems(raw json.RawMessage) ([]wireBid, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var items []wireBid
		err := json.Unmarshal(raw, &items)
		return items, err
	}
	var wrapped struct {
		Items []wireBid `json:"items"`
	}
	err := json.Unmarshal(raw, &wrapped)
	return wrapped.Items, err
}
