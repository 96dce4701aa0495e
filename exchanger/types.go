package exchanger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// flexString accepts JSON strings, numbers, booleans and null.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*s = ""
	case b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
	case b[0] == '{' || b[0] == '[':
		*s = ""
	default:
		*s = flexString(b)
	}
	return nil
}

func (s flexString) String() string { return string(s) }

func (s flexString) orDefault(def string) string {
	if strings.TrimSpace(string(s)) == "" {
		return def
	}
	return string(s)
}

type envelope struct {
	Error     flexString      `json:"error"`
	ErrorText flexString      `json:"error_text"`
	Data      json.RawMessage `json:"data"`
}

// Connection is the response of the test method.
type Connection struct {
	IP        string
	UserID    string
	Locale    string
	PartnerID string
}

type wireConnection struct {
	IP        flexString `json:"ip"`
	UserID    flexString `json:"user_id"`
	Locale    flexString `json:"locale"`
	PartnerID flexString `json:"partner_id"`
}

// Direction is an entry of get_directions.
type Direction struct {
	ID        string
	GiveID    string
	GiveTitle string
	GetID     string
	GetTitle  string
}

type wireDirection struct {
	ID        flexString `json:"direction_id"`
	GiveID    flexString `json:"currency_give_id"`
	GiveTitle flexString `json:"currency_give_title"`
	GetID     flexString `json:"currency_get_id"`
	GetTitle  flexString `json:"currency_get_title"`
}

// Field is a submission field of a direction.
type Field struct {
	Name     string
	Label    string
	Type     string
	Required bool
}

type wireField struct {
	Name  flexString `json:"name"`
	Label flexString `json:"label"`
	Type  flexString `json:"type"`
	Req   flexString `json:"req"`
}

func (w wireField) field() Field {
	name := w.Name.String()
	return Field{
		Name:     name,
		Label:    w.Label.orDefault(name),
		Type:     w.Type.orDefault("text"),
		Required: strings.TrimSpace(w.Req.String()) == "1",
	}
}

// fieldList decodes fields sent either as a list or as an object keyed by
// field name. Object order is preserved.
type fieldList []wireField

func (l *fieldList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}
	switch b[0] {
	case '[':
		var items []wireField
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*l = items
		return nil
	case '{':
		dec := json.NewDecoder(bytes.NewReader(b))
		if _, err := dec.Token(); err != nil {
			return err
		}
		var out []wireField
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return err
			}
			key, _ := tok.(string)
			var f wireField
			if err := dec.Decode(&f); err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
			if f.Name == "" {
				f.Name = flexString(key)
			}
			out = append(out, f)
		}
		*l = out
		return nil
	default:
		*l = nil
		return nil
	}
}

// DirectionInfo is the response of get_direction.
type DirectionInfo struct {
	ID           string
	URL          string
	CurrencyGive string
	CurrencyGet  string
	CourseGive   string
	CourseGet    string
	Reserve      string
	MinGive      string
	MaxGive      string
	MinGet       string
	MaxGet       string
	GiveFields   []Field
	GetFields    []Field
	DirFields    []Field
}

// Fields returns give, get and direction fields in that order.
func (d DirectionInfo) Fields() []Field {
	out := make([]Field, 0, len(d.GiveFields)+len(d.GetFields)+len(d.DirFields))
	out = append(out, d.GiveFields...)
	out = append(out, d.GetFields...)
	return append(out, d.DirFields...)
}

type wireDirectionInfo struct {
	ID           flexString `json:"id"`
	URL          flexString `json:"url"`
	CurrencyGive flexString `json:"currency_code_give"`
	CurrencyGet  flexString `json:"currency_code_get"`
	CourseGive   flexString `json:"course_give"`
	CourseGet    flexString `json:"course_get"`
	Reserve      flexString `json:"reserve"`
	MinGive      flexString `json:"min_give"`
	MaxGive      flexString `json:"max_give"`
	MinGet       flexString `json:"min_get"`
	MaxGet       flexString `json:"max_get"`
	GiveFields   fieldList  `json:"give_fields"`
	GetFields    fieldList  `json:"get_fields"`
	DirFields    fieldList  `json:"dir_fields"`
}

func convertFields(in fieldList) []Field {
	out := make([]Field, 0, len(in))
	for _, f := range in {
		out = append(out, f.field())
	}
	return out
}

// CalcAction names the side a calculation amount refers to.
type CalcAction int

const (
	CalcGive CalcAction = iota + 1
	CalcGet
	CalcGiveWithFee
	CalcGetWithFee
)

// Calc is the response of get_calc.
type Calc struct {
	SumGive        string
	SumGiveWithFee string
	SumGet         string
	SumGetWithFee  string
	CurrencyGive   string
	CurrencyGet    string
	CourseGive     string
	CourseGet      string
	Reserve        string
	FeeGive        string
	FeeGet         string
	MinGive        string
	MaxGive        string
	MinGet         string
	MaxGet         string
	Changed        bool
}

type wireCalc struct {
	SumGive        flexString `json:"sum_give"`
	SumGiveWithFee flexString `json:"sum_give_com"`
	SumGet         flexString `json:"sum_get"`
	SumGetWithFee  flexString `json:"sum_get_com"`
	CurrencyGive   flexString `json:"currency_code_give"`
	CurrencyGet    flexString `json:"currency_code_get"`
	CourseGive     flexString `json:"course_give"`
	CourseGet      flexString `json:"course_get"`
	Reserve        flexString `json:"reserve"`
	FeeGive        flexString `json:"com_give"`
	FeeGet         flexString `json:"com_get"`
	MinGive        flexString `json:"min_give"`
	MaxGive        flexString `json:"max_give"`
	MinGet         flexString `json:"min_get"`
	MaxGet         flexString `json:"max_get"`
	Changed        flexString `json:"changed"`
}

// Bid is an exchange order as reported by create_bid and bid_info.
type Bid struct {
	ID           string
	Hash         string
	URL          string
	Status       string
	StatusTitle  string
	AmountGive   string
	AmountGet    string
	CurrencyGive string
	CurrencyGet  string
	Actions      Actions
}

// Actions are the api_actions of a bid.
type Actions struct {
	Pay         string
	Cancel      string
	Type        string
	Instruction string
	PayAmount   string
}

// CanPayViaAPI reports whether pay_bid may be called.
func (a Actions) CanPayViaAPI() bool { return a.Pay == "api" }

// CanCancelViaAPI reports whether cancel_bid may be called.
func (a Actions) CanCancelViaAPI() bool { return a.Cancel == "api" }

// PaymentURL returns the merchant link, if payment goes through one.
func (a Actions) PaymentURL() string {
	if strings.HasPrefix(a.Pay, "http") {
		return a.Pay
	}
	return ""
}

type wireBid struct {
	ID           flexString `json:"id"`
	Hash         flexString `json:"hash"`
	URL          flexString `json:"url"`
	Status       flexString `json:"status"`
	StatusTitle  flexString `json:"status_title"`
	AmountGive   flexString `json:"amount_give"`
	AmountGet    flexString `json:"amount_get"`
	CurrencyGive flexString `json:"currency_code_give"`
	CurrencyGet  flexString `json:"currency_code_get"`
	Actions      struct {
		Pay         flexString `json:"pay"`
		Cancel      flexString `json:"cancel"`
		Type        flexString `json:"type"`
		Instruction flexString `json:"instruction"`
		PayAmount   flexString `json:"pay_amount"`
	} `json:"api_actions"`
}

func (w wireBid) bid() Bid {
	return Bid{
		ID:           w.ID.String(),
		Hash:         w.Hash.String(),
		URL:          w.URL.String(),
		Status:       w.Status.String(),
		StatusTitle:  w.StatusTitle.String(),
		AmountGive:   w.AmountGive.String(),
		AmountGet:    w.AmountGet.String(),
		CurrencyGive: w.CurrencyGive.String(),
		CurrencyGet:  w.CurrencyGet.String(),
		Actions: Actions{
			Pay:         w.Actions.Pay.String(),
			Cancel:      w.Actions.Cancel.String(),
			Type:        w.Actions.Type.String(),
			Instruction: w.Actions.Instruction.String(),
			PayAmount:   w.Actions.PayAmount.String(),
		},
	}
}

// ExchangeFilter narrows get_exchanges.
type ExchangeFilter struct {
	StartTime     int64
	EndTime       int64
	BidID         string
	APIID         string
	StatusHistory bool
	Limit         int
	Offset        int
}
