package stripe

import (
	"bytes"
	"encoding/json"
)

// Invoices and payment intents are decoded into local shapes: their subscription
// and period fields moved between API versions and only a handful are needed.

// expandableID accepts either an object id or an expanded object with an id
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type period struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type invoiceLine struct {
	Period period `json:"period"`
	Price  *struct {
		ID        string `json:"id"`
		LookupKey string `json:"lookup_key"`
	} `json:"price"`
	Pricing *struct {
		PriceDetails *struct {
			Price expandableID `json:"price"`
		} `json:"price_details"`
	} `json:"pricing"`
}

func (l invoiceLine) priceID() string {
	if l.Pricing != nil && l.Pricing.PriceDetails != nil && l.Pricing.PriceDetails.Price != "" {
		return string(l.Pricing.PriceDetails.Price)
	}
	if l.Price != nil {
		return l.Price.ID
	}
	return ""
}

type invoiceObject struct {
	ID            string            `json:"id"`
	Customer      expandableID      `json:"customer"`
	CustomerEmail string            `json:"customer_email"`
	Subscription  expandableID      `json:"subscription"`
	Metadata      map[string]string `json:"metadata"`
	Created       int64             `json:"created"`

	Parent *struct {
		SubscriptionDetails *struct {
			Subscription expandableID      `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`

	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`

	Lines struct {
		Data []invoiceLine `json:"data"`
	} `json:"lines"`
}

// subscriptionID returns the subscription the invoice bills, empty for one-off invoices
func (inv *invoiceObject) subscriptionID() string {
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != "" {
		return string(inv.Parent.SubscriptionDetails.Subscription)
	}
	return string(inv.Subscription)
}

// metadata merges invoice metadata with the subscription metadata snapshot
func (inv *invoiceObject) metadata() map[string]string {
	md := make(map[string]string, len(inv.Metadata))
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		for k, v := range inv.Parent.SubscriptionDetails.Metadata {
			md[k] = v
		}
	}
	for k, v := range inv.Metadata {
		md[k] = v
	}
	return md
}

type paymentIntentObject struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	Customer       expandableID      `json:"customer"`
	ReceiptEmail   string            `json:"receipt_email"`
	Metadata       map[string]string `json:"metadata"`
	Created        int64             `json:"created"`

	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// objectType peeks at the "object" discriminator of a Stripe resource
func objectType(data []byte) string {
	var head struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ""
	}
	return head.Object
}
