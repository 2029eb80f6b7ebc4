package paypal

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// webhookPayload is the envelope of every PayPal webhook delivery
type webhookPayload struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	CreateTime   string          `json:"create_time"`
	ResourceType string          `json:"resource_type"`
	Resource     json.RawMessage `json:"resource"`
}

type money struct {
	// v2 resources use value/currency_code, v1 sales use total/currency
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
	Total        string `json:"total"`
	Currency     string `json:"currency"`
}

// minorUnits converts the decimal amount to the currency's minor unit.
// Two fraction digits are assumed; malformed amounts yield 0 (not set).
func (m money) minorUnits() int64 {
	v := m.Value
	if v == "" {
		v = m.Total
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	whole, frac, _ := strings.Cut(v, ".")
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	n, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (m money) currency() string {
	if m.CurrencyCode != "" {
		return strings.ToLower(m.CurrencyCode)
	}
	return strings.ToLower(m.Currency)
}

type subscriptionResource struct {
	ID               string `json:"id"`
	PlanID           string `json:"plan_id"`
	Status           string `json:"status"`
	CustomID         string `json:"custom_id"`
	StatusUpdateTime string `json:"status_update_time"`
	StartTime        string `json:"start_time"`

	Subscriber struct {
		EmailAddress string `json:"email_address"`
		PayerID      string `json:"payer_id"`
	} `json:"subscriber"`

	BillingInfo struct {
		NextBillingTime string `json:"next_billing_time"`
		LastPayment     struct {
			Time string `json:"time"`
		} `json:"last_payment"`
		LastFailedPayment struct {
			Time string `json:"time"`
		} `json:"last_failed_payment"`
	} `json:"billing_info"`
}

type saleResource struct {
	ID                 string `json:"id"`
	State              string `json:"state"`
	BillingAgreementID string `json:"billing_agreement_id"`
	Custom             string `json:"custom"`
	Amount             money  `json:"amount"`
	CreateTime         string `json:"create_time"`
}

type captureResource struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	CustomID string `json:"custom_id"`
	Amount   money  `json:"amount"`

	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

type orderResource struct {
	ID     string `json:"id"`
	Status string `json:"status"`

	Payer struct {
		EmailAddress string `json:"email_address"`
		Name         struct {
			GivenName string `json:"given_name"`
			Surname   string `json:"surname"`
		} `json:"name"`
	} `json:"payer"`

	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		CustomID    string `json:"custom_id"`
		Amount      money  `json:"amount"`
		Payments    struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// bookingID returns the booking reference carried by the first purchase unit.
// PayPal fills reference_id with "default" when the merchant set none.
func (o *orderResource) bookingID() string {
	for _, pu := range o.PurchaseUnits {
		if pu.CustomID != "" {
			return pu.CustomID
		}
		if pu.ReferenceID != "" && pu.ReferenceID != "default" {
			return pu.ReferenceID
		}
	}
	return ""
}

func (o *orderResource) payerName() string {
	return strings.TrimSpace(o.Payer.Name.GivenName + " " + o.Payer.Name.Surname)
}

// parseTime parses a PayPal RFC 3339 timestamp, zero if absent or malformed
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
