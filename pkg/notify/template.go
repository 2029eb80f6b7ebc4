package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

const confirmationHTML = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #222;">
  <h2>Your booking is confirmed</h2>
  <p>Hi {{ if .ClientName }}{{ .ClientName }}{{ else }}there{{ end }},</p>
  <p>Thanks for your payment. Here are the details of your booking:</p>
  <table cellpadding="4">
    {{ if .EventType }}<tr><td><strong>Event</strong></td><td>{{ .EventType }}</td></tr>{{ end }}
    {{ if .EventDate }}<tr><td><strong>Date</strong></td><td>{{ .EventDate }}</td></tr>{{ end }}
    {{ if .StartTime }}<tr><td><strong>Time</strong></td><td>{{ .StartTime }}{{ if .EndTime }} - {{ .EndTime }}{{ end }}</td></tr>{{ end }}
    {{ if .Venue }}<tr><td><strong>Venue</strong></td><td>{{ .Venue }}</td></tr>{{ end }}
    {{ if .Amount }}<tr><td><strong>Paid</strong></td><td>{{ money .Amount .Currency }}</td></tr>{{ end }}
    <tr><td><strong>Reference</strong></td><td>{{ .ID }}</td></tr>
  </table>
  {{ if .DJEmail }}<p>Questions? Just reply to this email.</p>{{ end }}
</body>
</html>
`

var confirmationTemplate = template.Must(template.New("confirmation").
	Funcs(template.FuncMap{"money": formatMoney}).
	Parse(confirmationHTML))

func renderConfirmation(tmpl *template.Template, b bookingsync.Booking) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, b); err != nil {
		return "", fmt.Errorf("render confirmation: %w", err)
	}
	return buf.String(), nil
}

func confirmationSubject(b bookingsync.Booking) string {
	switch {
	case b.EventType != "" && b.EventDate != "":
		return fmt.Sprintf("Booking confirmed: %s on %s", b.EventType, b.EventDate)
	case b.EventDate != "":
		return "Booking confirmed for " + b.EventDate
	default:
		return "Your booking is confirmed"
	}
}

// formatMoney renders minor units as a decimal amount with the currency code
func formatMoney(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	s := fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
	if currency == "" {
		return s
	}
	return s + " " + strings.ToUpper(currency)
}
