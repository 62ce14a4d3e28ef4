package email

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/example/gym-checkout/internal/domain/membership"
	"github.com/example/gym-checkout/internal/domain/order"
)

var funcs = template.FuncMap{
	"money": FormatMoney,
	"date":  func(t time.Time) string { return t.UTC().Format("2006-01-02") },
	"mul":   func(q int, p int64) int64 { return int64(q) * p },
}

var orderConfirmationTmpl = template.Must(template.New("order").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<h1 style="font-size: 22px;">Thanks for your order</h1>
	<p>Order <code>{{.ID}}</code> placed on {{date .CreatedAt}}.</p>
	<table style="width: 100%; border-collapse: collapse; margin: 20px 0;">
		<thead>
			<tr>
				<th style="text-align: left; padding: 8px; border-bottom: 2px solid #333;">Item</th>
				<th style="text-align: center; padding: 8px; border-bottom: 2px solid #333;">Qty</th>
				<th style="text-align: right; padding: 8px; border-bottom: 2px solid #333;">Price</th>
				<th style="text-align: right; padding: 8px; border-bottom: 2px solid #333;">Subtotal</th>
			</tr>
		</thead>
		<tbody>
		{{- range .Items}}
			<tr>
				<td style="padding: 8px; border-bottom: 1px solid #eee;">{{.Name}}</td>
				<td style="padding: 8px; border-bottom: 1px solid #eee; text-align: center;">{{.Quantity}}</td>
				<td style="padding: 8px; border-bottom: 1px solid #eee; text-align: right;">{{money .UnitPrice}}</td>
				<td style="padding: 8px; border-bottom: 1px solid #eee; text-align: right;">{{money (mul .Quantity .UnitPrice)}}</td>
			</tr>
		{{- end}}
		</tbody>
	</table>
	<p style="text-align: right; font-size: 18px;"><strong>Total {{money .TotalAmount}}</strong></p>
	{{- if .MembershipActivated}}
	<p>Your membership is active. See you at the gym!</p>
	{{- end}}
</body>
</html>
`))

var renewalReminderTmpl = template.Must(template.New("reminder").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<h1 style="font-size: 22px;">Your membership ends soon</h1>
	<p>Your plan{{if .SiteName}} at {{.SiteName}}{{end}} ends on <strong>{{date .PlanEnd}}</strong>.</p>
	<p>Renewal is open now, so you can buy your next plan without losing any days.</p>
</body>
</html>
`))

// BuildOrderConfirmationBody renders the HTML body of an order confirmation.
func BuildOrderConfirmationBody(o order.Order) (string, error) {
	return render(orderConfirmationTmpl, o)
}

// BuildRenewalReminderBody renders the HTML body of a renewal reminder.
func BuildRenewalReminderBody(r membership.RenewalReminder) (string, error) {
	return render(renewalReminderTmpl, r)
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// FormatMoney formats minor units as a decimal amount, e.g. 33970 -> "339.70".
func FormatMoney(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%s.%02d", sign, formatNumber(minor/100), minor%100)
}

// formatNumber adds thousand separators
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result []byte
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}
