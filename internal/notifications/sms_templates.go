package notifications

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"unicode"
)

const (
	SMSFirstReminder  = "first_reminder"
	SMSSecondReminder = "second_reminder"
	SMSFinalNotice    = "final_notice"
)

var smsTemplates = template.Must(template.New("sms").Parse(`
{{define "first_reminder"}}Hi {{.CustomerName}}, your Linkwave invoice {{.InvoiceNumber}} for R{{printf "%.2f" .AmountDue}} is {{.DaysOverdue}} day(s) overdue. Pay now: {{.PayURL}} or email us on {{.SupportEmail}}{{end}}
{{define "second_reminder"}}URGENT: {{.CustomerName}}, invoice {{.InvoiceNumber}} (R{{printf "%.2f" .AmountDue}}) is {{.DaysOverdue}} days overdue. Service may be suspended. Pay: {{.PayURL}} or email {{.SupportEmail}}{{end}}
{{define "final_notice"}}FINAL NOTICE: {{.CustomerName}}, invoice {{.InvoiceNumber}} (R{{printf "%.2f" .AmountDue}}) is {{.DaysOverdue}} days overdue. Pay immediately: {{.PayURL}} or email {{.SupportEmail}}{{end}}
`))

type SMSReminderData struct {
	CustomerName  string
	InvoiceNumber string
	AmountDue     float64
	DaysOverdue   int
	PayURL        string
	SupportEmail  string
}

// SelectSMSTemplate escalates with the number of reminders already sent and
// how late the invoice is.
func SelectSMSTemplate(remindersSent, daysOverdue int) string {
	switch {
	case remindersSent == 0 && daysOverdue <= 3:
		return SMSFirstReminder
	case remindersSent <= 1 && daysOverdue <= 7:
		return SMSSecondReminder
	default:
		return SMSFinalNotice
	}
}

func RenderSMS(name string, data SMSReminderData) (string, error) {
	var buf bytes.Buffer
	if err := smsTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render sms %s: %w", name, err)
	}
	return buf.String(), nil
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// ValidSAMobile accepts 0XXXXXXXXX, 27XXXXXXXXX or a bare 9 digit
// subscriber number.
func ValidSAMobile(phone string) bool {
	d := digitsOnly(phone)
	switch len(d) {
	case 10:
		return d[0] == '0'
	case 11:
		return strings.HasPrefix(d, "27")
	case 9:
		return d[0] != '0'
	default:
		return false
	}
}

// NormalizeSAMobile converts a valid number to the 27XXXXXXXXX form.
func NormalizeSAMobile(phone string) string {
	d := digitsOnly(phone)
	switch {
	case len(d) == 10 && d[0] == '0':
		return "27" + d[1:]
	case len(d) == 9:
		return "27" + d
	default:
		return d
	}
}
