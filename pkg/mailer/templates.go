package mailer

import (
	"fmt"
	"html"
	"time"
)

func TrackingLink(email, name, reference, link string, ttl time.Duration) Message {
	minutes := int(ttl.Minutes())
	return Message{
		ToEmail: email,
		ToName:  name,
		Subject: fmt.Sprintf("Track your appointment %s", reference),
		Text: fmt.Sprintf("Use this link to see the current status of appointment %s:\n%s\n\nThe link expires in %d minutes.",
			reference, link, minutes),
		HTML: fmt.Sprintf(`<h2>Appointment %s</h2>
<p>Use the button below to see the current status of your appointment.</p>
<p><a href="%s" style="background-color: #1f5fa8; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px;">Track appointment</a></p>
<p>This link expires in %d minutes. If you did not ask for it, you can ignore this email.</p>`,
			html.EscapeString(reference), html.EscapeString(link), minutes),
	}
}

func BookingConfirmation(email, name, reference, service, office string, at time.Time) Message {
	when := at.Format("Monday 2 January 2006, 15:04")
	return Message{
		ToEmail: email,
		ToName:  name,
		Subject: fmt.Sprintf("Appointment booked: %s", reference),
		Text: fmt.Sprintf("Hi %s,\n\nYour appointment for %s at %s is booked for %s.\nYour booking code is %s. Keep it to track or manage the appointment.",
			name, service, office, when, reference),
		HTML: fmt.Sprintf(`<p>Hi %s,</p>
<p>Your appointment for <strong>%s</strong> at %s is booked for <strong>%s</strong>.</p>
<p>Your booking code is <strong>%s</strong>. Keep it to track or manage the appointment.</p>`,
			html.EscapeString(name), html.EscapeString(service), html.EscapeString(office), when, html.EscapeString(reference)),
	}
}

func StatusChanged(email, name, reference, status, note string) Message {
	text := fmt.Sprintf("Hi %s,\n\nThe status of appointment %s is now: %s.", name, reference, status)
	body := fmt.Sprintf(`<p>Hi %s,</p><p>The status of appointment <strong>%s</strong> is now: <strong>%s</strong>.</p>`,
		html.EscapeString(name), html.EscapeString(reference), html.EscapeString(status))
	if note != "" {
		text += "\n\nNote from the officer: " + note
		body += "<p>Note from the officer: " + html.EscapeString(note) + "</p>"
	}
	return Message{
		ToEmail: email,
		ToName:  name,
		Subject: fmt.Sprintf("Appointment %s: %s", reference, status),
		Text:    text,
		HTML:    body,
	}
}

func PaymentReceipt(email, reference, taxType string, amountCents int64, currency string) Message {
	amount := fmt.Sprintf("%d.%02d %s", amountCents/100, amountCents%100, currency)
	return Message{
		ToEmail: email,
		Subject: fmt.Sprintf("Payment received: %s", reference),
		Text:    fmt.Sprintf("We received your %s payment of %s for %s. Thank you.", taxType, amount, reference),
		HTML: fmt.Sprintf(`<p>We received your <strong>%s</strong> payment of <strong>%s</strong> for %s.</p><p>Thank you.</p>`,
			html.EscapeString(taxType), html.EscapeString(amount), html.EscapeString(reference)),
	}
}
