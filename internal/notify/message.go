package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/hazz-dev/canary/internal/mail"
)

const signature = "-- Canary"

// Compose renders the alert as a plain-text message without a recipient.
func Compose(a Alert) mail.Message {
	var subject string
	switch a.Kind {
	case KindRecovered:
		subject = fmt.Sprintf("[Canary] %s recovered", a.CheckName)
	default:
		subject = fmt.Sprintf("[Canary] %s is DOWN", a.CheckName)
	}

	lines := []string{
		"Check: " + a.CheckName,
		"URL: " + a.CheckURL,
		"When: " + a.At.UTC().Format(time.RFC3339),
	}
	if a.StatusCode != nil {
		lines = append(lines, fmt.Sprintf("Status: %d", *a.StatusCode))
	}
	if a.Error != "" {
		lines = append(lines, "Error: "+a.Error)
	}
	lines = append(lines, "", signature)

	return mail.Message{Subject: subject, Body: strings.Join(lines, "\n")}
}
