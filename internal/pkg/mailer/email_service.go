package mailer

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"
)

var ErrNoRecipients = errors.New("mailer: no recipients configured")

// HealthAlert is the content of an operator alert mail.
type HealthAlert struct {
	Score         float64
	Rating        string
	Errors        int
	Reconnections int
	Disconnects   int
	Total         int
	Window        string
}

type IEmailService interface {
	SendHealthAlert(to []string, alert HealthAlert) error
}

// Sender is the part of gomail.Dialer the service needs.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type emailService struct {
	sender      Sender
	senderEmail string
	senderName  string
}

func NewEmailService(host string, port int, username, password, senderEmail, senderName string) IEmailService {
	return NewEmailServiceWithSender(gomail.NewDialer(host, port, username, password), senderEmail, senderName)
}

func NewEmailServiceWithSender(s Sender, senderEmail, senderName string) IEmailService {
	return &emailService{sender: s, senderEmail: senderEmail, senderName: senderName}
}

func (s *emailService) SendHealthAlert(to []string, alert HealthAlert) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}
	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.senderEmail, s.senderName)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", fmt.Sprintf("[WhatsApp] connection health %s (%.0f)", strings.ToUpper(alert.Rating), alert.Score))

	body := fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
			<h2>WhatsApp connection needs attention</h2>
			<p>Health score over the last %s: <b>%.1f</b> (%s)</p>
			<ul>
				<li>Events: %d</li>
				<li>Errors: %d</li>
				<li>Reconnections: %d</li>
				<li>Disconnects: %d</li>
			</ul>
			<p>Check the dashboard and the bridge sidecar logs.</p>
		</div>
	`, alert.Window, alert.Score, alert.Rating, alert.Total, alert.Errors, alert.Reconnections, alert.Disconnects)

	m.SetBody("text/html", body)
	return s.sender.DialAndSend(m)
}
