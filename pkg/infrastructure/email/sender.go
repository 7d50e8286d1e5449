package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"text/template"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"payments/pkg/domain/model"
)

// Sender delivers the two fulfillment emails. Both are fire-and-forget from
// the pipeline's perspective; callers log failures and move on. The context
// bounds the whole delivery, connection included.
type Sender interface {
	SendWelcomeWithPackage(ctx context.Context, user *model.User, order *model.Order, resetToken string) error
	SendPurchaseConfirmation(ctx context.Context, user *model.User, order *model.Order) error
}

type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	FrontendURL string
}

// NewSender returns the SMTP sender, or a log-only sender when SMTP is not
// configured so development environments complete fulfillment without a
// mail server.
func NewSender(cfg Config) Sender {
	if cfg.Host == "" {
		return &logSender{}
	}
	return &smtpSender{cfg: cfg}
}

type smtpSender struct {
	cfg Config
}

var welcomeTemplate = template.Must(template.New("welcome").Parse(
	`Hi {{.Name}},

thank you for your purchase! Order {{.OrderNumber}} is complete and the
following packages are waiting for you:

{{range .Packages}}  - {{.}}
{{end}}
Your account was created with this email address. Set your password here to
log in for the first time:

  {{.SetPasswordURL}}

The link is valid for a limited time.

Total paid: {{.Total}} {{.Currency}}
`))

var confirmationTemplate = template.Must(template.New("confirmation").Parse(
	`Hi {{.Name}},

thank you for your purchase! Order {{.OrderNumber}} is complete and the
following packages were added to your account:

{{range .Packages}}  - {{.}}
{{end}}
Total paid: {{.Total}} {{.Currency}}
`))

type templateData struct {
	Name           string
	OrderNumber    string
	Packages       []string
	SetPasswordURL string
	Total          string
	Currency       string
}

func (s *smtpSender) SendWelcomeWithPackage(ctx context.Context, user *model.User, order *model.Order, resetToken string) error {
	data := newTemplateData(user, order)
	data.SetPasswordURL = fmt.Sprintf("%s/auth/set-password?token=%s", s.cfg.FrontendURL, resetToken)

	body, err := render(welcomeTemplate, data)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("Welcome! Your order %s is ready", order.OrderNumber)
	return s.send(ctx, user.Email, subject, body)
}

func (s *smtpSender) SendPurchaseConfirmation(ctx context.Context, user *model.User, order *model.Order) error {
	body, err := render(confirmationTemplate, newTemplateData(user, order))
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("Order %s confirmed", order.OrderNumber)
	return s.send(ctx, user.Email, subject, body)
}

// send dials under the caller's context and pins the context deadline on the
// connection, so a hung SMTP server cannot hold the side-effect worker past
// its job timeout.
func (s *smtpSender) send(ctx context.Context, to, subject, body string) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "dial smtp %s", addr)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "smtp handshake")
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return errors.Wrap(err, "smtp starttls")
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return errors.Wrap(err, "smtp auth")
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return errors.Wrap(err, "smtp mail from")
	}
	if err := client.Rcpt(to); err != nil {
		return errors.Wrapf(err, "smtp rcpt to %s", to)
	}
	w, err := client.Data()
	if err != nil {
		return errors.Wrap(err, "smtp data")
	}
	if _, err := w.Write([]byte(msg.String())); err != nil {
		return errors.Wrapf(err, "send mail to %s", to)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "send mail to %s", to)
	}
	return client.Quit()
}

func newTemplateData(user *model.User, order *model.Order) templateData {
	packages := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		packages = append(packages, item.PackageTitle)
	}
	return templateData{
		Name:        user.Name,
		OrderNumber: order.OrderNumber,
		Packages:    packages,
		Total:       fmt.Sprintf("%.2f", float64(order.Total)/100.0),
		Currency:    order.Currency,
	}
}

func render(tmpl *template.Template, data templateData) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", errors.Wrap(err, "render email template")
	}
	return b.String(), nil
}

// logSender stands in when SMTP is unconfigured.
type logSender struct{}

func (l *logSender) SendWelcomeWithPackage(ctx context.Context, user *model.User, order *model.Order, resetToken string) error {
	log.WithFields(log.Fields{
		"email":        user.Email,
		"order_number": order.OrderNumber,
	}).Info("SMTP not configured, skipping welcome email")
	return nil
}

func (l *logSender) SendPurchaseConfirmation(ctx context.Context, user *model.User, order *model.Order) error {
	log.WithFields(log.Fields{
		"email":        user.Email,
		"order_number": order.OrderNumber,
	}).Info("SMTP not configured, skipping confirmation email")
	return nil
}
