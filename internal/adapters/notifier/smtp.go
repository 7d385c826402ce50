package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"pasantias-monitor/internal/domain"
	"pasantias-monitor/internal/infra/metrics"
)

// SMTPConfig описывает почтовый сервер отправителя.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	// StartTLS требует шифрования; без него сервер без STARTTLS отклоняется.
	StartTLS bool
	Timeout  time.Duration
}

// SMTP отправляет письма: text/plain и text/html в одном multipart/alternative.
type SMTP struct {
	cfg SMTPConfig
	now func() time.Time
}

var _ domain.Notifier = (*SMTP)(nil)

// NewSMTP создаёт почтовый нотификатор.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp: не задан сервер")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("smtp: неверный адрес отправителя %q: %w", cfg.From, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTP{cfg: cfg, now: time.Now}, nil
}

// Send доставляет письмо одному адресату.
func (s *SMTP) Send(ctx context.Context, recipient domain.Recipient, subject, body string) error {
	to, err := mail.ParseAddress(recipient.Address)
	if err != nil {
		return fmt.Errorf("smtp: неверный адрес получателя %q: %w", recipient.Address, err)
	}
	to.Name = recipient.Name
	msg, err := s.buildMessage(to, subject, body)
	if err != nil {
		return err
	}

	start := time.Now()
	err = s.deliver(ctx, to.Address, msg)
	metrics.ObserveNetworkRequest("smtp", "send_mail", s.cfg.Host, start, err)
	return err
}

func (s *SMTP) deliver(ctx context.Context, to string, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	} else if s.cfg.StartTLS {
		return errors.New("smtp: сервер не поддерживает STARTTLS")
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	from, _ := mail.ParseAddress(s.cfg.From)
	if err := client.Mail(from.Address); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	return client.Quit()
}

func (s *SMTP) buildMessage(to *mail.Address, subject, body string) ([]byte, error) {
	from, _ := mail.ParseAddress(s.cfg.From)
	if s.cfg.FromName != "" {
		from.Name = s.cfg.FromName
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	headers := []struct{ k, v string }{
		{"From", from.String()},
		{"To", to.String()},
		{"Subject", mime.QEncoding.Encode("utf-8", subject)},
		{"Date", s.now().Format(time.RFC1123Z)},
		{"Message-ID", "<" + uuid.NewString() + "@" + domainOf(from.Address) + ">"},
		{"MIME-Version", "1.0"},
		{"Content-Type", "multipart/alternative; boundary=" + mw.Boundary()},
	}
	for _, h := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h.k, h.v)
	}
	buf.WriteString("\r\n")

	if err := writePart(mw, "text/plain; charset=utf-8", body); err != nil {
		return nil, err
	}
	if err := writePart(mw, "text/html; charset=utf-8", renderHTML(subject, body)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("smtp: multipart: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(mw *multipart.Writer, contentType, content string) error {
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return fmt.Errorf("smtp: part: %w", err)
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(strings.ReplaceAll(content, "\n", "\r\n"))); err != nil {
		return fmt.Errorf("smtp: part: %w", err)
	}
	return qp.Close()
}

// renderHTML превращает текстовое письмо в простую HTML-версию: абзацы и кликабельные ссылки.
func renderHTML(subject, body string) string {
	var b strings.Builder
	b.WriteString("<html><body style=\"font-family: Arial, sans-serif; line-height: 1.5\">\n")
	b.WriteString("<h2>" + html.EscapeString(subject) + "</h2>\n")
	for _, para := range strings.Split(strings.TrimSpace(body), "\n\n") {
		lines := strings.Split(para, "\n")
		for i, line := range lines {
			lines[i] = linkify(html.EscapeString(line))
		}
		b.WriteString("<p>" + strings.Join(lines, "<br>\n") + "</p>\n")
	}
	b.WriteString("</body></html>\n")
	return b.String()
}

func linkify(escaped string) string {
	words := strings.Fields(escaped)
	for i, w := range words {
		if strings.HasPrefix(w, "http://") || strings.HasPrefix(w, "https://") {
			words[i] = `<a href="` + w + `">` + w + `</a>`
		}
	}
	return strings.Join(words, " ")
}

func domainOf(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 {
		return address[i+1:]
	}
	return "localhost"
}
