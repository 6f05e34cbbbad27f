package email

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strings"

	"github.com/railzwaylabs/membership/internal/notification/domain"
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Provider struct {
	cfg  Config
	send sendFunc
}

func NewProvider(cfg Config) *Provider {
	return &Provider{cfg: cfg, send: smtp.SendMail}
}

func (p *Provider) Send(ctx context.Context, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return domain.ErrMissingRecipient
	}

	from := p.cfg.From
	if p.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", p.cfg.FromName, p.cfg.From)
	}
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		from, to, domain.Subject(msg.TemplateKey, msg.Data), renderBody(msg))

	var auth smtp.Auth
	if p.cfg.User != "" {
		auth = smtp.PlainAuth("", p.cfg.User, p.cfg.Password, p.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
	if err := p.send(addr, auth, p.cfg.From, []string{to}, []byte(body)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func renderBody(msg domain.Message) string {
	keys := make([]string, 0, len(msg.Data))
	for k := range msg.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(domain.Subject(msg.TemplateKey, msg.Data))
	b.WriteString("\r\n\r\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\r\n", k, msg.Data[k])
	}
	return b.String()
}
