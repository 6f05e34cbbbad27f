package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/railzwaylabs/membership/internal/notification/domain"
)

type Config struct {
	Endpoint string
	APIKey   string
	Sender   string
}

// Provider posts SMS messages to an HTTP gateway.
type Provider struct {
	cfg    Config
	client *http.Client
}

func NewProvider(cfg Config) *Provider {
	return &Provider{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (p *Provider) Send(ctx context.Context, msg domain.Message) error {
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return domain.ErrMissingRecipient
	}

	body, err := json.Marshal(map[string]any{
		"to":       to,
		"from":     p.cfg.Sender,
		"sms":      domain.Subject(msg.TemplateKey, msg.Data),
		"template": msg.TemplateKey,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("sms_api_error: status=%d", resp.StatusCode)
	}
	return nil
}
