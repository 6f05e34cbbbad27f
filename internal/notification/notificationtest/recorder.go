// Package notificationtest provides in-memory notification fakes for tests.
package notificationtest

import (
	"context"
	"errors"
	"sync"

	"github.com/railzwaylabs/membership/internal/notification/domain"
)

// Recorder captures messages. It satisfies both domain.Provider and
// domain.Dispatcher. Setting Err makes every send fail after recording.
type Recorder struct {
	mu   sync.Mutex
	msgs []domain.Message
	Err  error
}

func (r *Recorder) Send(_ context.Context, msg domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.Err
}

func (r *Recorder) Notify(ctx context.Context, to domain.Recipient, templateKey string, data map[string]any) error {
	var errs []error
	if to.Email != "" {
		errs = append(errs, r.Send(ctx, domain.Message{Channel: domain.ChannelEmail, To: to.Email, TemplateKey: templateKey, Data: data}))
	}
	if to.Phone != "" {
		errs = append(errs, r.Send(ctx, domain.Message{Channel: domain.ChannelSMS, To: to.Phone, TemplateKey: templateKey, Data: data}))
	}
	return errors.Join(errs...)
}

func (r *Recorder) Messages() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// ByTemplate returns the recorded messages for one template key.
func (r *Recorder) ByTemplate(key string) []domain.Message {
	var out []domain.Message
	for _, m := range r.Messages() {
		if m.TemplateKey == key {
			out = append(out, m)
		}
	}
	return out
}
