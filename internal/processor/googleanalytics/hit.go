package googleanalytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/measure/internal/canonical"
	"github.com/roach88/measure/internal/measure"
)

// Hit is one event ready for delivery.
type Hit struct {
	// Endpoint is the collection URL including measurement_id and
	// api_secret query parameters when configured.
	Endpoint string

	// TopLevel holds client_id, user_id, timestamp_micros, user_properties
	// and non_personalized_ads when present.
	TopLevel map[string]any

	EventName   string
	EventParams map[string]any
}

// Body returns the request body: top-level parameters plus a single-entry
// events list.
func (h Hit) Body() map[string]any {
	body := make(map[string]any, len(h.TopLevel)+1)
	for k, v := range h.TopLevel {
		body[k] = v
	}
	body["events"] = []any{
		map[string]any{
			"name":   h.EventName,
			"params": h.EventParams,
		},
	}
	return body
}

// RedactedEndpoint returns Endpoint with the api_secret value masked, for
// logging.
func (h Hit) RedactedEndpoint() string {
	u, err := url.Parse(h.Endpoint)
	if err != nil {
		return "<unparseable endpoint>"
	}
	q := u.Query()
	if !q.Has(OptAPISecret) {
		return h.Endpoint
	}
	q.Set(OptAPISecret, "redacted")
	u.RawQuery = q.Encode()
	return u.String()
}

// Sender delivers hits.
type Sender interface {
	Send(ctx context.Context, hit Hit) error
}

// LogSender logs each hit at DEBUG and delivers nothing.
type LogSender struct {
	Logger *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, hit Hit) error {
	body, err := canonical.Marshal(hit.Body())
	if err != nil {
		return fmt.Errorf("encode hit: %w", err)
	}
	s.Logger.DebugContext(ctx, "analytics hit",
		"endpoint", hit.RedactedEndpoint(),
		"event", hit.EventName,
		"body", string(body))
	return nil
}

// ProcessEvent builds a Hit for eventName and hands it to the sender.
//
// Parameter sources, in increasing precedence: the page model (automatic
// params only), then options. A missing client id is loaded from storage,
// or generated and saved with the client id expiry.
func (p *Processor) ProcessEvent(ctx context.Context, storage measure.Storage, model measure.Model, eventName string, options measure.Options) error {
	if eventName == "" {
		return errors.New("googleAnalytics: event name is required")
	}

	params := make(map[string]any, len(options)+len(p.automaticParams))
	for _, name := range p.automaticParams {
		if v := model.Get(name); v != nil {
			params[name] = v
		}
	}
	for k, v := range options {
		if configKeys[k] || v == nil {
			continue
		}
		params[k] = v
	}

	if _, ok := params[ClientIDKey]; !ok && slices.Contains(p.automaticParams, ClientIDKey) {
		id, err := p.clientID(ctx, storage)
		if err != nil {
			return err
		}
		params[ClientIDKey] = id
	}

	hit := Hit{
		Endpoint:    p.endpoint(),
		TopLevel:    make(map[string]any),
		EventName:   norm.NFC.String(eventName),
		EventParams: make(map[string]any),
	}
	for k, v := range params {
		k = norm.NFC.String(k)
		if s, ok := v.(string); ok {
			v = norm.NFC.String(s)
		}
		if topLevelParams[k] {
			hit.TopLevel[k] = v
		} else {
			hit.EventParams[k] = v
		}
	}

	if err := p.sender.Send(ctx, hit); err != nil {
		return fmt.Errorf("send %s hit: %w", hit.EventName, err)
	}
	return nil
}

// clientID returns the stored client id, generating and saving one if
// storage has none.
func (p *Processor) clientID(ctx context.Context, storage measure.Storage) (string, error) {
	v, found, err := storage.Load(ctx, ClientIDKey)
	if err != nil {
		return "", fmt.Errorf("load client id: %w", err)
	}
	if found {
		if id, ok := v.(string); ok && id != "" {
			return id, nil
		}
	}

	id := p.newClientID()
	if p.clientIDExpires != measure.DoNotPersist {
		if err := storage.Save(ctx, ClientIDKey, id, p.clientIDExpires); err != nil {
			return "", fmt.Errorf("save client id: %w", err)
		}
	}
	return id, nil
}

func (p *Processor) endpoint() string {
	u, err := url.Parse(p.measurementURL)
	if err != nil {
		return p.measurementURL
	}
	q := u.Query()
	if p.measurementID != "" {
		q.Set("measurement_id", p.measurementID)
	}
	if p.apiSecret != "" {
		q.Set("api_secret", p.apiSecret)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
