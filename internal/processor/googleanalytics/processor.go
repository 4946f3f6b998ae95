// Package googleanalytics is the built-in googleAnalytics event processor.
//
// The processor keeps a durable client id in storage, gathers automatic
// page parameters from event options and the page model, and splits every
// event into top-level and event-scoped parameters (a Hit). Delivering the
// hit is delegated to a Sender; the default sender only logs it.
package googleanalytics

import (
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/measure/internal/measure"
)

const (
	// Name is the registry name and the page model key for extra options.
	Name = "googleAnalytics"

	// DefaultMeasurementURL is the collection endpoint used when no
	// measurement_url option is given.
	DefaultMeasurementURL = "https://www.google-analytics.com/mp/collect"

	// ClientIDKey is the storage key of the generated client id.
	ClientIDKey = "client_id"
)

// Construction option keys.
const (
	OptAPISecret       = "api_secret"
	OptMeasurementID   = "measurement_id"
	OptMeasurementURL  = "measurement_url"
	OptClientIDExpires = "client_id_expires"
	OptAutomaticParams = "automatic_params"
)

// configKeys are construction options. Configured event options are merged
// into every event, so these are filtered out of outgoing parameters.
var configKeys = map[string]bool{
	OptAPISecret:       true,
	OptMeasurementID:   true,
	OptMeasurementURL:  true,
	OptClientIDExpires: true,
	OptAutomaticParams: true,
}

// defaultAutomaticParams are looked up on every event.
var defaultAutomaticParams = map[string]bool{
	"page_path":     true,
	"page_location": true,
	"page_title":    true,
	"user_id":       true,
	"client_id":     true,
}

// topLevelParams go at the top level of a hit instead of under the event.
var topLevelParams = map[string]bool{
	"client_id":            true,
	"user_id":              true,
	"timestamp_micros":     true,
	"user_properties":      true,
	"non_personalized_ads": true,
}

// Processor implements measure.Processor and measure.Namer.
type Processor struct {
	automaticParams []string
	apiSecret       string
	measurementID   string
	measurementURL  string
	clientIDExpires measure.TTL

	newClientID func() string
	sender      Sender
	logger      *slog.Logger
}

// Option customizes a Processor beyond its construction options.
type Option func(*Processor)

// WithSender replaces the default logging sender.
func WithSender(s Sender) Option {
	return func(p *Processor) {
		if s != nil {
			p.sender = s
		}
	}
}

// WithClientIDGenerator replaces UUID v4 generation, e.g. for deterministic
// tests.
func WithClientIDGenerator(gen func() string) Option {
	return func(p *Processor) {
		if gen != nil {
			p.newClientID = gen
		}
	}
}

// WithLogger sets the logger used by the default sender.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New builds a processor from construction options:
//
//	api_secret         string, optional
//	measurement_id     string, optional, upper-cased
//	measurement_url    absolute https URL, default DefaultMeasurementURL
//	client_id_expires  TTL for the client id, default forever
//	automatic_params   {name: bool} enabling or disabling automatic params
func New(opts measure.Options, options ...Option) (*Processor, error) {
	p := &Processor{
		measurementURL:  DefaultMeasurementURL,
		clientIDExpires: measure.Forever,
		newClientID:     func() string { return uuid.New().String() },
		logger:          slog.Default(),
	}

	var err error
	if p.apiSecret, _, err = opts.String(OptAPISecret); err != nil {
		return nil, err
	}

	id, _, err := opts.String(OptMeasurementID)
	if err != nil {
		return nil, err
	}
	p.measurementID = strings.ToUpper(id)

	if raw, ok, err := opts.String(OptMeasurementURL); err != nil {
		return nil, err
	} else if ok {
		if err := validateMeasurementURL(raw); err != nil {
			return nil, err
		}
		p.measurementURL = raw
	}

	if ttl, ok, err := opts.TTL(OptClientIDExpires); err != nil {
		return nil, err
	} else if ok {
		if err := ttl.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", OptClientIDExpires, err)
		}
		p.clientIDExpires = ttl
	}

	enabled := maps.Clone(defaultAutomaticParams)
	overrides, _, err := opts.Map(OptAutomaticParams)
	if err != nil {
		return nil, err
	}
	for name := range overrides {
		on, _, err := overrides.Bool(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", OptAutomaticParams, err)
		}
		enabled[name] = on
	}
	for name, on := range enabled {
		if on {
			p.automaticParams = append(p.automaticParams, name)
		}
	}
	slices.Sort(p.automaticParams)

	for _, opt := range options {
		opt(p)
	}
	if p.sender == nil {
		p.sender = &LogSender{Logger: p.logger}
	}
	return p, nil
}

// Constructor is the registry entry for the processor.
func Constructor(opts measure.Options) (measure.Processor, error) {
	p, err := New(opts)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func validateMeasurementURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", OptMeasurementURL, err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%s: %q must be an absolute https URL", OptMeasurementURL, raw)
	}
	return nil
}

// Name implements measure.Namer.
func (p *Processor) Name() string {
	return Name
}

// PersistTime returns the client id expiry for the client id key and defers
// to the storage default for everything else.
func (p *Processor) PersistTime(key string, _ any) measure.TTL {
	if key == ClientIDKey {
		return p.clientIDExpires
	}
	return measure.StorageDefault
}

// MeasurementID returns the upper-cased measurement id, or "".
func (p *Processor) MeasurementID() string {
	return p.measurementID
}

// AutomaticParams returns the enabled automatic parameter names, sorted.
func (p *Processor) AutomaticParams() []string {
	return slices.Clone(p.automaticParams)
}
