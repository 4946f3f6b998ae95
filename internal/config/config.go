// Package config loads the host configuration: a CUE file validated against
// an embedded schema, then overridden from the environment.
//
//	processor: {
//		name: "googleAnalytics"
//		options: measurement_id: "G-XXXX"
//	}
//	storage: {
//		name: "sqlite"
//		options: path: "measure.db"
//	}
//	server: address: ":8080"
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/caarlos0/env/v11"

	"github.com/roach88/measure/internal/datalayer"
	"github.com/roach88/measure/internal/measure"
)

//go:embed schema.cue
var schemaSource string

// Config is a validated host configuration.
type Config struct {
	Processor Component
	Storage   Component
	Server    Server
	LogLevel  slog.Level
}

// Component names a registry entry and its construction options.
type Component struct {
	Name    string
	Options measure.Options
}

// Server holds HTTP listener settings.
type Server struct {
	Address string
}

// Env holds the environment overrides. Empty values leave the file's
// settings alone.
type Env struct {
	Address  string `env:"MEASURE_ADDRESS"`
	DB       string `env:"MEASURE_DB"`
	LogLevel string `env:"MEASURE_LOG_LEVEL"`
}

// Error is a configuration error, positioned in the CUE source when
// possible.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// rawConfig mirrors #Config for decoding.
type rawConfig struct {
	Processor struct {
		Name    string         `json:"name"`
		Options map[string]any `json:"options"`
	} `json:"processor"`
	Storage struct {
		Name    string         `json:"name"`
		Options map[string]any `json:"options"`
	} `json:"storage"`
	Server struct {
		Address string `json:"address"`
	} `json:"server"`
	LogLevel string `json:"log_level"`
}

// Load reads path, validates it and applies environment overrides from the
// process environment.
func Load(path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(path, src)
	if err != nil {
		return nil, err
	}

	overrides, err := ParseEnv(nil)
	if err != nil {
		return nil, err
	}
	if err := cfg.Apply(overrides); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse validates src against the schema. filename is used in error
// positions only.
func Parse(filename string, src []byte) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	user := ctx.CompileBytes(src, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(user)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var raw rawConfig
	if err := v.Decode(&raw); err != nil {
		return nil, formatCUEError(err)
	}

	cfg := &Config{
		Processor: Component{Name: raw.Processor.Name, Options: measure.Options(raw.Processor.Options)},
		Storage:   Component{Name: raw.Storage.Name, Options: measure.Options(raw.Storage.Options)},
		Server:    Server{Address: raw.Server.Address},
	}
	if cfg.Processor.Options == nil {
		cfg.Processor.Options = measure.Options{}
	}
	if cfg.Storage.Options == nil {
		cfg.Storage.Options = measure.Options{}
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(raw.LogLevel)); err != nil {
		return nil, &Error{Field: "log_level", Message: err.Error(), Pos: v.LookupPath(cue.ParsePath("log_level")).Pos()}
	}
	return cfg, nil
}

// ParseEnv reads the overrides from environ, or from the process
// environment when environ is nil.
func ParseEnv(environ map[string]string) (Env, error) {
	var e Env
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&e, opts); err != nil {
		return Env{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return e, nil
}

// Apply overrides the configuration from e. MEASURE_DB switches the storage
// to sqlite at that path.
func (c *Config) Apply(e Env) error {
	if e.Address != "" {
		c.Server.Address = e.Address
	}
	if e.DB != "" {
		if c.Storage.Name != "sqlite" {
			c.Storage = Component{Name: "sqlite", Options: measure.Options{}}
		}
		c.Storage.Options = c.Storage.Options.Clone()
		c.Storage.Options["path"] = e.DB
	}
	if e.LogLevel != "" {
		if err := c.LogLevel.UnmarshalText([]byte(strings.TrimSpace(e.LogLevel))); err != nil {
			return &Error{Field: "MEASURE_LOG_LEVEL", Message: err.Error()}
		}
	}
	return nil
}

// ConfigCommand returns the data layer command that installs the
// configured processor and storage.
func (c *Config) ConfigCommand() datalayer.Command {
	return datalayer.NewCommand(datalayer.CommandConfig,
		c.Processor.Name, c.Processor.Options.Clone(),
		c.Storage.Name, c.Storage.Options.Clone())
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	var pos token.Pos
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		pos = positions[0]
	}
	field := "config"
	if path := first.Path(); len(path) > 0 {
		field = strings.Join(path, ".")
	}
	msg, args := first.Msg()
	return &Error{Field: field, Message: fmt.Sprintf(msg, args...), Pos: pos}
}
