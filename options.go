package socknet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/socknet/limits"
)

// Options configures a Net and everything opened through it.
type Options struct {
	// ListenBacklog is the listen(2) queue length for TCP listeners.
	ListenBacklog int `toml:"listen_backlog" validate:"gte=1,lte=4096"`

	// ReuseAddr sets SO_REUSEADDR on TCP listeners.
	ReuseAddr bool `toml:"reuse_addr"`

	// NoDelay sets TCP_NODELAY on initiating sockets and accepted connections.
	NoDelay bool `toml:"no_delay"`

	// ResolveTimeout bounds each call to Net.Resolve and Net.ResolveIP.
	ResolveTimeout Duration `toml:"resolve_timeout" validate:"gt=0"`

	// Nameserver, when set, routes lookups through a DNSResolver querying
	// this server ("host" or "host:port") instead of the system resolver.
	Nameserver string `toml:"nameserver" validate:"omitempty,hostname_port|ip|hostname_rfc1123"`

	// DefaultSetCapacity is the capacity used by NewSocketSet.
	DefaultSetCapacity int `toml:"default_set_capacity" validate:"gte=1,lte=65536"`
}

// NewOptions returns the default options.
func NewOptions() *Options {
	return &Options{
		ListenBacklog:      limits.DefaultListenBacklog,
		ReuseAddr:          true,
		NoDelay:            true,
		ResolveTimeout:     Duration(5 * time.Second),
		DefaultSetCapacity: 1,
	}
}

// Duration is a time.Duration that reads and writes as a string such as
// "1500ms" in TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field against its bounds.
func (o *Options) Validate() error {
	if o == nil {
		return errors.New("options cannot be nil")
	}
	if err := validate.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("invalid option %s: failed %q (value %v)", e.Field(), e.Tag(), e.Value())
		}
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

// LoadOptions reads TOML options from path. Keys that are absent keep
// their NewOptions defaults.
func LoadOptions(path string) (*Options, error) {
	path = filepath.Clean(path)

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read options file: %w", err)
	}

	opts := NewOptions()
	if err := toml.Unmarshal(content, opts); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("failed to parse options file %s at line %d, column %d: %w", path, row, col, err)
		}
		return nil, fmt.Errorf("failed to parse options file %s: %w", path, err)
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"component": "Options",
		"function":  "LoadOptions",
		"path":      path,
	}).Debug("Loaded options")

	return opts, nil
}
