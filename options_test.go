package socknet

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOptions(t *testing.T) {
	opts := NewOptions()

	assert.Equal(t, 5, opts.ListenBacklog)
	assert.True(t, opts.ReuseAddr)
	assert.True(t, opts.NoDelay)
	assert.Equal(t, Duration(5*time.Second), opts.ResolveTimeout)
	assert.Empty(t, opts.Nameserver)
	assert.Equal(t, 1, opts.DefaultSetCapacity)
	assert.NoError(t, opts.Validate())
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr bool
	}{
		{"defaults", func(o *Options) {}, false},
		{"zero backlog", func(o *Options) { o.ListenBacklog = 0 }, true},
		{"huge backlog", func(o *Options) { o.ListenBacklog = 100000 }, true},
		{"zero timeout", func(o *Options) { o.ResolveTimeout = 0 }, true},
		{"nameserver ip", func(o *Options) { o.Nameserver = "1.1.1.1" }, false},
		{"nameserver host port", func(o *Options) { o.Nameserver = "dns.example.com:53" }, false},
		{"nameserver bare host", func(o *Options) { o.Nameserver = "dns.example.com" }, false},
		{"nameserver garbage", func(o *Options) { o.Nameserver = "not a server" }, true},
		{"zero set capacity", func(o *Options) { o.DefaultSetCapacity = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := NewOptions()
			tt.mutate(opts)
			err := opts.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	var nilOpts *Options
	assert.Error(t, nilOpts.Validate())
}

func TestLoadOptions(t *testing.T) {
	dir := t.TempDir()

	t.Run("partial file keeps defaults", func(t *testing.T) {
		path := filepath.Join(dir, "partial.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
listen_backlog = 64
resolve_timeout = "1500ms"
nameserver = "127.0.0.53"
`), 0o600))

		opts, err := LoadOptions(path)
		require.NoError(t, err)
		assert.Equal(t, 64, opts.ListenBacklog)
		assert.Equal(t, Duration(1500*time.Millisecond), opts.ResolveTimeout)
		assert.Equal(t, "127.0.0.53", opts.Nameserver)
		assert.True(t, opts.ReuseAddr)
		assert.Equal(t, 1, opts.DefaultSetCapacity)
	})

	t.Run("invalid value", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.toml")
		require.NoError(t, os.WriteFile(path, []byte("default_set_capacity = 0\n"), 0o600))

		_, err := LoadOptions(path)
		assert.Error(t, err)
	})

	t.Run("syntax error", func(t *testing.T) {
		path := filepath.Join(dir, "broken.toml")
		require.NoError(t, os.WriteFile(path, []byte("listen_backlog = = 3\n"), 0o600))

		_, err := LoadOptions(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 1")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadOptions(filepath.Join(dir, "absent.toml"))
		assert.Error(t, err)
	})
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("2s")))
	assert.Equal(t, Duration(2*time.Second), d)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
