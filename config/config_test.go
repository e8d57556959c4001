package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"crowdvault/crypto"
)

func testOwner(t *testing.T) string {
	t.Helper()
	raw := bytes.Repeat([]byte{0x11}, 20)
	return crypto.NewAddress(crypto.Prefix, raw).String()
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8546", cfg.RPCAddress)
	require.Equal(t, "./crowdvault-data", cfg.DataDir)
	require.Equal(t, float64(120), cfg.RateLimitPerMin)
	require.Equal(t, 20, cfg.RateLimitBurst)
	require.Equal(t, 4096, cfg.JournalRetention)

	_, err = os.Stat(path)
	require.NoError(t, err, "load must persist the generated defaults")
}

func TestLoadFillsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	owner := testOwner(t)
	body := `
RPCAddress = "127.0.0.1:9000"
Owner = "` + owner + `"
PlatformFeeBps = 250
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.RPCAddress)
	require.Equal(t, owner, cfg.Owner)
	require.Equal(t, uint32(250), cfg.PlatformFeeBps)
	require.Equal(t, "./crowdvault-data", cfg.DataDir)
	require.Equal(t, float64(120), cfg.RateLimitPerMin)
}

func TestValidate(t *testing.T) {
	owner := testOwner(t)
	valid := func() *Config {
		return &Config{
			RPCAddress:     ":8546",
			DataDir:        "./data",
			Owner:          owner,
			PlatformFeeBps: 250,
		}
	}
	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Owner = ""
	require.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Owner = "not-an-address"
	require.Error(t, cfg.Validate())

	cfg = valid()
	cfg.PlatformFeeBps = 1_001
	require.Error(t, cfg.Validate())

	cfg = valid()
	cfg.PlatformFeeBps = 1_000
	require.NoError(t, cfg.Validate())

	cfg = valid()
	cfg.RPCAddress = "  "
	require.Error(t, cfg.Validate())

	cfg = valid()
	cfg.DevFundingAccount = owner
	require.Error(t, cfg.Validate(), "dev account without a balance must be rejected")
	cfg.DevFundingBalance = "0"
	require.Error(t, cfg.Validate())
	cfg.DevFundingBalance = "1000000"
	require.NoError(t, cfg.Validate())

	addr, err := cfg.OwnerAddress()
	require.NoError(t, err)
	require.Equal(t, owner, addr.String())
}
