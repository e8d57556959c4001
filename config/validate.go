package config

import (
	"fmt"
	"math/big"
	"strings"

	"crowdvault/crypto"
	"crowdvault/native/crowdfund"
)

// Validate checks the loaded configuration before the daemon touches any
// state. The fee ceiling is enforced here in addition to the engine so a bad
// config never reaches bootstrap.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir must not be empty")
	}
	owner := strings.TrimSpace(c.Owner)
	if owner == "" {
		return fmt.Errorf("config: Owner address is required")
	}
	addr, err := crypto.DecodeAddress(owner)
	if err != nil {
		return fmt.Errorf("config: invalid Owner address: %w", err)
	}
	if addr.IsZero() {
		return fmt.Errorf("config: Owner must not be the null principal")
	}
	if c.PlatformFeeBps > crowdfund.FeeCeilingBps {
		return fmt.Errorf("config: PlatformFeeBps %d above ceiling %d", c.PlatformFeeBps, crowdfund.FeeCeilingBps)
	}
	if dev := strings.TrimSpace(c.DevFundingAccount); dev != "" {
		if _, err := crypto.DecodeAddress(dev); err != nil {
			return fmt.Errorf("config: invalid DevFundingAccount: %w", err)
		}
		balance := strings.TrimSpace(c.DevFundingBalance)
		amount, ok := new(big.Int).SetString(balance, 10)
		if !ok || amount.Sign() <= 0 {
			return fmt.Errorf("config: DevFundingBalance must be a positive integer")
		}
	}
	return nil
}

// OwnerAddress returns the decoded owner principal. Validate must have
// succeeded first.
func (c *Config) OwnerAddress() (crypto.Address, error) {
	return crypto.DecodeAddress(strings.TrimSpace(c.Owner))
}
