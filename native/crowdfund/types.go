package crowdfund

import (
	"fmt"
	"math/big"
)

// FeeCeilingBps caps the platform fee at 10%. The bound is re-checked at every
// mutation site (bootstrap, engine wiring, SetPlatformFee), not only at
// construction.
const FeeCeilingBps uint32 = 1_000

const feeDenominatorBps = 10_000

// Campaign captures one funding goal. Identifiers are assigned sequentially
// starting at zero and never reused; name, manager, minimum, goal and end time
// are immutable after creation.
type Campaign struct {
	ID              uint64
	Name            string
	Manager         [20]byte
	MinimumDonation *big.Int
	Goal            *big.Int
	EndTime         int64
	CreatedAt       int64
	TotalDonated    *big.Int
	DonorCount      uint64
	Ended           bool
	FundsWithdrawn  bool
}

// Clone returns a deep copy so callers can mutate staged copies without
// touching the stored record.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	clone := *c
	clone.MinimumDonation = cloneBigInt(c.MinimumDonation)
	clone.Goal = cloneBigInt(c.Goal)
	clone.TotalDonated = cloneBigInt(c.TotalDonated)
	return &clone
}

// GoalReached reports whether cumulative donations cover the goal.
func (c *Campaign) GoalReached() bool {
	if c == nil || c.TotalDonated == nil || c.Goal == nil {
		return false
	}
	return c.TotalDonated.Cmp(c.Goal) >= 0
}

// SanitizeCampaign validates structural invariants of a campaign record and
// returns a normalised clone with non-nil amounts. It does not mutate the
// original value.
func SanitizeCampaign(c *Campaign) (*Campaign, error) {
	if c == nil {
		return nil, fmt.Errorf("nil campaign")
	}
	clone := c.Clone()
	if clone.MinimumDonation.Sign() <= 0 {
		return nil, fmt.Errorf("campaign minimum donation must be positive")
	}
	if clone.Goal.Sign() <= 0 {
		return nil, fmt.Errorf("campaign goal must be positive")
	}
	if clone.TotalDonated.Sign() < 0 {
		return nil, fmt.Errorf("campaign total donated must be non-negative")
	}
	if clone.FundsWithdrawn && !clone.Ended {
		return nil, fmt.Errorf("campaign cannot be withdrawn before it ends")
	}
	if clone.FundsWithdrawn && !clone.GoalReached() {
		return nil, fmt.Errorf("campaign cannot be withdrawn below goal")
	}
	return clone, nil
}

// Admin is the singleton administration record: the authorized platform owner
// and the fee charged on successful withdrawals.
type Admin struct {
	Owner  [20]byte
	FeeBps uint32
}

// Clone returns a copy of the admin record.
func (a *Admin) Clone() *Admin {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// SanitizeAdmin validates the admin record: a non-null owner and a fee within
// the ceiling.
func SanitizeAdmin(a *Admin) (*Admin, error) {
	if a == nil {
		return nil, fmt.Errorf("nil admin record")
	}
	if a.Owner == ([20]byte{}) {
		return nil, fmt.Errorf("admin owner must not be the null principal")
	}
	if a.FeeBps > FeeCeilingBps {
		return nil, fmt.Errorf("admin fee %d bps above ceiling %d", a.FeeBps, FeeCeilingBps)
	}
	return a.Clone(), nil
}

// CallContext carries what the execution environment supplies with each
// mutating call: the caller identity and the deposit attached to the call.
// Time is observed through the engine's clock, never through the context.
type CallContext struct {
	Caller  [20]byte
	Deposit *big.Int
}

func (ctx *CallContext) deposit() *big.Int {
	if ctx == nil {
		return big.NewInt(0)
	}
	return cloneBigInt(ctx.Deposit)
}

// DonationEntry is a staged write of one donor's cumulative contribution to a
// campaign. A zero amount means the donor holds no outstanding claim, which
// covers both "never donated" and "already refunded".
type DonationEntry struct {
	CampaignID uint64
	Donor      [20]byte
	Amount     *big.Int
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
