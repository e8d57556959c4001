package crowdfund

import (
	"fmt"
	"math"
	"math/big"
)

// CampaignStatus is the derived, read-only view of a campaign's standing at
// the moment of the query.
type CampaignStatus struct {
	Campaign               *Campaign
	IsActive               bool
	IsSuccessful           bool
	RemainingTime          int64
	FundingProgressPercent uint64
}

// GetCampaign returns a copy of the stored campaign record.
func (e *Engine) GetCampaign(campaignID uint64) (*Campaign, error) {
	return e.loadCampaign(campaignID)
}

// GetDonationAmount returns the donor's cumulative outstanding contribution.
// Zero means the donor never contributed or has already been refunded.
func (e *Engine) GetDonationAmount(campaignID uint64, donor [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadCampaign(campaignID); err != nil {
		return nil, err
	}
	amount, err := e.state.DonationGet(campaignID, donor)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(amount), nil
}

// GetTotalCampaigns returns the number of campaigns ever created.
func (e *Engine) GetTotalCampaigns() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.CampaignCount()
}

// GetCampaignStatus computes the derived status view. The call is pure: it
// reads the clock once and never mutates state, even when it observes that the
// deadline has passed.
func (e *Engine) GetCampaignStatus(campaignID uint64) (*CampaignStatus, error) {
	campaign, err := e.loadCampaign(campaignID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	remaining := campaign.EndTime - now
	if remaining < 0 {
		remaining = 0
	}
	return &CampaignStatus{
		Campaign:               campaign,
		IsActive:               !campaign.Ended && now < campaign.EndTime,
		IsSuccessful:           campaign.GoalReached(),
		RemainingTime:          remaining,
		FundingProgressPercent: progressPercent(campaign.TotalDonated, campaign.Goal),
	}, nil
}

// Owner returns the current platform owner.
func (e *Engine) Owner() ([20]byte, error) {
	admin, err := e.admin()
	if err != nil {
		return [20]byte{}, err
	}
	return admin.Owner, nil
}

// PlatformFeeBps returns the fee applied to future withdrawals.
func (e *Engine) PlatformFeeBps() (uint32, error) {
	admin, err := e.admin()
	if err != nil {
		return 0, err
	}
	return admin.FeeBps, nil
}

// GetAccount returns the balance record for a principal.
func (e *Engine) GetAccount(addr [20]byte) (*AccountView, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	acc = acc.Clone()
	return &AccountView{Balance: acc.Balance, Nonce: acc.Nonce}, nil
}

// AccountView is the read-only projection of a principal's balance record.
type AccountView struct {
	Balance *big.Int
	Nonce   uint64
}

// progressPercent computes floor(total*100/goal). Creation never stores a
// zero goal, but the query must not divide by zero regardless.
func progressPercent(total, goal *big.Int) uint64 {
	if total == nil || goal == nil || goal.Sign() == 0 {
		return 0
	}
	pct := new(big.Int).Mul(total, big.NewInt(100))
	pct.Div(pct, goal)
	if !pct.IsUint64() {
		return math.MaxUint64
	}
	return pct.Uint64()
}

// String implements fmt.Stringer for log lines.
func (s *CampaignStatus) String() string {
	if s == nil || s.Campaign == nil {
		return "<nil status>"
	}
	return fmt.Sprintf("campaign %d: active=%t successful=%t remaining=%ds progress=%d%%",
		s.Campaign.ID, s.IsActive, s.IsSuccessful, s.RemainingTime, s.FundingProgressPercent)
}
