package crowdfund

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"crowdvault/core/types"
)

const (
	EventTypeCampaignCreated      = "crowdfund.campaign.created"
	EventTypeDonationReceived     = "crowdfund.donation.received"
	EventTypeCampaignEnded        = "crowdfund.campaign.ended"
	EventTypeFundsWithdrawn       = "crowdfund.funds.withdrawn"
	EventTypeFeeCollected         = "crowdfund.fee.collected"
	EventTypeRefundIssued         = "crowdfund.refund.issued"
	EventTypePlatformFeeChanged   = "crowdfund.fee.changed"
	EventTypeOwnershipTransferred = "crowdfund.ownership.transferred"
)

// NewCampaignCreatedEvent returns the canonical payload for a newly created
// campaign, including the creator's initial deposit.
func NewCampaignCreatedEvent(c *Campaign, creator [20]byte) *types.Event {
	attrs := campaignAttrs(c)
	attrs["creator"] = encodeAddr(creator)
	return &types.Event{Type: EventTypeCampaignCreated, Attributes: attrs}
}

// NewDonationReceivedEvent returns the payload emitted for every accepted
// donation, initial deposits included.
func NewDonationReceivedEvent(c *Campaign, donor [20]byte, amount *big.Int) *types.Event {
	attrs := campaignAttrs(c)
	attrs["donor"] = encodeAddr(donor)
	attrs["amount"] = encodeAmount(amount)
	return &types.Event{Type: EventTypeDonationReceived, Attributes: attrs}
}

// NewCampaignEndedEvent returns the payload emitted when a campaign closes,
// tagged with whether the goal was met at that instant.
func NewCampaignEndedEvent(c *Campaign) *types.Event {
	attrs := campaignAttrs(c)
	attrs["successful"] = strconv.FormatBool(c.GoalReached())
	return &types.Event{Type: EventTypeCampaignEnded, Attributes: attrs}
}

// NewFundsWithdrawnEvent returns the payload emitted for the single
// manager settlement of a successful campaign.
func NewFundsWithdrawnEvent(c *Campaign, amount *big.Int) *types.Event {
	attrs := campaignAttrs(c)
	attrs["amount"] = encodeAmount(amount)
	return &types.Event{Type: EventTypeFundsWithdrawn, Attributes: attrs}
}

// NewFeeCollectedEvent returns the payload emitted alongside a withdrawal for
// the platform fee share.
func NewFeeCollectedEvent(c *Campaign, owner [20]byte, amount *big.Int) *types.Event {
	attrs := campaignAttrs(c)
	attrs["owner"] = encodeAddr(owner)
	attrs["amount"] = encodeAmount(amount)
	return &types.Event{Type: EventTypeFeeCollected, Attributes: attrs}
}

// NewRefundIssuedEvent returns the payload emitted when a donor reclaims a
// contribution from a failed or expired campaign.
func NewRefundIssuedEvent(c *Campaign, donor [20]byte, amount *big.Int) *types.Event {
	attrs := campaignAttrs(c)
	attrs["donor"] = encodeAddr(donor)
	attrs["amount"] = encodeAmount(amount)
	return &types.Event{Type: EventTypeRefundIssued, Attributes: attrs}
}

// NewPlatformFeeChangedEvent returns the payload emitted when the owner
// adjusts the fee used by future withdrawals.
func NewPlatformFeeChangedEvent(oldBps, newBps uint32) *types.Event {
	return &types.Event{Type: EventTypePlatformFeeChanged, Attributes: map[string]string{
		"oldFeeBps": strconv.FormatUint(uint64(oldBps), 10),
		"newFeeBps": strconv.FormatUint(uint64(newBps), 10),
	}}
}

// NewOwnershipTransferredEvent returns the payload emitted when the platform
// owner hands the admin role to a new principal.
func NewOwnershipTransferredEvent(oldOwner, newOwner [20]byte) *types.Event {
	return &types.Event{Type: EventTypeOwnershipTransferred, Attributes: map[string]string{
		"oldOwner": encodeAddr(oldOwner),
		"newOwner": encodeAddr(newOwner),
	}}
}

func campaignAttrs(c *Campaign) map[string]string {
	attrs := make(map[string]string)
	if c == nil {
		return attrs
	}
	attrs["campaignId"] = strconv.FormatUint(c.ID, 10)
	attrs["manager"] = encodeAddr(c.Manager)
	attrs["totalDonated"] = encodeAmount(c.TotalDonated)
	attrs["goal"] = encodeAmount(c.Goal)
	return attrs
}

func encodeAddr(addr [20]byte) string {
	return hex.EncodeToString(addr[:])
}

func encodeAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
