package crowdfund

import (
	"fmt"
	"math/big"
	"time"

	"crowdvault/core/events"
	"crowdvault/core/types"
)

type engineState interface {
	AdminGet() (*Admin, bool, error)
	CampaignGet(id uint64) (*Campaign, bool, error)
	CampaignCount() (uint64, error)
	DonationGet(campaignID uint64, donor [20]byte) (*big.Int, error)
	CampaignFundsGet(campaignID uint64) (*big.Int, error)
	OutstandingTotal() (*big.Int, error)
	GetAccount(addr [20]byte) (*types.Account, error)
	VaultAddress() [20]byte
	Apply(batch *Batch) error
}

// AccountUpdate stages the final balance record for one principal.
type AccountUpdate struct {
	Address [20]byte
	Account *types.Account
}

// FundsEntry stages the new outstanding (received minus paid out) balance for
// one campaign.
type FundsEntry struct {
	CampaignID uint64
	Amount     *big.Int
}

// Batch collects every write of a single operation. The state backend must
// persist all of it or none of it, which is what makes each operation an
// indivisible unit: a failed commit leaves no partial effect behind.
type Batch struct {
	Admin         *Admin
	Campaigns     []*Campaign
	Donations     []DonationEntry
	Funds         []FundsEntry
	Accounts      []AccountUpdate
	CampaignCount *uint64
}

type crowdfundEvent struct {
	evt *types.Event
}

func (e crowdfundEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e crowdfundEvent) Event() *types.Event { return e.evt }

// Engine wires the crowdfunding ledger logic with external state and event
// emission. All value is custodied by the state backend's vault account until
// a withdrawal or refund settles it.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an engine with a no-op emitter. Callers can override the
// emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(crowdfundEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) admin() (*Admin, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	admin, ok, err := e.state.AdminGet()
	if err != nil {
		return nil, err
	}
	if !ok || admin == nil {
		return nil, errNilAdmin
	}
	return SanitizeAdmin(admin)
}

func (e *Engine) loadCampaign(id uint64) (*Campaign, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	campaign, ok, err := e.state.CampaignGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || campaign == nil {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return campaign.Clone(), nil
}

func (e *Engine) apply(batch *Batch) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if batch == nil {
		return errNilBatch
	}
	if err := e.state.Apply(batch); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailure, err)
	}
	return nil
}

// accountSet stages balance mutations in memory. Nothing is persisted until
// the whole operation commits through Apply, so a failed transfer aborts with
// zero state change.
type accountSet struct {
	state engineState
	accs  map[[20]byte]*types.Account
	order [][20]byte
}

func newAccountSet(state engineState) *accountSet {
	return &accountSet{state: state, accs: make(map[[20]byte]*types.Account)}
}

func (s *accountSet) get(addr [20]byte) (*types.Account, error) {
	if acc, ok := s.accs[addr]; ok {
		return acc, nil
	}
	acc, err := s.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	acc = acc.Clone()
	s.accs[addr] = acc
	s.order = append(s.order, addr)
	return acc, nil
}

func (s *accountSet) credit(addr [20]byte, amount *big.Int) error {
	acc, err := s.get(addr)
	if err != nil {
		return err
	}
	if acc == nil {
		return errNilAccount
	}
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return nil
}

func (s *accountSet) debit(addr [20]byte, amount *big.Int) error {
	acc, err := s.get(addr)
	if err != nil {
		return err
	}
	if acc == nil {
		return errNilAccount
	}
	if acc.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: insufficient balance", ErrTransferFailure)
	}
	acc.Balance = new(big.Int).Sub(acc.Balance, amount)
	return nil
}

func (s *accountSet) updates() []AccountUpdate {
	out := make([]AccountUpdate, 0, len(s.order))
	for _, addr := range s.order {
		out = append(out, AccountUpdate{Address: addr, Account: s.accs[addr]})
	}
	return out
}

// CreateCampaign allocates the next sequential campaign id and records the
// caller as its first donor with the attached deposit. Manager and creator are
// independent roles: the manager may differ from the creating caller.
func (e *Engine) CreateCampaign(ctx *CallContext, name string, manager [20]byte, minimumDonation, goal *big.Int, endTime int64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if ctx == nil {
		return 0, errNilCall
	}
	deposit := ctx.deposit()
	if deposit.Sign() <= 0 {
		return 0, fmt.Errorf("%w: creation requires a positive deposit", ErrInvalidArgument)
	}
	if manager == ([20]byte{}) {
		return 0, fmt.Errorf("%w: manager must not be the null principal", ErrInvalidArgument)
	}
	if minimumDonation == nil || minimumDonation.Sign() <= 0 {
		return 0, fmt.Errorf("%w: minimum donation must be positive", ErrInvalidArgument)
	}
	if goal == nil || goal.Sign() <= 0 {
		return 0, fmt.Errorf("%w: goal must be positive", ErrInvalidArgument)
	}
	now := e.now()
	if endTime <= now {
		return 0, fmt.Errorf("%w: end time must be strictly in the future", ErrInvalidArgument)
	}

	id, err := e.state.CampaignCount()
	if err != nil {
		return 0, err
	}
	campaign := &Campaign{
		ID:              id,
		Name:            name,
		Manager:         manager,
		MinimumDonation: cloneBigInt(minimumDonation),
		Goal:            cloneBigInt(goal),
		EndTime:         endTime,
		CreatedAt:       now,
		TotalDonated:    cloneBigInt(deposit),
		DonorCount:      1,
	}

	accounts := newAccountSet(e.state)
	if err := accounts.debit(ctx.Caller, deposit); err != nil {
		return 0, err
	}
	if err := accounts.credit(e.state.VaultAddress(), deposit); err != nil {
		return 0, err
	}

	next := id + 1
	batch := &Batch{
		Campaigns:     []*Campaign{campaign},
		Donations:     []DonationEntry{{CampaignID: id, Donor: ctx.Caller, Amount: cloneBigInt(deposit)}},
		Funds:         []FundsEntry{{CampaignID: id, Amount: cloneBigInt(deposit)}},
		Accounts:      accounts.updates(),
		CampaignCount: &next,
	}
	if err := e.apply(batch); err != nil {
		return 0, err
	}
	e.emit(NewCampaignCreatedEvent(campaign, ctx.Caller))
	e.emit(NewDonationReceivedEvent(campaign, ctx.Caller, deposit))
	return id, nil
}

// Donate adds the attached deposit to the caller's cumulative contribution.
// Reaching the goal closes the campaign within the same call; a deposit that
// arrives at or after the end time is rejected no matter its size.
func (e *Engine) Donate(ctx *CallContext, campaignID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if ctx == nil {
		return errNilCall
	}
	campaign, err := e.loadCampaign(campaignID)
	if err != nil {
		return err
	}
	if campaign.Ended {
		return fmt.Errorf("%w: campaign already ended", ErrInvalidState)
	}
	if e.now() >= campaign.EndTime {
		return fmt.Errorf("%w: campaign past its end time", ErrInvalidState)
	}
	deposit := ctx.deposit()
	if deposit.Cmp(campaign.MinimumDonation) < 0 {
		return fmt.Errorf("%w: deposit below campaign minimum", ErrInsufficientAmount)
	}

	prior, err := e.state.DonationGet(campaignID, ctx.Caller)
	if err != nil {
		return err
	}
	prior = cloneBigInt(prior)
	if prior.Sign() == 0 {
		campaign.DonorCount++
	}
	campaign.TotalDonated = new(big.Int).Add(campaign.TotalDonated, deposit)
	closed := false
	if campaign.GoalReached() {
		campaign.Ended = true
		closed = true
	}

	funds, err := e.state.CampaignFundsGet(campaignID)
	if err != nil {
		return err
	}
	funds = new(big.Int).Add(cloneBigInt(funds), deposit)

	accounts := newAccountSet(e.state)
	if err := accounts.debit(ctx.Caller, deposit); err != nil {
		return err
	}
	if err := accounts.credit(e.state.VaultAddress(), deposit); err != nil {
		return err
	}

	batch := &Batch{
		Campaigns: []*Campaign{campaign},
		Donations: []DonationEntry{{CampaignID: campaignID, Donor: ctx.Caller, Amount: new(big.Int).Add(prior, deposit)}},
		Funds:     []FundsEntry{{CampaignID: campaignID, Amount: funds}},
		Accounts:  accounts.updates(),
	}
	if err := e.apply(batch); err != nil {
		return err
	}
	e.emit(NewDonationReceivedEvent(campaign, ctx.Caller, deposit))
	if closed {
		e.emit(NewCampaignEndedEvent(campaign))
	}
	return nil
}

// EndCampaign closes a campaign on the manager's say-so, independent of goal
// and remaining time.
func (e *Engine) EndCampaign(ctx *CallContext, campaignID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if ctx == nil {
		return errNilCall
	}
	campaign, err := e.loadCampaign(campaignID)
	if err != nil {
		return err
	}
	if ctx.Caller != campaign.Manager {
		return fmt.Errorf("%w: only the campaign manager may end it", ErrUnauthorized)
	}
	if campaign.Ended {
		return fmt.Errorf("%w: campaign already ended", ErrInvalidState)
	}
	campaign.Ended = true
	if err := e.apply(&Batch{Campaigns: []*Campaign{campaign}}); err != nil {
		return err
	}
	e.emit(NewCampaignEndedEvent(campaign))
	return nil
}

// WithdrawFunds settles a successful campaign: the platform fee goes to the
// owner, the remainder (including any floor-division dust) to the manager.
// Exactly one withdrawal can ever succeed per campaign.
func (e *Engine) WithdrawFunds(ctx *CallContext, campaignID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if ctx == nil {
		return errNilCall
	}
	campaign, err := e.loadCampaign(campaignID)
	if err != nil {
		return err
	}
	if ctx.Caller != campaign.Manager {
		return fmt.Errorf("%w: only the campaign manager may withdraw", ErrUnauthorized)
	}
	endedNow := false
	if !campaign.Ended && e.now() > campaign.EndTime {
		campaign.Ended = true
		endedNow = true
	}
	if !campaign.Ended {
		return fmt.Errorf("%w: campaign still active", ErrInvalidState)
	}
	if !campaign.GoalReached() {
		return fmt.Errorf("%w: campaign goal not met", ErrInvalidState)
	}
	if campaign.FundsWithdrawn {
		return fmt.Errorf("%w: funds already withdrawn", ErrInvalidState)
	}
	admin, err := e.admin()
	if err != nil {
		return err
	}

	total := cloneBigInt(campaign.TotalDonated)
	fee := new(big.Int).Mul(total, new(big.Int).SetUint64(uint64(admin.FeeBps)))
	fee.Div(fee, big.NewInt(feeDenominatorBps))
	managerAmount := new(big.Int).Sub(total, fee)

	funds, err := e.state.CampaignFundsGet(campaignID)
	if err != nil {
		return err
	}
	funds = cloneBigInt(funds)
	if funds.Cmp(total) < 0 {
		// Refunds already consumed part of this campaign's funds; the full
		// settlement can no longer be paid out of its own receipts.
		return fmt.Errorf("%w: campaign funds partially refunded", ErrTransferFailure)
	}
	funds = new(big.Int).Sub(funds, total)

	campaign.FundsWithdrawn = true

	accounts := newAccountSet(e.state)
	if err := accounts.debit(e.state.VaultAddress(), total); err != nil {
		return err
	}
	if err := accounts.credit(campaign.Manager, managerAmount); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		if err := accounts.credit(admin.Owner, fee); err != nil {
			return err
		}
	}

	batch := &Batch{
		Campaigns: []*Campaign{campaign},
		Funds:     []FundsEntry{{CampaignID: campaignID, Amount: funds}},
		Accounts:  accounts.updates(),
	}
	if err := e.apply(batch); err != nil {
		return err
	}
	if endedNow {
		e.emit(NewCampaignEndedEvent(campaign))
	}
	e.emit(NewFundsWithdrawnEvent(campaign, managerAmount))
	e.emit(NewFeeCollectedEvent(campaign, admin.Owner, fee))
	return nil
}

// ClaimRefund returns the caller's recorded contribution once a campaign is
// closed short of its goal or observed past its deadline. The ledger entry is
// zeroed in the same commit that pays out, so a donor can never collect twice.
func (e *Engine) ClaimRefund(ctx *CallContext, campaignID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if ctx == nil {
		return errNilCall
	}
	campaign, err := e.loadCampaign(campaignID)
	if err != nil {
		return err
	}
	now := e.now()
	endedNow := false
	if !campaign.Ended && now > campaign.EndTime {
		campaign.Ended = true
		endedNow = true
	}
	if !campaign.Ended {
		return fmt.Errorf("%w: campaign still active", ErrInvalidState)
	}
	if campaign.GoalReached() && now <= campaign.EndTime {
		return fmt.Errorf("%w: funded campaign is not refundable", ErrInvalidState)
	}

	entry, err := e.state.DonationGet(campaignID, ctx.Caller)
	if err != nil {
		return err
	}
	entry = cloneBigInt(entry)
	if entry.Sign() == 0 {
		return fmt.Errorf("%w: nothing to refund", ErrInsufficientAmount)
	}

	funds, err := e.state.CampaignFundsGet(campaignID)
	if err != nil {
		return err
	}
	funds = cloneBigInt(funds)
	if funds.Cmp(entry) < 0 {
		return fmt.Errorf("%w: campaign funds already settled", ErrTransferFailure)
	}
	funds = new(big.Int).Sub(funds, entry)

	accounts := newAccountSet(e.state)
	if err := accounts.debit(e.state.VaultAddress(), entry); err != nil {
		return err
	}
	if err := accounts.credit(ctx.Caller, entry); err != nil {
		return err
	}

	batch := &Batch{
		Campaigns: []*Campaign{campaign},
		Donations: []DonationEntry{{CampaignID: campaignID, Donor: ctx.Caller, Amount: big.NewInt(0)}},
		Funds:     []FundsEntry{{CampaignID: campaignID, Amount: funds}},
		Accounts:  accounts.updates(),
	}
	if err := e.apply(batch); err != nil {
		return err
	}
	if endedNow {
		e.emit(NewCampaignEndedEvent(campaign))
	}
	e.emit(NewRefundIssuedEvent(campaign, ctx.Caller, entry))
	return nil
}

// SetPlatformFee updates the fee charged by future withdrawals. The ceiling is
// enforced here as well as at bootstrap so no mutation path can bypass it.
func (e *Engine) SetPlatformFee(ctx *CallContext, newFeeBps uint32) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if ctx == nil {
		return errNilCall
	}
	admin, err := e.admin()
	if err != nil {
		return err
	}
	if ctx.Caller != admin.Owner {
		return fmt.Errorf("%w: only the platform owner may set the fee", ErrUnauthorized)
	}
	if newFeeBps > FeeCeilingBps {
		return fmt.Errorf("%w: fee %d bps above ceiling %d", ErrInvalidArgument, newFeeBps, FeeCeilingBps)
	}
	oldFee := admin.FeeBps
	admin.FeeBps = newFeeBps
	if err := e.apply(&Batch{Admin: admin}); err != nil {
		return err
	}
	e.emit(NewPlatformFeeChangedEvent(oldFee, newFeeBps))
	return nil
}

// WithdrawResidualBalance sweeps vault funds not attributable to any
// campaign's outstanding accounting. Funds still owed to refund or withdrawal
// paths are untouchable by construction.
func (e *Engine) WithdrawResidualBalance(ctx *CallContext) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if ctx == nil {
		return errNilCall
	}
	admin, err := e.admin()
	if err != nil {
		return err
	}
	if ctx.Caller != admin.Owner {
		return fmt.Errorf("%w: only the platform owner may sweep", ErrUnauthorized)
	}
	outstanding, err := e.state.OutstandingTotal()
	if err != nil {
		return err
	}
	accounts := newAccountSet(e.state)
	vault, err := accounts.get(e.state.VaultAddress())
	if err != nil {
		return err
	}
	residual := new(big.Int).Sub(vault.Balance, cloneBigInt(outstanding))
	if residual.Sign() <= 0 {
		return fmt.Errorf("%w: nothing to sweep", ErrInsufficientAmount)
	}
	if err := accounts.debit(e.state.VaultAddress(), residual); err != nil {
		return err
	}
	if err := accounts.credit(admin.Owner, residual); err != nil {
		return err
	}
	return e.apply(&Batch{Accounts: accounts.updates()})
}

// TransferOwnership hands the admin role to a new principal.
func (e *Engine) TransferOwnership(ctx *CallContext, newOwner [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if ctx == nil {
		return errNilCall
	}
	admin, err := e.admin()
	if err != nil {
		return err
	}
	if ctx.Caller != admin.Owner {
		return fmt.Errorf("%w: only the platform owner may transfer ownership", ErrUnauthorized)
	}
	if newOwner == ([20]byte{}) {
		return fmt.Errorf("%w: new owner must not be the null principal", ErrInvalidArgument)
	}
	oldOwner := admin.Owner
	admin.Owner = newOwner
	if err := e.apply(&Batch{Admin: admin}); err != nil {
		return err
	}
	e.emit(NewOwnershipTransferredEvent(oldOwner, newOwner))
	return nil
}
