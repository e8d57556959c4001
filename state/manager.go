package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"crowdvault/core/types"
	"crowdvault/native/crowdfund"
	"crowdvault/storage"
)

const (
	keyAdmin         = "crowdfund/admin"
	keyCampaignCount = "crowdfund/count"
	keyOutstanding   = "crowdfund/outstanding"

	campaignKeyFmt = "crowdfund/campaign/%020d"
	donationKeyFmt = "crowdfund/donation/%020d/%s"
	fundsKeyFmt    = "crowdfund/funds/%020d"
	accountKeyFmt  = "account/%s"
)

// vaultSeed derives the module vault address. The vault is a plain account
// whose key no principal holds; only engine settlements move its balance.
var vaultSeed = []byte("crowdvault/module/vault")

// Manager implements the crowdfund engine's state interface over a key-value
// store. All reads return copies; writes land exclusively through Apply, which
// commits one operation's batch atomically.
type Manager struct {
	db    storage.Database
	vault [20]byte
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	var vault [20]byte
	copy(vault[:], ethcrypto.Keccak256(vaultSeed)[12:])
	return &Manager{db: db, vault: vault}
}

// VaultAddress returns the module vault account address.
func (m *Manager) VaultAddress() [20]byte { return m.vault }

// Bootstrap writes the admin record on first run. An existing record is left
// untouched so restarts never clobber a transferred ownership or updated fee.
func (m *Manager) Bootstrap(owner [20]byte, feeBps uint32) error {
	_, ok, err := m.AdminGet()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	admin, err := crowdfund.SanitizeAdmin(&crowdfund.Admin{Owner: owner, FeeBps: feeBps})
	if err != nil {
		return fmt.Errorf("state: bootstrap admin: %w", err)
	}
	return m.Apply(&crowdfund.Batch{Admin: admin})
}

// HasAccount reports whether a balance record exists for the principal.
func (m *Manager) HasAccount(addr [20]byte) (bool, error) {
	return m.db.Has(accountKey(addr))
}

// CreditAccount adds funds to a principal outside of engine settlement. Used
// only by the dev-mode bootstrap.
func (m *Manager) CreditAccount(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: credit amount must be positive")
	}
	acc, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	acc = acc.Clone()
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	blob, err := json.Marshal(storedAccountFrom(acc))
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), blob)
}

// --- reads ---

func (m *Manager) AdminGet() (*crowdfund.Admin, bool, error) {
	blob, err := m.db.Get([]byte(keyAdmin))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var stored storedAdmin
	if err := json.Unmarshal(blob, &stored); err != nil {
		return nil, false, fmt.Errorf("state: decode admin: %w", err)
	}
	admin, err := stored.toAdmin()
	if err != nil {
		return nil, false, err
	}
	return admin, true, nil
}

func (m *Manager) CampaignGet(id uint64) (*crowdfund.Campaign, bool, error) {
	blob, err := m.db.Get(campaignKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var stored storedCampaign
	if err := json.Unmarshal(blob, &stored); err != nil {
		return nil, false, fmt.Errorf("state: decode campaign %d: %w", id, err)
	}
	campaign, err := stored.toCampaign()
	if err != nil {
		return nil, false, err
	}
	return campaign, true, nil
}

func (m *Manager) CampaignCount() (uint64, error) {
	return m.readUint(keyCampaignCount)
}

func (m *Manager) DonationGet(campaignID uint64, donor [20]byte) (*big.Int, error) {
	return m.readAmount(string(donationKey(campaignID, donor)))
}

func (m *Manager) CampaignFundsGet(campaignID uint64) (*big.Int, error) {
	return m.readAmount(fmt.Sprintf(fundsKeyFmt, campaignID))
}

func (m *Manager) OutstandingTotal() (*big.Int, error) {
	return m.readAmount(keyOutstanding)
}

func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	blob, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedAccount
	if err := json.Unmarshal(blob, &stored); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	return stored.toAccount()
}

// --- atomic commit ---

// Apply persists the whole batch in a single database write. The aggregate
// outstanding total is recomputed here from the per-campaign funds deltas so
// it can never drift from the entries it summarises.
func (m *Manager) Apply(batch *crowdfund.Batch) error {
	if batch == nil {
		return fmt.Errorf("state: nil batch")
	}
	ops := make([]storage.KV, 0, 8)

	if batch.Admin != nil {
		admin, err := crowdfund.SanitizeAdmin(batch.Admin)
		if err != nil {
			return err
		}
		blob, err := json.Marshal(storedAdminFrom(admin))
		if err != nil {
			return err
		}
		ops = append(ops, storage.KV{Key: []byte(keyAdmin), Value: blob})
	}

	for _, campaign := range batch.Campaigns {
		sanitized, err := crowdfund.SanitizeCampaign(campaign)
		if err != nil {
			return err
		}
		blob, err := json.Marshal(storedCampaignFrom(sanitized))
		if err != nil {
			return err
		}
		ops = append(ops, storage.KV{Key: campaignKey(sanitized.ID), Value: blob})
	}

	for _, donation := range batch.Donations {
		if donation.Amount == nil || donation.Amount.Sign() < 0 {
			return fmt.Errorf("state: donation entry must be non-negative")
		}
		ops = append(ops, storage.KV{
			Key:   donationKey(donation.CampaignID, donation.Donor),
			Value: []byte(donation.Amount.String()),
		})
	}

	if len(batch.Funds) > 0 {
		outstanding, err := m.OutstandingTotal()
		if err != nil {
			return err
		}
		outstanding = new(big.Int).Set(outstanding)
		for _, entry := range batch.Funds {
			if entry.Amount == nil || entry.Amount.Sign() < 0 {
				return fmt.Errorf("state: campaign funds must be non-negative")
			}
			prior, err := m.CampaignFundsGet(entry.CampaignID)
			if err != nil {
				return err
			}
			outstanding.Sub(outstanding, prior)
			outstanding.Add(outstanding, entry.Amount)
			ops = append(ops, storage.KV{
				Key:   []byte(fmt.Sprintf(fundsKeyFmt, entry.CampaignID)),
				Value: []byte(entry.Amount.String()),
			})
		}
		if outstanding.Sign() < 0 {
			return fmt.Errorf("state: outstanding total would go negative")
		}
		ops = append(ops, storage.KV{Key: []byte(keyOutstanding), Value: []byte(outstanding.String())})
	}

	for _, update := range batch.Accounts {
		if update.Account == nil {
			return fmt.Errorf("state: nil account update")
		}
		if update.Account.Balance == nil || update.Account.Balance.Sign() < 0 {
			return fmt.Errorf("state: account balance must be non-negative")
		}
		blob, err := json.Marshal(storedAccountFrom(update.Account))
		if err != nil {
			return err
		}
		ops = append(ops, storage.KV{Key: accountKey(update.Address), Value: blob})
	}

	if batch.CampaignCount != nil {
		ops = append(ops, storage.KV{
			Key:   []byte(keyCampaignCount),
			Value: []byte(fmt.Sprintf("%d", *batch.CampaignCount)),
		})
	}

	return m.db.WriteBatch(ops)
}

// --- key and codec helpers ---

func campaignKey(id uint64) []byte {
	return []byte(fmt.Sprintf(campaignKeyFmt, id))
}

func donationKey(campaignID uint64, donor [20]byte) []byte {
	return []byte(fmt.Sprintf(donationKeyFmt, campaignID, hex.EncodeToString(donor[:])))
}

func accountKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf(accountKeyFmt, hex.EncodeToString(addr[:])))
}

func (m *Manager) readAmount(key string) (*big.Int, error) {
	blob, err := m.db.Get([]byte(key))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(string(blob), 10)
	if !ok {
		return nil, fmt.Errorf("state: corrupt amount at %s", key)
	}
	return amount, nil
}

func (m *Manager) readUint(key string) (uint64, error) {
	amount, err := m.readAmount(key)
	if err != nil {
		return 0, err
	}
	if !amount.IsUint64() {
		return 0, fmt.Errorf("state: corrupt counter at %s", key)
	}
	return amount.Uint64(), nil
}

type storedAdmin struct {
	Owner  string `json:"owner"`
	FeeBps uint32 `json:"feeBps"`
}

func storedAdminFrom(a *crowdfund.Admin) storedAdmin {
	return storedAdmin{Owner: hex.EncodeToString(a.Owner[:]), FeeBps: a.FeeBps}
}

func (s storedAdmin) toAdmin() (*crowdfund.Admin, error) {
	owner, err := decodeAddr(s.Owner)
	if err != nil {
		return nil, fmt.Errorf("state: admin owner: %w", err)
	}
	return &crowdfund.Admin{Owner: owner, FeeBps: s.FeeBps}, nil
}

type storedCampaign struct {
	ID              uint64 `json:"id"`
	Name            string `json:"name"`
	Manager         string `json:"manager"`
	MinimumDonation string `json:"minimumDonation"`
	Goal            string `json:"goal"`
	EndTime         int64  `json:"endTime"`
	CreatedAt       int64  `json:"createdAt"`
	TotalDonated    string `json:"totalDonated"`
	DonorCount      uint64 `json:"donorCount"`
	Ended           bool   `json:"ended"`
	FundsWithdrawn  bool   `json:"fundsWithdrawn"`
}

func storedCampaignFrom(c *crowdfund.Campaign) storedCampaign {
	return storedCampaign{
		ID:              c.ID,
		Name:            c.Name,
		Manager:         hex.EncodeToString(c.Manager[:]),
		MinimumDonation: c.MinimumDonation.String(),
		Goal:            c.Goal.String(),
		EndTime:         c.EndTime,
		CreatedAt:       c.CreatedAt,
		TotalDonated:    c.TotalDonated.String(),
		DonorCount:      c.DonorCount,
		Ended:           c.Ended,
		FundsWithdrawn:  c.FundsWithdrawn,
	}
}

func (s storedCampaign) toCampaign() (*crowdfund.Campaign, error) {
	manager, err := decodeAddr(s.Manager)
	if err != nil {
		return nil, fmt.Errorf("state: campaign manager: %w", err)
	}
	minimum, err := decodeAmount(s.MinimumDonation)
	if err != nil {
		return nil, fmt.Errorf("state: campaign minimum: %w", err)
	}
	goal, err := decodeAmount(s.Goal)
	if err != nil {
		return nil, fmt.Errorf("state: campaign goal: %w", err)
	}
	total, err := decodeAmount(s.TotalDonated)
	if err != nil {
		return nil, fmt.Errorf("state: campaign total: %w", err)
	}
	return &crowdfund.Campaign{
		ID:              s.ID,
		Name:            s.Name,
		Manager:         manager,
		MinimumDonation: minimum,
		Goal:            goal,
		EndTime:         s.EndTime,
		CreatedAt:       s.CreatedAt,
		TotalDonated:    total,
		DonorCount:      s.DonorCount,
		Ended:           s.Ended,
		FundsWithdrawn:  s.FundsWithdrawn,
	}, nil
}

type storedAccount struct {
	Nonce   uint64 `json:"nonce"`
	Balance string `json:"balance"`
}

func storedAccountFrom(a *types.Account) storedAccount {
	balance := "0"
	if a.Balance != nil {
		balance = a.Balance.String()
	}
	return storedAccount{Nonce: a.Nonce, Balance: balance}
}

func (s storedAccount) toAccount() (*types.Account, error) {
	balance, err := decodeAmount(s.Balance)
	if err != nil {
		return nil, fmt.Errorf("state: account balance: %w", err)
	}
	return &types.Account{Nonce: s.Nonce, Balance: balance}, nil
}

func decodeAddr(s string) ([20]byte, error) {
	var out [20]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(raw) != 20 {
		return out, fmt.Errorf("address must be 20 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func decodeAmount(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt amount %q", s)
	}
	return amount, nil
}
