package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"crowdvault/crypto"
	"crowdvault/native/crowdfund"
	"crowdvault/observability"
)

type createParams struct {
	Caller          string `json:"caller"`
	Deposit         string `json:"deposit"`
	Name            string `json:"name"`
	Manager         string `json:"manager"`
	MinimumDonation string `json:"minimumDonation"`
	Goal            string `json:"goal"`
	EndTime         int64  `json:"endTime"`
}

type donateParams struct {
	Caller     string  `json:"caller"`
	Deposit    string  `json:"deposit"`
	CampaignID *uint64 `json:"campaignId"`
}

type actorParams struct {
	Caller     string  `json:"caller"`
	CampaignID *uint64 `json:"campaignId"`
}

type setFeeParams struct {
	Caller string  `json:"caller"`
	FeeBps *uint32 `json:"feeBps"`
}

type sweepParams struct {
	Caller string `json:"caller"`
}

type transferOwnershipParams struct {
	Caller   string `json:"caller"`
	NewOwner string `json:"newOwner"`
}

type campaignIDParams struct {
	CampaignID *uint64 `json:"campaignId"`
}

type donationQueryParams struct {
	CampaignID *uint64 `json:"campaignId"`
	Donor      string  `json:"donor"`
}

type eventsParams struct {
	Limit int `json:"limit,omitempty"`
}

type accountParams struct {
	Address string `json:"address"`
}

type createResult struct {
	CampaignID uint64 `json:"campaignId"`
}

type totalResult struct {
	Total uint64 `json:"total"`
}

type donationResult struct {
	CampaignID uint64 `json:"campaignId"`
	Donor      string `json:"donor"`
	Amount     string `json:"amount"`
}

type accountResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

type campaignJSON struct {
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

type statusJSON struct {
	Campaign               campaignJSON `json:"campaign"`
	IsActive               bool         `json:"isActive"`
	IsSuccessful           bool         `json:"isSuccessful"`
	RemainingTime          int64        `json:"remainingTime"`
	FundingProgressPercent uint64       `json:"fundingProgressPercent"`
}

func campaignView(c *crowdfund.Campaign) campaignJSON {
	return campaignJSON{
		ID:              c.ID,
		Name:            c.Name,
		Manager:         encodeAddress(c.Manager),
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

func encodeAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.Prefix, addr[:]).String()
}

func parseAddress(field, value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("%s is required", field)
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, fmt.Errorf("invalid %s: %v", field, err)
	}
	return addr.Raw(), nil
}

func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: not a base-10 integer", field)
	}
	return amount, nil
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errors.New("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func requireCampaignID(id *uint64) (uint64, error) {
	if id == nil {
		return 0, errors.New("campaignId is required")
	}
	return *id, nil
}

// writeEngineError maps the engine's error taxonomy onto JSON-RPC codes.
func (s *Server) writeEngineError(w http.ResponseWriter, req *RPCRequest, err error) error {
	status := http.StatusInternalServerError
	code := codeServerError
	switch {
	case errors.Is(err, crowdfund.ErrNotFound):
		status, code = http.StatusNotFound, codeNotFound
	case errors.Is(err, crowdfund.ErrUnauthorized):
		status, code = http.StatusForbidden, codeUnauthorizedCaller
	case errors.Is(err, crowdfund.ErrInvalidState):
		status, code = http.StatusConflict, codeInvalidState
	case errors.Is(err, crowdfund.ErrInvalidArgument):
		status, code = http.StatusBadRequest, codeInvalidArgument
	case errors.Is(err, crowdfund.ErrInsufficientAmount):
		status, code = http.StatusBadRequest, codeInsufficientAmount
	case errors.Is(err, crowdfund.ErrTransferFailure):
		status, code = http.StatusConflict, codeTransferFailure
	}
	observability.RPCMetrics().RecordError(req.Method, strconv.Itoa(code))
	writeError(w, status, req.ID, code, err.Error(), nil)
	return err
}

func (s *Server) writeParamsError(w http.ResponseWriter, req *RPCRequest, err error) error {
	observability.RPCMetrics().RecordError(req.Method, strconv.Itoa(codeInvalidParams))
	writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
	return err
}

func (s *Server) handleCreate(w http.ResponseWriter, req *RPCRequest) error {
	var params createParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeParamsError(w, req, err)
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	manager, err := parseAddress("manager", params.Manager)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	deposit, err := parseAmount("deposit", params.Deposit)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	minimum, err := parseAmount("minimumDonation", params.MinimumDonation)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	goal, err := parseAmount("goal", params.Goal)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}

	s.opMu.Lock()
	id, err := s.engine.CreateCampaign(
		&crowdfund.CallContext{Caller: caller, Deposit: deposit},
		params.Name, manager, minimum, goal, params.EndTime,
	)
	s.opMu.Unlock()
	if err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, createResult{CampaignID: id})
	return nil
}

func (s *Server) handleDonate(w http.ResponseWriter, req *RPCRequest) error {
	var params donateParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeParamsError(w, req, err)
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	deposit, err := parseAmount("deposit", params.Deposit)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	id, err := requireCampaignID(params.CampaignID)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}

	s.opMu.Lock()
	err = s.engine.Donate(&crowdfund.CallContext{Caller: caller, Deposit: deposit}, id)
	s.opMu.Unlock()
	if err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, true)
	return nil
}

func (s *Server) handleEnd(w http.ResponseWriter, req *RPCRequest) error {
	caller, id, err := s.decodeActor(w, req)
	if err != nil {
		return err
	}
	s.opMu.Lock()
	opErr := s.engine.EndCampaign(&crowdfund.CallContext{Caller: caller}, id)
	s.opMu.Unlock()
	if opErr != nil {
		return s.writeEngineError(w, req, opErr)
	}
	writeResult(w, req.ID, true)
	return nil
}

func (s *Server) handleWithdraw(w http.ResponseWriter, req *RPCRequest) error {
	caller, id, err := s.decodeActor(w, req)
	if err != nil {
		return err
	}
	s.opMu.Lock()
	opErr := s.engine.WithdrawFunds(&crowdfund.CallContext{Caller: caller}, id)
	s.opMu.Unlock()
	if opErr != nil {
		return s.writeEngineError(w, req, opErr)
	}
	writeResult(w, req.ID, true)
	return nil
}

func (s *Server) handleRefund(w http.ResponseWriter, req *RPCRequest) error {
	caller, id, err := s.decodeActor(w, req)
	if err != nil {
		return err
	}
	s.opMu.Lock()
	opErr := s.engine.ClaimRefund(&crowdfund.CallContext{Caller: caller}, id)
	s.opMu.Unlock()
	if opErr != nil {
		return s.writeEngineError(w, req, opErr)
	}
	writeResult(w, req.ID, true)
	return nil
}

func (s *Server) decodeActor(w http.ResponseWriter, req *RPCRequest) ([20]byte, uint64, error) {
	var params actorParams
	if err := decodeParams(req, &params); err != nil {
		return [20]byte{}, 0, s.writeParamsError(w, req, err)
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		return [20]byte{}, 0, s.writeParamsError(w, req, err)
	}
	id, err := requireCampaignID(params.CampaignID)
	if err != nil {
		return [20]byte{}, 0, s.writeParamsError(w, req, err)
	}
	return caller, id, nil
}

func (s *Server) handleSetFee(w http.ResponseWriter, req *RPCRequest) error {
	var params setFeeParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeParamsError(w, req, err)
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	if params.FeeBps == nil {
		return s.writeParamsError(w, req, errors.New("feeBps is required"))
	}

	s.opMu.Lock()
	err = s.engine.SetPlatformFee(&crowdfund.CallContext{Caller: caller}, *params.FeeBps)
	s.opMu.Unlock()
	if err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, true)
	return nil
}

func (s *Server) handleSweep(w http.ResponseWriter, req *RPCRequest) error {
	var params sweepParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeParamsError(w, req, err)
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}

	s.opMu.Lock()
	err = s.engine.WithdrawResidualBalance(&crowdfund.CallContext{Caller: caller})
	s.opMu.Unlock()
	if err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, true)
	return nil
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, req *RPCRequest) error {
	var params transferOwnershipParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeParamsError(w, req, err)
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	newOwner, err := parseAddress("newOwner", params.NewOwner)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}

	s.opMu.Lock()
	err = s.engine.TransferOwnership(&crowdfund.CallContext{Caller: caller}, newOwner)
	s.opMu.Unlock()
	if err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, true)
	return nil
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, req *RPCRequest) error {
	var params campaignIDParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeParamsError(w, req, err)
	}
	id, err := requireCampaignID(params.CampaignID)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	campaign, err := s.engine.GetCampaign(id)
	if err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, campaignView(campaign))
	return nil
}

func (s *Server) handleGetDonation(w http.ResponseWriter, req *RPCRequest) error {
	var params donationQueryParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeParamsError(w, req, err)
	}
	id, err := requireCampaignID(params.CampaignID)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	donor, err := parseAddress("donor", params.Donor)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	amount, err := s.engine.GetDonationAmount(id, donor)
	if err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, donationResult{CampaignID: id, Donor: encodeAddress(donor), Amount: amount.String()})
	return nil
}

func (s *Server) handleTotal(w http.ResponseWriter, req *RPCRequest) error {
	total, err := s.engine.GetTotalCampaigns()
	if err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, totalResult{Total: total})
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, req *RPCRequest) error {
	var params campaignIDParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeParamsError(w, req, err)
	}
	id, err := requireCampaignID(params.CampaignID)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	status, err := s.engine.GetCampaignStatus(id)
	if err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, statusJSON{
		Campaign:               campaignView(status.Campaign),
		IsActive:               status.IsActive,
		IsSuccessful:           status.IsSuccessful,
		RemainingTime:          status.RemainingTime,
		FundingProgressPercent: status.FundingProgressPercent,
	})
	return nil
}

func (s *Server) handleEvents(w http.ResponseWriter, req *RPCRequest) error {
	limit := 0
	if len(req.Params) == 1 {
		var params eventsParams
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			return s.writeParamsError(w, req, err)
		}
		limit = params.Limit
	}
	if s.journal == nil {
		writeResult(w, req.ID, []struct{}{})
		return nil
	}
	writeResult(w, req.ID, s.journal.Tail(limit))
	return nil
}

func (s *Server) handleGetAccount(w http.ResponseWriter, req *RPCRequest) error {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeParamsError(w, req, err)
	}
	addr, err := parseAddress("address", params.Address)
	if err != nil {
		return s.writeParamsError(w, req, err)
	}
	view, err := s.engine.GetAccount(addr)
	if err != nil {
		return s.writeEngineError(w, req, err)
	}
	writeResult(w, req.ID, accountResult{Address: encodeAddress(addr), Balance: view.Balance.String(), Nonce: view.Nonce})
	return nil
}
