package server

import (
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"bondvault/crypto"
	"bondvault/native/bond"
	"bondvault/services/bondd/storage"
)

type recordResponse struct {
	Owner       string `json:"owner"`
	Balance     string `json:"balance"`
	ReleaseTime int64  `json:"release_time"`
}

type amountResponse struct {
	Amount string `json:"amount"`
}

func toRecordResponse(record *bond.VestRecord) recordResponse {
	return recordResponse{
		Owner:       record.Owner.String(),
		Balance:     record.Balance.String(),
		ReleaseTime: record.ReleaseTime,
	}
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func parsePositiveAmount(raw string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, false
	}
	return amount, true
}

func callerFrom(r *http.Request) crypto.Address {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		return crypto.Address{}
	}
	return principal.Address
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "paused": s.engine.Paused()})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	amount, ok := parsePositiveAmount(r.URL.Query().Get("amount"))
	if !ok {
		badRequest(w, "amount must be a positive integer")
		return
	}
	reward, err := s.engine.ApproximateReward(r.Context(), amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String(), "reward": reward.String()})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	record, ok, err := s.engine.Record(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: "no vest record"})
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(record))
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	solvency, err := s.engine.Solvency(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	base, err := s.engine.BaseHoldings(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reserve_holdings": solvency.Holdings.String(),
		"base_holdings":    base.String(),
		"total_eligible":   solvency.TotalEligible.String(),
		"surplus":          solvency.Surplus.String(),
		"solvent":          solvency.Solvent,
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.engine.Settings()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"vest_period_seconds": settings.PeriodSeconds(),
		"discount_bps":        settings.DiscountBps,
		"merge_policy":        string(s.engine.MergePolicy()),
		"paused":              s.engine.Paused(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := storage.Filter{Type: query.Get("type")}
	if raw := query.Get("before"); raw != "" {
		before, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || before < 0 {
			badRequest(w, "before must be a sequence number")
			return
		}
		filter.Before = before
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			badRequest(w, "limit must be positive")
			return
		}
		filter.Limit = limit
	}
	entries, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []storage.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}

// handleEvent returns one journal entry and whether its checksum still
// matches its content.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	entry, err := s.events.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: "no journal entry"})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"event": entry, "verified": storage.Verify(entry)})
}

func (s *Server) handleVest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid payload")
		return
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
	if !ok {
		badRequest(w, "amount must be an integer")
		return
	}
	record, err := s.engine.Vest(r.Context(), callerFrom(r), amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(record))
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	paid, err := s.engine.Release(r.Context(), callerFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: paid.String()})
}

func (s *Server) handleWithdrawBase(w http.ResponseWriter, r *http.Request) {
	paid, err := s.engine.WithdrawBaseCurrency(r.Context(), callerFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: paid.String()})
}

func (s *Server) handleSoftWithdraw(w http.ResponseWriter, r *http.Request) {
	paid, err := s.engine.SoftWithdrawReserveAsset(r.Context(), callerFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: paid.String()})
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	base, reserve, err := s.engine.EmergencyWithdrawAll(r.Context(), callerFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"base": base.String(), "reserve": reserve.String()})
}

func (s *Server) handleEmergencySweep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asset string `json:"asset"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid payload")
		return
	}
	paid, err := s.engine.EmergencyWithdrawArbitraryAsset(r.Context(), callerFrom(r), req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: paid.String()})
}

// handleSetSettings follows SetBondSettings: an omitted field, or the value
// 1, leaves that setting unchanged.
func (s *Server) handleSetSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VestPeriodSeconds *uint64 `json:"vest_period_seconds"`
		DiscountBps       *uint64 `json:"discount_bps"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid payload")
		return
	}
	period, discount := uint64(bond.SettingsSentinel), uint64(bond.SettingsSentinel)
	if req.VestPeriodSeconds != nil {
		period = *req.VestPeriodSeconds
	}
	if req.DiscountBps != nil {
		discount = *req.DiscountBps
	}
	settings, err := s.engine.SetBondSettings(r.Context(), callerFrom(r), period, discount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{
		"vest_period_seconds": settings.PeriodSeconds(),
		"discount_bps":        settings.DiscountBps,
	})
}

func (s *Server) handleTogglePause(w http.ResponseWriter, r *http.Request) {
	paused, err := s.engine.TogglePause(r.Context(), callerFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

func (s *Server) handleSetPool(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RequireOwner(callerFrom(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.pool == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "unsupported", Message: "pool reserves are read from chain"})
		return
	}
	var req struct {
		Reserve0 string `json:"reserve0"`
		Reserve1 string `json:"reserve1"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid payload")
		return
	}
	r0, ok0 := new(big.Int).SetString(strings.TrimSpace(req.Reserve0), 10)
	r1, ok1 := new(big.Int).SetString(strings.TrimSpace(req.Reserve1), 10)
	if !ok0 || !ok1 {
		badRequest(w, "reserves must be integers")
		return
	}
	if err := s.pool.Set(r0, r1); err != nil {
		badRequest(w, err.Error())
		return
	}
	s.logger.Info("bondd: static pool reserves updated", "reserve0", r0.String(), "reserve1", r1.String())
	writeJSON(w, http.StatusOK, map[string]string{"reserve0": r0.String(), "reserve1": r1.String()})
}
