package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"lineage/arbitration"
	"lineage/auth"
	"lineage/ledger"
	"lineage/revenue"
	"lineage/voting"
	"lineage/work"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// respondError maps domain sentinels to HTTP status codes.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, work.ErrNotFound),
		errors.Is(err, voting.ErrNotFound),
		errors.Is(err, arbitration.ErrNotFound),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, revenue.ErrReceiptNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, work.ErrNotCreator),
		errors.Is(err, voting.ErrNotCreator):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ledger.ErrAlreadyLocked),
		errors.Is(err, ledger.ErrAlreadyDisabled),
		errors.Is(err, voting.ErrAlreadyVoted),
		errors.Is(err, auth.ErrDuplicateEmail),
		errors.Is(err, arbitration.ErrDuplicateReport):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, work.ErrDerivativesNotAllowed),
		errors.Is(err, work.ErrChainTooDeep),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrWithdrawalDisabled),
		errors.Is(err, ledger.ErrDisputeMismatch),
		errors.Is(err, ledger.ErrNotLocked),
		errors.Is(err, ledger.ErrNotDisabled),
		errors.Is(err, revenue.ErrInvalidAmount),
		errors.Is(err, voting.ErrVotingNotActive),
		errors.Is(err, voting.ErrVotingStillActive),
		errors.Is(err, voting.ErrStakeTooLow),
		errors.Is(err, voting.ErrAlreadyWithdrawn),
		errors.Is(err, voting.ErrVotesCast),
		errors.Is(err, voting.ErrInvalidOption),
		errors.Is(err, voting.ErrNoVote),
		errors.Is(err, arbitration.ErrInvalidState),
		errors.Is(err, arbitration.ErrSameWork),
		errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		if s.log != nil {
			s.log.Error("internal error", zap.Error(err))
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	CreatedAt   string `json:"createdAt"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		CreatedAt:   u.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user":  toUserResponse(result.User),
	})
}

type workResponse struct {
	ID              string  `json:"id"`
	CreatorID       string  `json:"creatorId"`
	ParentID        *string `json:"parentId,omitempty"`
	LicenseFee      int64   `json:"licenseFee"`
	AllowDerivative bool    `json:"allowDerivative"`
	MetadataRef     string  `json:"metadataRef,omitempty"`
	Active          bool    `json:"active"`
	CreatedAt       string  `json:"createdAt"`
}

func toWorkResponse(wk work.Work) workResponse {
	return workResponse{
		ID:              wk.ID,
		CreatorID:       wk.CreatorID,
		ParentID:        wk.ParentID,
		LicenseFee:      wk.LicenseFee,
		AllowDerivative: wk.AllowDerivative,
		MetadataRef:     wk.MetadataRef,
		Active:          wk.Active,
		CreatedAt:       wk.CreatedAt.Format(time.RFC3339),
	}
}

type createWorkRequest struct {
	ParentID        *string `json:"parentId"`
	LicenseFee      int64   `json:"licenseFee"`
	AllowDerivative bool    `json:"allowDerivative"`
	MetadataRef     string  `json:"metadataRef"`
}

func (s *Server) handleCreateWork(w http.ResponseWriter, r *http.Request) {
	var req createWorkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wk, err := s.workService.Register(r.Context(), work.RegisterParams{
		CreatorID:       userIDFrom(r),
		ParentID:        req.ParentID,
		LicenseFee:      req.LicenseFee,
		AllowDerivative: req.AllowDerivative,
		MetadataRef:     req.MetadataRef,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkResponse(wk))
}

func (s *Server) handleListWorks(w http.ResponseWriter, r *http.Request) {
	creatorID := r.URL.Query().Get("creator")
	if creatorID == "" {
		creatorID = userIDFrom(r)
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	works, err := s.workService.ListByCreator(r.Context(), creatorID, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	items := make([]workResponse, 0, len(works))
	for _, wk := range works {
		items = append(items, toWorkResponse(wk))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handleWork(w http.ResponseWriter, r *http.Request) {
	wk, err := s.workService.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkResponse(wk))
}

func (s *Server) handleDeactivateWork(w http.ResponseWriter, r *http.Request) {
	if err := s.workService.Deactivate(r.Context(), mux.Vars(r)["id"], userIDFrom(r)); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ancestorResponse struct {
	WorkID    string `json:"workId"`
	CreatorID string `json:"creatorId"`
	Depth     int    `json:"depth"`
}

func (s *Server) handleAncestors(w http.ResponseWriter, r *http.Request) {
	chain, err := s.workService.AncestorChain(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	items := make([]ancestorResponse, 0, len(chain))
	for _, a := range chain {
		items = append(items, ancestorResponse{WorkID: a.WorkID, CreatorID: a.CreatorID, Depth: a.Depth})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type receiptResponse struct {
	ID            string  `json:"id"`
	WorkID        *string `json:"workId,omitempty"`
	CreatorID     string  `json:"creatorId"`
	Kind          string  `json:"kind"`
	Amount        int64   `json:"amount"`
	PlatformFee   int64   `json:"platformFee"`
	CreatorShare  int64   `json:"creatorShare"`
	AncestorShare int64   `json:"ancestorShare"`
	AncestorCount int     `json:"ancestorCount"`
	Remainder     int64   `json:"remainder"`
	CreatedAt     string  `json:"createdAt"`
}

func toReceiptResponse(rc revenue.Receipt) receiptResponse {
	return receiptResponse{
		ID:            rc.ID,
		WorkID:        rc.WorkID,
		CreatorID:     rc.CreatorID,
		Kind:          string(rc.Kind),
		Amount:        rc.Amount,
		PlatformFee:   rc.PlatformFee,
		CreatorShare:  rc.CreatorShare,
		AncestorShare: rc.AncestorShare,
		AncestorCount: rc.AncestorCount,
		Remainder:     rc.Remainder,
		CreatedAt:     rc.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkID string `json:"workId"`
		Amount int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	receipt, err := s.revenueService.ProcessPayment(r.Context(), req.WorkID, req.Amount)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReceiptResponse(receipt))
}

func (s *Server) handleTip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CreatorID string `json:"creatorId"`
		Amount    int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	receipt, err := s.revenueService.ProcessTip(r.Context(), req.CreatorID, req.Amount)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReceiptResponse(receipt))
}

func (s *Server) handlePaymentHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	receipts, err := s.revenueService.History(r.Context(), userIDFrom(r), limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	items := make([]receiptResponse, 0, len(receipts))
	for _, rc := range receipts {
		items = append(items, toReceiptResponse(rc))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type votingResponse struct {
	ID            string `json:"id"`
	WorkID        string `json:"workId"`
	CreatorID     string `json:"creatorId"`
	Status        string `json:"status"`
	MinStake      int64  `json:"minStake"`
	EndsAt        string `json:"endsAt"`
	WinningOption *int   `json:"winningOption,omitempty"`
}

func toVotingResponse(v voting.Voting) votingResponse {
	return votingResponse{
		ID:            v.ID,
		WorkID:        v.WorkID,
		CreatorID:     v.CreatorID,
		Status:        string(v.Status),
		MinStake:      v.MinStake,
		EndsAt:        v.EndsAt.Format(time.RFC3339),
		WinningOption: v.WinningOption,
	}
}

func (s *Server) handleCreateVoting(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkID          string   `json:"workId"`
		Options         []string `json:"options"`
		DurationSeconds int64    `json:"durationSeconds"`
		MinStake        int64    `json:"minStake"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	v, err := s.votingService.Create(r.Context(), voting.CreateParams{
		WorkID:          req.WorkID,
		CreatorID:       userIDFrom(r),
		Options:         req.Options,
		DurationSeconds: req.DurationSeconds,
		MinStake:        req.MinStake,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVotingResponse(v))
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OptionIndex int   `json:"optionIndex"`
		Stake       int64 `json:"stake"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := s.votingService.CastVote(r.Context(), mux.Vars(r)["id"], userIDFrom(r), req.OptionIndex, req.Stake)
	if err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEndVoting(w http.ResponseWriter, r *http.Request) {
	v, err := s.votingService.End(r.Context(), mux.Vars(r)["id"], userIDFrom(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVotingResponse(v))
}

func (s *Server) handleCancelVoting(w http.ResponseWriter, r *http.Request) {
	if err := s.votingService.Cancel(r.Context(), mux.Vars(r)["id"], userIDFrom(r)); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type tallyOptionResponse struct {
	OptionIndex int    `json:"optionIndex"`
	Label       string `json:"label"`
	TotalStake  int64  `json:"totalStake"`
	ShareBps    int64  `json:"shareBps"`
}

func (s *Server) handleTally(w http.ResponseWriter, r *http.Request) {
	tally, err := s.votingService.Tally(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	options := make([]tallyOptionResponse, 0, len(tally.Options))
	for _, o := range tally.Options {
		options = append(options, tallyOptionResponse{
			OptionIndex: o.OptionIndex,
			Label:       o.Label,
			TotalStake:  o.TotalStake,
			ShareBps:    o.ShareBps,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"votingId":   tally.VotingID,
		"status":     string(tally.Status),
		"totalStake": tally.TotalStake,
		"options":    options,
	})
}

func (s *Server) handleWithdrawStake(w http.ResponseWriter, r *http.Request) {
	amount, err := s.votingService.WithdrawStake(r.Context(), mux.Vars(r)["id"], userIDFrom(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"returned": amount})
}

type disputeResponse struct {
	ReportID        string   `json:"reportId"`
	ReportedWorkID  string   `json:"reportedWorkId"`
	OriginalWorkID  string   `json:"originalWorkId"`
	AccusedID       string   `json:"accusedId"`
	ReporterID      string   `json:"reporterId"`
	Status          string   `json:"status"`
	SimilarityScore *int     `json:"similarityScore,omitempty"`
	Recommendation  string   `json:"recommendation,omitempty"`
	DisputedAreas   []string `json:"disputedAreas,omitempty"`
	ActionTaken     string   `json:"actionTaken"`
	Note            string   `json:"note,omitempty"`
}

func toDisputeResponse(d arbitration.Dispute) disputeResponse {
	return disputeResponse{
		ReportID:        d.ReportID,
		ReportedWorkID:  d.ReportedWorkID,
		OriginalWorkID:  d.OriginalWorkID,
		AccusedID:       d.AccusedID,
		ReporterID:      d.ReporterID,
		Status:          string(d.Status),
		SimilarityScore: d.SimilarityScore,
		Recommendation:  d.Recommendation,
		DisputedAreas:   d.DisputedAreas,
		ActionTaken:     d.ActionTaken,
		Note:            d.Note,
	}
}

func (s *Server) handleSubmitArbitration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReportedWorkID string `json:"reportedWorkId"`
		OriginalWorkID string `json:"originalWorkId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d, err := s.arbitrationService.Submit(r.Context(), arbitration.SubmitParams{
		ReportedWorkID: req.ReportedWorkID,
		OriginalWorkID: req.OriginalWorkID,
		ReporterID:     userIDFrom(r),
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeResponse(d))
}

func (s *Server) handleArbitration(w http.ResponseWriter, r *http.Request) {
	d, err := s.arbitrationService.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleResolveArbitration(w http.ResponseWriter, r *http.Request) {
	if roleFrom(r) != auth.RoleModerator {
		writeError(w, http.StatusForbidden, "moderator role required")
		return
	}
	var req struct {
		Verdict string `json:"verdict"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d, err := s.arbitrationService.Resolve(r.Context(), mux.Vars(r)["id"], arbitration.Verdict(req.Verdict))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleAppealArbitration(w http.ResponseWriter, r *http.Request) {
	if roleFrom(r) != auth.RoleModerator {
		writeError(w, http.StatusForbidden, "moderator role required")
		return
	}
	d, err := s.arbitrationService.Appeal(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

type lockStatusResponse struct {
	IsLocked             bool   `json:"isLocked"`
	LockedAmount         int64  `json:"lockedAmount,omitempty"`
	LockReason           string `json:"lockReason,omitempty"`
	IsWithdrawalDisabled bool   `json:"isWithdrawalDisabled"`
	RestrictionReason    string `json:"restrictionReason,omitempty"`
}

func (s *Server) handleLockStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.ledgerService.Status(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	resp := lockStatusResponse{
		IsLocked:             status.IsLocked,
		IsWithdrawalDisabled: status.IsWithdrawalDisabled,
	}
	if status.Lock != nil {
		resp.LockedAmount = status.Lock.Amount
		resp.LockReason = status.Lock.Reason
	}
	if status.Restriction != nil {
		resp.RestrictionReason = status.Restriction.Reason
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if address != userIDFrom(r) {
		writeError(w, http.StatusForbidden, "not your account")
		return
	}
	acct, err := s.ledgerService.Balance(r.Context(), address)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"availableBalance": acct.AvailableBalance,
		"lockedAmount":     acct.LockedAmount,
		"withdrawable":     acct.Withdrawable(),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if address != userIDFrom(r) {
		writeError(w, http.StatusForbidden, "not your account")
		return
	}
	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.ledgerService.Withdraw(r.Context(), address, req.Amount); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
