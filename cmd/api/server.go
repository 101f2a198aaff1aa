package main

import (
	"context"
	"net/http"
	"strings"
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

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyRole
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

type workService interface {
	Register(ctx context.Context, params work.RegisterParams) (work.Work, error)
	Get(ctx context.Context, id string) (work.Work, error)
	AncestorChain(ctx context.Context, workID string) ([]work.Ancestor, error)
	ListByCreator(ctx context.Context, creatorID string, limit int) ([]work.Work, error)
	Deactivate(ctx context.Context, workID, actorID string) error
}

type revenueService interface {
	ProcessPayment(ctx context.Context, workID string, amount int64) (revenue.Receipt, error)
	ProcessTip(ctx context.Context, creatorID string, amount int64) (revenue.Receipt, error)
	History(ctx context.Context, creatorID string, limit int) ([]revenue.Receipt, error)
}

type votingService interface {
	Create(ctx context.Context, params voting.CreateParams) (voting.Voting, error)
	CastVote(ctx context.Context, votingID, voterID string, optionIndex int, stake int64) error
	Tally(ctx context.Context, votingID string) (voting.TallyResult, error)
	End(ctx context.Context, votingID, actorID string) (voting.Voting, error)
	Cancel(ctx context.Context, votingID, actorID string) error
	WithdrawStake(ctx context.Context, votingID, voterID string) (int64, error)
}

type arbitrationService interface {
	Submit(ctx context.Context, params arbitration.SubmitParams) (arbitration.Dispute, error)
	Get(ctx context.Context, reportID string) (arbitration.Dispute, error)
	Resolve(ctx context.Context, reportID string, verdict arbitration.Verdict) (arbitration.Dispute, error)
	Appeal(ctx context.Context, reportID string) (arbitration.Dispute, error)
}

type ledgerService interface {
	Withdraw(ctx context.Context, address string, amount int64) error
	Status(ctx context.Context, address string) (ledger.LockStatus, error)
	Balance(ctx context.Context, address string) (ledger.Account, error)
}

// Server wires the HTTP layer to the domain services.
type Server struct {
	log                *zap.Logger
	authService        authService
	workService        workService
	revenueService     revenueService
	votingService      votingService
	arbitrationService arbitrationService
	ledgerService      ledgerService
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/api/auth/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", s.handleLogin).Methods(http.MethodPost)

	r.HandleFunc("/api/works", s.requireAuth(s.handleCreateWork)).Methods(http.MethodPost)
	r.HandleFunc("/api/works", s.requireAuth(s.handleListWorks)).Methods(http.MethodGet)
	r.HandleFunc("/api/works/{id}", s.requireAuth(s.handleWork)).Methods(http.MethodGet)
	r.HandleFunc("/api/works/{id}", s.requireAuth(s.handleDeactivateWork)).Methods(http.MethodDelete)
	r.HandleFunc("/api/works/{id}/ancestors", s.requireAuth(s.handleAncestors)).Methods(http.MethodGet)

	r.HandleFunc("/api/payments", s.requireAuth(s.handlePayment)).Methods(http.MethodPost)
	r.HandleFunc("/api/tips", s.requireAuth(s.handleTip)).Methods(http.MethodPost)
	r.HandleFunc("/api/payments/history", s.requireAuth(s.handlePaymentHistory)).Methods(http.MethodGet)

	r.HandleFunc("/api/votings", s.requireAuth(s.handleCreateVoting)).Methods(http.MethodPost)
	r.HandleFunc("/api/votings/{id}/votes", s.requireAuth(s.handleCastVote)).Methods(http.MethodPost)
	r.HandleFunc("/api/votings/{id}/end", s.requireAuth(s.handleEndVoting)).Methods(http.MethodPost)
	r.HandleFunc("/api/votings/{id}/cancel", s.requireAuth(s.handleCancelVoting)).Methods(http.MethodPost)
	r.HandleFunc("/api/votings/{id}/tally", s.requireAuth(s.handleTally)).Methods(http.MethodGet)
	r.HandleFunc("/api/votings/{id}/stake/withdraw", s.requireAuth(s.handleWithdrawStake)).Methods(http.MethodPost)

	r.HandleFunc("/api/arbitrations", s.requireAuth(s.handleSubmitArbitration)).Methods(http.MethodPost)
	r.HandleFunc("/api/arbitrations/{id}", s.requireAuth(s.handleArbitration)).Methods(http.MethodGet)
	r.HandleFunc("/api/arbitrations/{id}/resolve", s.requireAuth(s.handleResolveArbitration)).Methods(http.MethodPost)
	r.HandleFunc("/api/arbitrations/{id}/appeal", s.requireAuth(s.handleAppealArbitration)).Methods(http.MethodPost)

	r.HandleFunc("/api/accounts/{address}/lock-status", s.requireAuth(s.handleLockStatus)).Methods(http.MethodGet)
	r.HandleFunc("/api/accounts/{address}/balance", s.requireAuth(s.handleBalance)).Methods(http.MethodGet)
	r.HandleFunc("/api/accounts/{address}/withdraw", s.requireAuth(s.handleWithdraw)).Methods(http.MethodPost)

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.log == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// requireAuth extracts the bearer token, verifies it, and stashes the user id
// and role in the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, role, err := s.authService.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next(w, r.WithContext(ctx))
	}
}

func userIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyUserID).(string)
	return id
}

func roleFrom(r *http.Request) auth.Role {
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	return role
}
