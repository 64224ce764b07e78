package service

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"d2dtreasury/config"
	"d2dtreasury/native/common"
	"d2dtreasury/native/deploy"
	"d2dtreasury/native/treasury"
	"d2dtreasury/state"
)

// Server exposes the treasury and deployment engines over an authenticated
// JSON API. Mutating endpoints are POSTs carrying the caller identity in the
// body; reads are open GETs.
type Server struct {
	treasury *treasury.Engine
	deploy   *deploy.Engine
	state    *state.Manager
	auth     *Authenticator
	limiter  *RateLimiter
	log      *slog.Logger
	router   chi.Router
}

func NewServer(cfg config.Config, treasuryEngine *treasury.Engine, deployEngine *deploy.Engine, manager *state.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		treasury: treasuryEngine,
		deploy:   deployEngine,
		state:    manager,
		auth:     NewAuthenticator(cfg.Auth.APITokens),
		limiter:  NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		log:      logger.With("component", "api"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.limiter.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/treasury", s.handle("treasury.get", s.getLedger))
		r.Get("/treasury/positions/{address}", s.handle("treasury.position", s.getPosition))
		r.Get("/deploy/requests/{hash}", s.handle("deploy.get", s.getRequest))
		r.Get("/deploy/stats/{address}", s.handle("deploy.stats", s.getStats))

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)

			r.Post("/treasury/deposits", s.handle("treasury.deposit", s.postDeposit))
			r.Post("/treasury/withdrawals", s.handle("treasury.withdraw", s.postWithdraw))
			r.Post("/treasury/claims", s.handle("treasury.claim", s.postClaim))
			r.Post("/treasury/fees", s.handle("treasury.creditFees", s.postCreditFees))
			r.Post("/treasury/pause", s.handle("treasury.setPaused", s.postSetPaused))
			r.Post("/treasury/sync", s.handle("treasury.syncLiquid", s.postSyncLiquid))
			r.Post("/treasury/platform-withdrawals", s.handle("treasury.platformWithdraw", s.postPlatformWithdraw))
			r.Post("/treasury/surplus-withdrawals", s.handle("treasury.surplusWithdraw", s.postSurplusWithdraw))
			r.Post("/treasury/reinitialize", s.handle("treasury.reinitialize", s.postReinitialize))

			r.Post("/deploy/requests", s.handle("deploy.create", s.postCreateRequest))
			r.Post("/deploy/requests/{hash}/escrow", s.handle("deploy.fundEscrow", s.postFundEscrow))
			r.Post("/deploy/requests/{hash}/confirm", s.handle("deploy.confirm", s.postConfirmSuccess))
			r.Post("/deploy/requests/{hash}/fail", s.handle("deploy.fail", s.postConfirmFailure))
			r.Post("/deploy/requests/{hash}/cancel", s.handle("deploy.cancel", s.postCancel))
			r.Post("/deploy/requests/{hash}/subscription", s.handle("deploy.paySubscription", s.postPaySubscription))
			r.Post("/deploy/requests/{hash}/close", s.handle("deploy.close", s.postClose))
			r.Post("/deploy/suspend", s.handle("deploy.suspend", s.postSuspendExpired))
		})
	})
	return r
}

func (s *Server) handle(operation string, fn func(*http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		payload, err := fn(r)
		if err != nil {
			Metrics().ObserveRequest(operation, "error", start)
			s.writeError(w, operation, err)
			return
		}
		Metrics().ObserveRequest(operation, "ok", start)
		writeJSON(w, http.StatusOK, payload)
	}
}

// --- treasury handlers ---

func (s *Server) getLedger(*http.Request) (any, error) {
	ledger, ok := s.state.TreasuryGet()
	if !ok {
		return nil, errNotFound
	}
	return ledgerView(ledger), nil
}

func (s *Server) getPosition(r *http.Request) (any, error) {
	owner, err := pathAddress(r, "address")
	if err != nil {
		return nil, err
	}
	position, ok := s.state.PositionGet(owner)
	if !ok {
		return nil, errNotFound
	}
	pending, err := s.treasury.PendingRewards(owner)
	if err != nil {
		pending = big.NewInt(0)
	}
	view := positionView(position)
	view["pendingRewards"] = pending.String()
	return view, nil
}

type depositRequest struct {
	Backer string `json:"backer"`
	Amount string `json:"amount"`
}

func (s *Server) postDeposit(r *http.Request) (any, error) {
	var req depositRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	backer, err := config.ParseAddress(req.Backer)
	if err != nil {
		return nil, badField("backer", err)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, badField("amount", err)
	}
	position, err := s.treasury.Deposit(backer, amount)
	if err != nil {
		return nil, err
	}
	return positionView(position), nil
}

func (s *Server) postWithdraw(r *http.Request) (any, error) {
	var req depositRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	backer, err := config.ParseAddress(req.Backer)
	if err != nil {
		return nil, badField("backer", err)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, badField("amount", err)
	}
	position, err := s.treasury.Withdraw(backer, amount)
	if err != nil {
		return nil, err
	}
	return positionView(position), nil
}

func (s *Server) postClaim(r *http.Request) (any, error) {
	var req struct {
		Backer string `json:"backer"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	backer, err := config.ParseAddress(req.Backer)
	if err != nil {
		return nil, badField("backer", err)
	}
	claimed, err := s.treasury.Claim(backer)
	if err != nil {
		return nil, err
	}
	return map[string]string{"claimed": claimed.String()}, nil
}

func (s *Server) postCreditFees(r *http.Request) (any, error) {
	var req struct {
		Caller      string `json:"caller"`
		FeeReward   string `json:"feeReward"`
		FeePlatform string `json:"feePlatform"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		return nil, badField("caller", err)
	}
	feeReward, err := parseAmount(req.FeeReward)
	if err != nil {
		return nil, badField("feeReward", err)
	}
	feePlatform, err := parseAmount(req.FeePlatform)
	if err != nil {
		return nil, badField("feePlatform", err)
	}
	if err := s.treasury.CreditFees(caller, feeReward, feePlatform); err != nil {
		return nil, err
	}
	return okResponse(), nil
}

func (s *Server) postSetPaused(r *http.Request) (any, error) {
	var req struct {
		Caller string `json:"caller"`
		Paused bool   `json:"paused"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		return nil, badField("caller", err)
	}
	if err := s.treasury.SetPaused(caller, req.Paused); err != nil {
		return nil, err
	}
	return okResponse(), nil
}

func (s *Server) postSyncLiquid(r *http.Request) (any, error) {
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		return nil, badField("caller", err)
	}
	updated, err := s.treasury.SyncLiquidBalance(caller)
	if err != nil {
		return nil, err
	}
	return map[string]string{"liquidBalance": updated.String()}, nil
}

func (s *Server) postPlatformWithdraw(r *http.Request) (any, error) {
	var req struct {
		Caller string `json:"caller"`
		Amount string `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		return nil, badField("caller", err)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, badField("amount", err)
	}
	if err := s.treasury.WithdrawPlatformPool(caller, amount, req.Reason); err != nil {
		return nil, err
	}
	return okResponse(), nil
}

func (s *Server) postSurplusWithdraw(r *http.Request) (any, error) {
	var req struct {
		Caller      string `json:"caller"`
		Destination string `json:"destination"`
		Amount      string `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		return nil, badField("caller", err)
	}
	destination, err := config.ParseAddress(req.Destination)
	if err != nil {
		return nil, badField("destination", err)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, badField("amount", err)
	}
	if err := s.treasury.WithdrawRewardSurplus(caller, destination, amount); err != nil {
		return nil, err
	}
	return okResponse(), nil
}

func (s *Server) postReinitialize(r *http.Request) (any, error) {
	var req struct {
		Caller    string `json:"caller"`
		Admin     string `json:"admin"`
		DevWallet string `json:"devWallet"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		return nil, badField("caller", err)
	}
	admin, err := config.ParseAddress(req.Admin)
	if err != nil {
		return nil, badField("admin", err)
	}
	devWallet, err := config.ParseAddress(req.DevWallet)
	if err != nil {
		return nil, badField("devWallet", err)
	}
	if err := s.treasury.Reinitialize(caller, admin, devWallet); err != nil {
		return nil, err
	}
	return okResponse(), nil
}

// --- deploy handlers ---

func (s *Server) getRequest(r *http.Request) (any, error) {
	hash, err := pathHash(r, "hash")
	if err != nil {
		return nil, err
	}
	request, ok := s.state.DeployRequestGet(hash)
	if !ok {
		return nil, errNotFound
	}
	return requestView(request), nil
}

func (s *Server) getStats(r *http.Request) (any, error) {
	owner, err := pathAddress(r, "address")
	if err != nil {
		return nil, err
	}
	stats, ok := s.state.UserStatsGet(owner)
	if !ok {
		return nil, errNotFound
	}
	return map[string]any{
		"owner":          hex.EncodeToString(stats.Owner[:]),
		"activeSessions": stats.ActiveSessions,
		"dailyDeploys":   stats.DailyDeploys,
		"totalDeploys":   stats.TotalDeploys,
		"lastReset":      stats.LastReset,
	}, nil
}

func (s *Server) postCreateRequest(r *http.Request) (any, error) {
	var req struct {
		Caller         string `json:"caller"`
		Developer      string `json:"developer"`
		ProgramHash    string `json:"programHash"`
		ServiceFee     string `json:"serviceFee"`
		MonthlyFee     string `json:"monthlyFee"`
		InitialMonths  uint32 `json:"initialMonths"`
		DeploymentCost string `json:"deploymentCost"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		return nil, badField("caller", err)
	}
	developer, err := config.ParseAddress(req.Developer)
	if err != nil {
		return nil, badField("developer", err)
	}
	programHash, err := parseHash(req.ProgramHash)
	if err != nil {
		return nil, badField("programHash", err)
	}
	serviceFee, err := parseAmount(req.ServiceFee)
	if err != nil {
		return nil, badField("serviceFee", err)
	}
	monthlyFee, err := parseAmount(req.MonthlyFee)
	if err != nil {
		return nil, badField("monthlyFee", err)
	}
	deploymentCost, err := parseAmount(req.DeploymentCost)
	if err != nil {
		return nil, badField("deploymentCost", err)
	}
	request, err := s.deploy.CreateRequest(caller, developer, programHash, serviceFee, monthlyFee, req.InitialMonths, deploymentCost)
	if err != nil {
		return nil, err
	}
	return requestView(request), nil
}

func (s *Server) postFundEscrow(r *http.Request) (any, error) {
	hash, err := pathHash(r, "hash")
	if err != nil {
		return nil, err
	}
	var req struct {
		Caller string `json:"caller"`
		Source string `json:"source"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		return nil, badField("caller", err)
	}
	request, err := s.deploy.FundEscrow(caller, hash, req.Source)
	if err != nil {
		return nil, err
	}
	return requestView(request), nil
}

func (s *Server) postConfirmSuccess(r *http.Request) (any, error) {
	hash, err := pathHash(r, "hash")
	if err != nil {
		return nil, err
	}
	var req struct {
		Caller         string `json:"caller"`
		ProgramID      string `json:"programId"`
		RecoveredFunds string `json:"recoveredFunds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		return nil, badField("caller", err)
	}
	programID, err := config.ParseAddress(req.ProgramID)
	if err != nil {
		return nil, badField("programId", err)
	}
	recovered := big.NewInt(0)
	if req.RecoveredFunds != "" {
		if recovered, err = parseAmount(req.RecoveredFunds); err != nil {
			return nil, badField("recoveredFunds", err)
		}
	}
	request, err := s.deploy.ConfirmSuccess(caller, hash, programID, recovered)
	if err != nil {
		return nil, err
	}
	return requestView(request), nil
}

func (s *Server) postConfirmFailure(r *http.Request) (any, error) {
	hash, err := pathHash(r, "hash")
	if err != nil {
		return nil, err
	}
	var req struct {
		Caller string `json:"caller"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		return nil, badField("caller", err)
	}
	request, err := s.deploy.ConfirmFailure(caller, hash, req.Reason)
	if err != nil {
		return nil, err
	}
	return requestView(request), nil
}

func (s *Server) postCancel(r *http.Request) (any, error) {
	hash, err := pathHash(r, "hash")
	if err != nil {
		return nil, err
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		return nil, badField("caller", err)
	}
	request, err := s.deploy.Cancel(caller, hash)
	if err != nil {
		return nil, err
	}
	return requestView(request), nil
}

func (s *Server) postPaySubscription(r *http.Request) (any, error) {
	hash, err := pathHash(r, "hash")
	if err != nil {
		return nil, err
	}
	var req struct {
		Caller string `json:"caller"`
		Months uint32 `json:"months"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		return nil, badField("caller", err)
	}
	request, err := s.deploy.PaySubscription(caller, hash, req.Months)
	if err != nil {
		return nil, err
	}
	return requestView(request), nil
}

func (s *Server) postClose(r *http.Request) (any, error) {
	hash, err := pathHash(r, "hash")
	if err != nil {
		return nil, err
	}
	var req struct {
		Caller       string `json:"caller"`
		RefundSource string `json:"refundSource"`
		Recovered    string `json:"recovered"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		return nil, badField("caller", err)
	}
	refundSource, err := config.ParseAddress(req.RefundSource)
	if err != nil {
		return nil, badField("refundSource", err)
	}
	recovered, err := parseAmount(req.Recovered)
	if err != nil {
		return nil, badField("recovered", err)
	}
	request, err := s.deploy.CloseAndRefund(caller, hash, refundSource, recovered)
	if err != nil {
		return nil, err
	}
	return requestView(request), nil
}

func (s *Server) postSuspendExpired(r *http.Request) (any, error) {
	var req struct {
		Caller string   `json:"caller"`
		Hashes []string `json:"hashes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		return nil, badField("caller", err)
	}
	hashes := make([][32]byte, 0, len(req.Hashes))
	for _, raw := range req.Hashes {
		hash, err := parseHash(raw)
		if err != nil {
			return nil, badField("hashes", err)
		}
		hashes = append(hashes, hash)
	}
	count, err := s.deploy.SuspendExpired(caller, hashes)
	if err != nil {
		return nil, err
	}
	return map[string]uint32{"suspended": count}, nil
}

// --- views and plumbing ---

func ledgerView(ledger *treasury.Ledger) map[string]any {
	return map[string]any{
		"rewardPerShare":      ledger.RewardPerShare.String(),
		"totalDeposited":      ledger.TotalDeposited.String(),
		"liquidBalance":       ledger.LiquidBalance.String(),
		"rewardPoolBalance":   ledger.RewardPoolBalance.String(),
		"platformPoolBalance": ledger.PlatformPoolBalance.String(),
		"rewardFeeRateBps":    ledger.RewardFeeRateBps,
		"platformFeeRateBps":  ledger.PlatformFeeRateBps,
		"admin":               hex.EncodeToString(ledger.Admin[:]),
		"devWallet":           hex.EncodeToString(ledger.DevWallet[:]),
		"emergencyPause":      ledger.EmergencyPause,
	}
}

func positionView(position *treasury.Position) map[string]any {
	return map[string]any{
		"owner":           hex.EncodeToString(position.Owner[:]),
		"depositedAmount": position.DepositedAmount.String(),
		"rewardDebt":      position.RewardDebt.String(),
		"claimedTotal":    position.ClaimedTotal.String(),
		"active":          position.Active,
	}
}

func requestView(request *deploy.Request) map[string]any {
	return map[string]any{
		"requestId":             hex.EncodeToString(request.RequestID[:]),
		"developer":             hex.EncodeToString(request.Developer[:]),
		"programHash":           hex.EncodeToString(request.ProgramHash[:]),
		"serviceFee":            request.ServiceFee.String(),
		"monthlyFee":            request.MonthlyFee.String(),
		"deploymentCost":        request.DeploymentCost.String(),
		"borrowedAmount":        request.BorrowedAmount.String(),
		"initialMonths":         request.InitialMonths,
		"subscriptionPaidUntil": request.SubscriptionPaidUntil,
		"ephemeralKey":          request.EphemeralKey.String(),
		"deployedProgramId":     request.DeployedProgramID.String(),
		"status":                request.Status.String(),
		"createdAt":             request.CreatedAt,
	}
}

var errNotFound = errors.New("record not found")

type badRequestError struct {
	field string
	err   error
}

func (e *badRequestError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.field, e.err)
}

func badField(field string, err error) error {
	return &badRequestError{field: field, err: err}
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return badField("body", err)
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", raw)
	}
	return value, nil
}

func parseHash(raw string) ([32]byte, error) {
	var hash [32]byte
	cleaned := raw
	if len(cleaned) >= 2 && cleaned[0] == '0' && (cleaned[1] == 'x' || cleaned[1] == 'X') {
		cleaned = cleaned[2:]
	}
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return hash, err
	}
	if len(decoded) != len(hash) {
		return hash, fmt.Errorf("hash must be %d bytes, got %d", len(hash), len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}

func pathAddress(r *http.Request, name string) ([20]byte, error) {
	addr, err := config.ParseAddress(chi.URLParam(r, name))
	if err != nil {
		return [20]byte{}, badField(name, err)
	}
	return addr, nil
}

func pathHash(r *http.Request, name string) ([32]byte, error) {
	hash, err := parseHash(chi.URLParam(r, name))
	if err != nil {
		return [32]byte{}, badField(name, err)
	}
	return hash, nil
}

func okResponse() map[string]string {
	return map[string]string{"status": "ok"}
}

func (s *Server) writeError(w http.ResponseWriter, operation string, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("operation failed", "operation", operation, "error", err)
	} else {
		s.log.Debug("operation rejected", "operation", operation, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func httpStatus(err error) int {
	var badReq *badRequestError
	switch {
	case errors.As(err, &badReq),
		errors.Is(err, treasury.ErrInvalidAmount),
		errors.Is(err, treasury.ErrAmountNegative),
		errors.Is(err, treasury.ErrAmountTooLarge),
		errors.Is(err, deploy.ErrInvalidAmount),
		errors.Is(err, deploy.ErrInvalidRecovered),
		errors.Is(err, deploy.ErrUnknownEscrowSource):
		return http.StatusBadRequest
	case errors.Is(err, treasury.ErrUnauthorized),
		errors.Is(err, deploy.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, errNotFound),
		errors.Is(err, deploy.ErrRequestNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrPaused),
		errors.Is(err, treasury.ErrLedgerExists),
		errors.Is(err, treasury.ErrDepositsOutstanding),
		errors.Is(err, deploy.ErrDeveloperConflict),
		errors.Is(err, deploy.ErrEscrowAssigned),
		errors.Is(err, deploy.ErrInvalidStatus):
		return http.StatusConflict
	case errors.Is(err, treasury.ErrPositionInactive),
		errors.Is(err, treasury.ErrInsufficientDeposit),
		errors.Is(err, treasury.ErrInsufficientLiquidity),
		errors.Is(err, treasury.ErrInsufficientPoolFunds),
		errors.Is(err, treasury.ErrNothingToClaim),
		errors.Is(err, deploy.ErrInsufficientFunds),
		errors.Is(err, deploy.ErrHashMismatch),
		errors.Is(err, common.ErrCounterOverflow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
