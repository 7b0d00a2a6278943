package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/blitzrace/internal/domain"
	"github.com/alejandrodnm/blitzrace/internal/ports"
)

// API exposes a ledger over HTTP: one write endpoint for calls, read
// endpoints for every view and a websocket stream of events.
type API struct {
	Ledger  ports.LedgerClient
	History ports.History // optional; enables /v1/rounds and round events

	// AllowDeposit enables the deposit faucet.
	AllowDeposit bool

	upgrader websocket.Upgrader
	replay   *replayGuard
	now      func() time.Time
}

// NewAPI creates an API over l. history may be nil.
func NewAPI(l ports.LedgerClient, history ports.History, allowDeposit bool) *API {
	return &API{
		Ledger:       l,
		History:      history,
		AllowDeposit: allowDeposit,
		upgrader:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		replay:       newReplayGuard(),
		now:          time.Now,
	}
}

// Router returns the HTTP handler.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/calls", a.submit)
	r.Get("/v1/round", a.currentRound)
	r.Get("/v1/rounds", a.listRounds)
	r.Get("/v1/rounds/{id}", a.roundAt)
	r.Get("/v1/rounds/{id}/events", a.roundEvents)
	r.Get("/v1/rounds/{id}/bets/{addr}", a.userBets)
	r.Get("/v1/rounds/{id}/winnings/{addr}", a.userWinnings)
	r.Get("/v1/positions", a.positions)
	r.Get("/v1/pools", a.pools)
	r.Get("/v1/accounts/{addr}/balance", a.balance)
	r.Get("/v1/upkeep", a.checkUpkeep)
	r.Get("/v1/events", a.events)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type amountBody struct {
	RoundID uint64          `json:"round_id,omitempty"`
	Address common.Address  `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
}

const maxCallBody = 64 << 10

func (a *API) submit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Kind: domain.KindValidation.String(), Error: "read body: " + err.Error()})
		return
	}
	var call domain.Call
	if err := json.Unmarshal(body, &call); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Kind: domain.KindValidation.String(), Error: "invalid body: " + err.Error()})
		return
	}
	if _, err := domain.ParseOp(string(call.Op)); err != nil {
		writeError(w, err)
		return
	}
	if call.Op.RequiresSignature() {
		if err := a.authenticate(r, body, call.Caller); err != nil {
			slog.Warn("call rejected: signature", "op", call.Op, "caller", call.Caller.Hex(), "err", err)
			writeError(w, err)
			return
		}
	}
	if call.Op == domain.OpDeposit && !a.AllowDeposit {
		writeJSON(w, http.StatusForbidden, errorBody{Kind: domain.KindValidation.String(), Error: "deposit faucet disabled"})
		return
	}
	receipt, err := a.Ledger.Submit(r.Context(), call)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// authenticate checks that the request is signed by caller, recently, and
// only once.
func (a *API) authenticate(r *http.Request, body []byte, caller common.Address) error {
	sig := r.Header.Get(HeaderSignature)
	tsHeader := r.Header.Get(HeaderTimestamp)
	if sig == "" || tsHeader == "" {
		return fmt.Errorf("unsigned call: %w", domain.ErrBadSignature)
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp %q: %w", tsHeader, domain.ErrBadSignature)
	}
	now := a.now()
	if d := now.Sub(time.UnixMilli(ts)); d > signatureWindow || d < -signatureWindow {
		return fmt.Errorf("timestamp outside %s window: %w", signatureWindow, domain.ErrBadSignature)
	}
	signer, err := recoverSigner(body, ts, sig)
	if err != nil {
		return fmt.Errorf("%v: %w", err, domain.ErrBadSignature)
	}
	if signer != caller {
		return fmt.Errorf("signed by %s, caller is %s: %w", signer.Hex(), caller.Hex(), domain.ErrInvalidAddress)
	}
	if !a.replay.fresh(sig, now) {
		return fmt.Errorf("signature already used: %w", domain.ErrBadSignature)
	}
	return nil
}

func (a *API) currentRound(w http.ResponseWriter, r *http.Request) {
	v, err := a.Ledger.CurrentRound(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) listRounds(w http.ResponseWriter, r *http.Request) {
	if a.History == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "history not enabled"})
		return
	}
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Kind: domain.KindValidation.String(), Error: "invalid limit"})
			return
		}
		limit = n
	}
	rounds, err := a.History.Rounds(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rounds)
}

func (a *API) roundAt(w http.ResponseWriter, r *http.Request) {
	id, ok := roundParam(w, r)
	if !ok {
		return
	}
	s, err := a.Ledger.RoundAt(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) roundEvents(w http.ResponseWriter, r *http.Request) {
	if a.History == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "history not enabled"})
		return
	}
	id, ok := roundParam(w, r)
	if !ok {
		return
	}
	events, err := a.History.Events(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *API) userBets(w http.ResponseWriter, r *http.Request) {
	id, ok := roundParam(w, r)
	if !ok {
		return
	}
	addr, ok := addrParam(w, r)
	if !ok {
		return
	}
	bets, err := a.Ledger.UserBets(r.Context(), id, addr)
	if err != nil {
		writeError(w, err)
		return
	}
	if bets == nil {
		bets = []domain.Bet{}
	}
	writeJSON(w, http.StatusOK, bets)
}

func (a *API) userWinnings(w http.ResponseWriter, r *http.Request) {
	id, ok := roundParam(w, r)
	if !ok {
		return
	}
	addr, ok := addrParam(w, r)
	if !ok {
		return
	}
	amount, err := a.Ledger.UserWinnings(r.Context(), id, addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, amountBody{RoundID: id, Address: addr, Amount: amount})
}

func (a *API) positions(w http.ResponseWriter, r *http.Request) {
	p, err := a.Ledger.Positions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) pools(w http.ResponseWriter, r *http.Request) {
	p, err := a.Ledger.TotalBets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) balance(w http.ResponseWriter, r *http.Request) {
	addr, ok := addrParam(w, r)
	if !ok {
		return
	}
	b, err := a.Ledger.Balance(r.Context(), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, amountBody{Address: addr, Amount: b})
}

func (a *API) checkUpkeep(w http.ResponseWriter, r *http.Request) {
	up, err := a.Ledger.CheckUpkeep(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, up)
}

// events streams committed ledger events over a websocket until either side
// goes away.
func (a *API) events(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch, err := a.Ledger.Subscribe(ctx)
	if err != nil {
		_ = conn.WriteJSON(errorBody{Kind: domain.KindOf(err).String(), Error: err.Error()})
		return
	}

	// Clients never send; reading only detects the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			slog.Debug("event stream closed", "err", err)
			return
		}
	}
}

func roundParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("round id %q: %w", chi.URLParam(r, "id"), domain.ErrUnknownRound))
		return 0, false
	}
	return id, true
}

func addrParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	s := chi.URLParam(r, "addr")
	if !common.IsHexAddress(s) {
		writeError(w, fmt.Errorf("address %q: %w", s, domain.ErrInvalidAddress))
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}
