package domain

import (
	"errors"
	"fmt"
)

// Kind clasifica un rechazo del ledger según cómo debe reaccionar quien llama.
type Kind int

const (
	KindUnknown Kind = iota
	// KindGuard: la precondición de fase/tiempo no se cumple todavía o ya se cumplió.
	// Para un keeper significa "no es mi turno" y no es un fallo.
	KindGuard
	// KindValidation: la entrada es inválida.
	KindValidation
	// KindNoPayout: no hay nada que cobrar.
	KindNoPayout
	// KindTransport: fallo de red o del ledger; reintentable.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindGuard:
		return "guard"
	case KindValidation:
		return "validation"
	case KindNoPayout:
		return "no_payout"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// RuleError es un rechazo de una regla del contrato. Los centinelas de abajo
// se comparan con errors.Is y viajan por HTTP por su Code.
type RuleError struct {
	Code string
	Kind Kind
	Msg  string
}

func (e *RuleError) Error() string { return e.Msg }

func newRule(code string, kind Kind, msg string) *RuleError {
	e := &RuleError{Code: code, Kind: kind, Msg: msg}
	registry[code] = e
	return e
}

var registry = map[string]*RuleError{}

// Guard violations.
var (
	ErrRoundNotFinished = newRule("round_not_finished", KindGuard, "current round not finished")
	ErrBettingClosed    = newRule("betting_closed", KindGuard, "betting is closed")
	ErrNoRound          = newRule("no_round", KindGuard, "no round in progress")
	ErrNotRacing        = newRule("not_racing", KindGuard, "round is not racing")
	ErrPositionsCurrent = newRule("positions_current", KindGuard, "positions already updated for this ledger time")
	ErrRaceNotOver      = newRule("race_not_over", KindGuard, "race not over")
	ErrAlreadySettled   = newRule("already_settled", KindGuard, "round already settled")
	ErrNotSettled       = newRule("not_settled", KindGuard, "round not settled")
	ErrAlreadyClaimed   = newRule("already_claimed", KindGuard, "winnings already claimed")
	ErrUpkeepNotNeeded  = newRule("upkeep_not_needed", KindGuard, "no upkeep needed")
)

// Validation errors.
var (
	ErrInvalidHorse      = newRule("invalid_horse", KindValidation, "invalid horse")
	ErrBetTooSmall       = newRule("bet_too_small", KindValidation, "bet below minimum")
	ErrBetTooLarge       = newRule("bet_too_large", KindValidation, "bet above maximum")
	ErrInsufficientFunds = newRule("insufficient_funds", KindValidation, "insufficient funds")
	ErrInvalidAmount     = newRule("invalid_amount", KindValidation, "amount must be positive")
	ErrUnknownRound      = newRule("unknown_round", KindValidation, "unknown round")
	ErrUnknownOp         = newRule("unknown_op", KindValidation, "unknown operation")
	ErrInvalidAddress    = newRule("invalid_address", KindValidation, "invalid address")
	ErrBadSignature      = newRule("bad_signature", KindValidation, "missing, expired or replayed call signature")
)

// ErrNoEligiblePayout: el llamante no tiene apuestas ganadoras en la ronda.
var ErrNoEligiblePayout = newRule("no_eligible_payout", KindNoPayout, "no eligible payout")

// RuleByCode devuelve el centinela registrado para un código de error.
func RuleByCode(code string) (*RuleError, bool) {
	e, ok := registry[code]
	return e, ok
}

// TransportError envuelve un fallo de red o del ledger. Es reintentable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError crea un TransportError; devuelve nil si err es nil.
func NewTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

// KindOf clasifica err. Los errores no reconocidos son KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var te *TransportError
	if errors.As(err, &te) {
		return KindTransport
	}
	var re *RuleError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// IsGuard indica un rechazo de guarda ("no es mi turno").
func IsGuard(err error) bool { return KindOf(err) == KindGuard }

// IsRetriable indica si vale la pena reintentar la misma llamada.
func IsRetriable(err error) bool { return KindOf(err) == KindTransport }

// CodeOf devuelve el código de la regla violada, o "" si err no es un RuleError.
func CodeOf(err error) string {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
