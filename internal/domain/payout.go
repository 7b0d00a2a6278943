package domain

import "github.com/shopspring/decimal"

// PayoutPrecision son los decimales del activo apostado (wei).
const PayoutPrecision int32 = 18

// Payout calcula el pago pari-mutuel de una apuesta ganadora:
//
//	payout = stake / winnerPool × totalPool
//
// truncado a PayoutPrecision decimales. Con winnerPool == 0 no hay pago.
// La suma de pagos de una ronda nunca supera totalPool.
func Payout(stake, winnerPool, totalPool decimal.Decimal) decimal.Decimal {
	if !winnerPool.IsPositive() || !stake.IsPositive() {
		return decimal.Zero
	}
	q, _ := stake.Mul(totalPool).QuoRem(winnerPool, PayoutPrecision)
	return q
}

// Retained devuelve lo que se queda la tesorería al liquidar: el pozo entero
// si nadie apostó al ganador, cero en otro caso.
func Retained(pools Pools, winner HorseID) decimal.Decimal {
	if pools[winner].IsPositive() {
		return decimal.Zero
	}
	return pools.Total()
}
