// Package commission computes the platform/payee split of a gross payment
// amount. Amounts are minor units (cents); the rate is basis points so the
// arithmetic stays exact integer math end to end.
package commission

import (
	"fmt"

	"escrow/internal/domain"
)

// MaxBps is one whole: rates must satisfy 0 <= bps < MaxBps.
const MaxBps int64 = 10000

// Split divides grossAmount between the platform fee and the payee payout.
// The payee amount is floored, so remainder cents always land in the
// platform fee and platformFee + payeeAmount == grossAmount exactly.
func Split(grossAmount, rateBps int64) (platformFee, payeeAmount int64, err error) {
	if grossAmount <= 0 {
		return 0, 0, fmt.Errorf("gross amount %d: %w", grossAmount, domain.ErrInvalidAmount)
	}
	if rateBps < 0 || rateBps >= MaxBps {
		return 0, 0, fmt.Errorf("commission rate %d bps: %w", rateBps, domain.ErrInvalidRate)
	}
	payeeAmount = grossAmount * (MaxBps - rateBps) / MaxBps
	platformFee = grossAmount - payeeAmount
	return platformFee, payeeAmount, nil
}
