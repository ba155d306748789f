// Package commission splits trade proceeds between the counterparty and a
// commission recipient in basis points.
package commission

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MaxBasisPoints is 100.00%.
const MaxBasisPoints = 10000

var (
	ErrZeroRecipient = errors.New("commission recipient is the zero address")
	ErrOutOfRange    = errors.New("commission percentage out of range")
)

var maxBps = big.NewInt(MaxBasisPoints)

// Info accompanies every settlement call. DAppID is bookkeeping only.
type Info struct {
	To          common.Address `json:"commissionTo"`
	BasisPoints uint64         `json:"commissionPercentage"`
	DAppID      *big.Int       `json:"dAppId"`
}

func (i Info) Validate() error {
	if i.To == (common.Address{}) {
		return ErrZeroRecipient
	}
	if i.BasisPoints > MaxBasisPoints {
		return fmt.Errorf("%w: %d > %d", ErrOutOfRange, i.BasisPoints, MaxBasisPoints)
	}
	return nil
}

// Split returns floor(gross*bps/10000) and the remainder. The two always sum
// to gross.
func Split(gross *big.Int, bps uint64) (commission, net *big.Int) {
	commission = new(big.Int).Mul(gross, new(big.Int).SetUint64(bps))
	commission.Quo(commission, maxBps)
	net = new(big.Int).Sub(gross, commission)
	return commission, net
}

func (i Info) Split(gross *big.Int) (commission, net *big.Int) {
	return Split(gross, i.BasisPoints)
}
