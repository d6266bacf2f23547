package chain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PendingTx is a transaction accepted by the node but not yet confirmed.
type PendingTx struct {
	Hash     common.Hash
	Action   string
	Amount   *big.Int
	Nonce    uint64
	GasPrice *big.Int
	SentAt   time.Time
	// Attempts counts send calls, including the successful one.
	Attempts int
}

// Confirmation is the receipt of a successful transaction.
type Confirmation struct {
	Hash        common.Hash
	BlockNumber uint64
	GasUsed     uint64
	ConfirmedAt time.Time
}
