package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeBackend is an in-memory Backend. sendErrs are returned by successive
// SendTransaction calls before it starts succeeding. Receipts appear after
// pendingPolls lookups.
type fakeBackend struct {
	mu sync.Mutex

	chainID      *big.Int
	nonce        uint64
	gasPrice     *big.Int
	sendErrs     []error
	receiptErr   error
	status       uint64
	pendingPolls int
	neverConfirm bool

	sent   []*types.Transaction
	polls  int
	closed bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:  big.NewInt(10143),
		nonce:    7,
		gasPrice: big.NewInt(50_000_000_000),
		status:   types.ReceiptStatusSuccessful,
	}
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		return err
	}
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	if f.neverConfirm || f.polls <= f.pendingPolls {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{
		Status:      f.status,
		TxHash:      hash,
		GasUsed:     21_000,
		BlockNumber: big.NewInt(123),
	}, nil
}

func (f *fakeBackend) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeBackend) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}
