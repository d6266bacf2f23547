package chain

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sethvargo/go-retry"

	"github.com/R3E-Network/cycle_runner/internal/action"
	"github.com/R3E-Network/cycle_runner/internal/errors"
)

// Submit signs and sends act for amount. Transient send failures are retried
// with capped exponential backoff; the same signed transaction is resent, so a
// node answering "already known" counts as accepted.
func (c *Client) Submit(ctx context.Context, act action.Action, amount *big.Int) (*PendingTx, error) {
	data, err := act.Data(amount)
	if err != nil {
		return nil, errors.Network("submit "+act.Name, err)
	}

	if err := c.wait(ctx); err != nil {
		return nil, errors.Network("submit "+act.Name, err)
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, errors.Network("submit "+act.Name, fmt.Errorf("pending nonce: %w", err))
	}

	if err := c.wait(ctx); err != nil {
		return nil, errors.Network("submit "+act.Name, err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Network("submit "+act.Name, fmt.Errorf("gas price: %w", err))
	}

	to := act.Target
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      act.GasLimit,
		To:       &to,
		Value:    act.ValueFor(amount),
		Data:     data,
	}), c.signer, c.key)
	if err != nil {
		return nil, errors.Network("submit "+act.Name, fmt.Errorf("sign: %w", err))
	}

	attempts, err := c.sendWithRetry(ctx, tx)
	if err != nil {
		return nil, errors.Network("submit "+act.Name, fmt.Errorf("send %s: %w", tx.Hash().Hex(), err))
	}

	return &PendingTx{
		Hash:     tx.Hash(),
		Action:   act.Name,
		Amount:   new(big.Int).Set(amount),
		Nonce:    nonce,
		GasPrice: gasPrice,
		SentAt:   time.Now(),
		Attempts: attempts,
	}, nil
}

func (c *Client) sendWithRetry(ctx context.Context, tx *types.Transaction) (int, error) {
	backoff := retry.NewExponential(c.cfg.RetryBackoff)
	backoff = retry.WithCappedDuration(c.cfg.RetryBackoffMax, backoff)
	backoff = retry.WithJitterPercent(defaultRetryJitter, backoff)
	backoff = retry.WithMaxRetries(uint64(c.cfg.SubmitRetries), backoff)

	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if err := c.wait(ctx); err != nil {
			return err
		}
		err := c.backend.SendTransaction(ctx, tx)
		switch {
		case err == nil, isAlreadyKnown(err):
			return nil
		case ctx.Err() == nil && isTransient(err):
			return retry.RetryableError(err)
		default:
			return err
		}
	})
	return attempts, err
}

var errNotConfirmed = errors.New("transaction not yet confirmed")

// Await polls for the receipt of pending. A missing receipt is retried until
// the confirmation timeout (if any) expires. A receipt with failed status is
// an action revert.
func (c *Client) Await(ctx context.Context, pending *PendingTx) (*Confirmation, error) {
	op := "await " + pending.Action
	wctx := ctx
	if c.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
		defer cancel()
	}

	backoff := retry.NewConstant(c.cfg.PollInterval)

	var receipt *types.Receipt
	err := retry.Do(wctx, backoff, func(ctx context.Context) error {
		r, err := c.receipt(ctx, pending)
		if err != nil {
			return err
		}
		if r == nil {
			return retry.RetryableError(errNotConfirmed)
		}
		receipt = r
		return nil
	})
	if err != nil {
		return nil, c.awaitError(ctx, wctx, op, pending, err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, errors.ActionRevert(op, fmt.Errorf("tx %s reverted in block %s", pending.Hash.Hex(), receipt.BlockNumber))
	}
	return &Confirmation{
		Hash:        pending.Hash,
		BlockNumber: blockNumber(receipt),
		GasUsed:     receipt.GasUsed,
		ConfirmedAt: time.Now(),
	}, nil
}

// receipt returns nil without error while the transaction is unconfirmed.
func (c *Client) receipt(ctx context.Context, pending *PendingTx) (*types.Receipt, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	receipt, err := c.backend.TransactionReceipt(ctx, pending.Hash)
	switch {
	case err == nil:
		return receipt, nil
	case errors.Is(err, ethereum.NotFound):
		return nil, nil
	case ctx.Err() == nil && isTransient(err):
		return nil, nil
	default:
		return nil, err
	}
}

func (c *Client) awaitError(parent, wctx context.Context, op string, pending *PendingTx, err error) error {
	if parent.Err() == nil && wctx.Err() != nil {
		return errors.Network(op, fmt.Errorf("tx %s after %s: %w", pending.Hash.Hex(), c.cfg.ConfirmTimeout, errors.ErrConfirmationTimeout))
	}
	return errors.Network(op, fmt.Errorf("tx %s: %w", pending.Hash.Hex(), err))
}

func blockNumber(r *types.Receipt) uint64 {
	if r.BlockNumber == nil {
		return 0
	}
	return r.BlockNumber.Uint64()
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

// isTransient reports whether err is a transport failure worth retrying.
// Errors returned by the node itself are final.
func isTransient(err error) bool {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
