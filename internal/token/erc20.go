package token

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// Minimal ERC-20 ABI: only the four methods the settlement engine uses.
const erc20ABI = `[
	{"name":"transfer","type":"function","inputs":[
		{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","inputs":[
		{"name":"from","type":"address"},{"name":"to","type":"address"},
		{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"name":"approve","type":"function","inputs":[
		{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[
		{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

// ERC20 is a Ledger backed by an on-chain ERC-20 token. The bound account
// is the address of the configured private key; it pays gas for every
// mutating call. A transaction that mines with a failed status surfaces as
// ErrTransferFailed so the engine aborts the enclosing operation.
type ERC20 struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	opts     *bind.TransactOpts
}

// NewERC20 dials the JSON-RPC endpoint and binds the token contract.
func NewERC20(ctx context.Context, rpcURL, contractAddr, privateKeyHex string, chainID int64) (*ERC20, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, err
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(chainID))
	if err != nil {
		return nil, err
	}

	addr := common.HexToAddress(contractAddr)
	return &ERC20{
		client:   client,
		contract: bind.NewBoundContract(addr, parsed, client, client, client),
		opts:     opts,
	}, nil
}

// Close releases the underlying RPC connection.
func (t *ERC20) Close() {
	t.client.Close()
}

func (t *ERC20) Transfer(ctx context.Context, to string, amount decimal.Decimal) error {
	return t.transact(ctx, "transfer", common.HexToAddress(to), amount.BigInt())
}

func (t *ERC20) TransferFrom(ctx context.Context, from, to string, amount decimal.Decimal) error {
	return t.transact(ctx, "transferFrom",
		common.HexToAddress(from), common.HexToAddress(to), amount.BigInt())
}

func (t *ERC20) Approve(ctx context.Context, spender string, amount decimal.Decimal) error {
	return t.transact(ctx, "approve", common.HexToAddress(spender), amount.BigInt())
}

func (t *ERC20) BalanceOf(ctx context.Context, owner string) (decimal.Decimal, error) {
	var out []interface{}
	err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out,
		"balanceOf", common.HexToAddress(owner))
	if err != nil {
		return decimal.Zero, fmt.Errorf("balanceOf %s: %w", owner, err)
	}
	if len(out) == 0 {
		return decimal.Zero, fmt.Errorf("balanceOf %s: contract returned no values", owner)
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("balanceOf %s: unexpected return type", owner)
	}
	return decimal.NewFromBigInt(bal, 0), nil
}

// transact submits the call and waits for the receipt; a reverted
// transaction is a collaborator failure.
func (t *ERC20) transact(ctx context.Context, method string, args ...interface{}) error {
	opts := *t.opts
	opts.Context = ctx

	tx, err := t.contract.Transact(&opts, method, args...)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTransferFailed, method, err)
	}

	receipt, err := bind.WaitMined(ctx, t.client, tx)
	if err != nil {
		return fmt.Errorf("%w: %s: wait mined: %v", ErrTransferFailed, method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s: tx %s reverted", ErrTransferFailed, method, tx.Hash())
	}
	return nil
}
