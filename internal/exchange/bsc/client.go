package bsc

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dexbot/internal/config"
	"dexbot/internal/exchange"
)

// PancakeSwap V2 factory.
const defaultFactoryAddress = "0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73"

const nativeDecimals = 18

var (
	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	maxAllowance  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	// Allowance below this is treated as not approved.
	approvalFloor = new(big.Int).Lsh(big.NewInt(1), 128)
)

// Client implements exchange.PriceSource and exchange.Executor against a BSC
// JSON-RPC endpoint and a PancakeSwap-style router.
type Client struct {
	eth    *ethclient.Client
	logger *zap.Logger

	router  common.Address
	factory common.Address
	wbnb    common.Address
	busd    common.Address
	wallet  common.Address

	key     *ecdsa.PrivateKey
	chainID *big.Int

	minPoolWBNB decimal.Decimal

	mu        sync.Mutex
	decimalsC map[common.Address]int
	pairC     map[common.Address]common.Address
}

func Dial(cfg config.ChainConfig, logger *zap.Logger) (*Client, error) {
	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		eth:         eth,
		logger:      logger,
		router:      common.HexToAddress(cfg.RouterAddress),
		factory:     common.HexToAddress(defaultFactoryAddress),
		wbnb:        common.HexToAddress(cfg.WBNBAddress),
		busd:        common.HexToAddress(cfg.BUSDAddress),
		wallet:      common.HexToAddress(cfg.WalletAddress),
		minPoolWBNB: decimal.NewFromFloat(cfg.MinPoolSize),
		decimalsC:   map[common.Address]int{},
		pairC:       map[common.Address]common.Address{},
	}

	if strings.TrimSpace(cfg.PrivateKey) != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		c.key = key
		c.wallet = crypto.PubkeyToAddress(key.PublicKey)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	c.chainID = chainID
	return c, nil
}

func (c *Client) Close() {
	if c != nil && c.eth != nil {
		c.eth.Close()
	}
}

func (c *Client) Wallet() string {
	return c.wallet.Hex()
}

// --- Reads ------------------------------------------------------------------

func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// TokenInfo reads symbol and decimals from the token contract; used when a
// token is first registered.
func (c *Client) TokenInfo(ctx context.Context, tokenAddress string) (exchange.TokenInfo, error) {
	token := common.HexToAddress(tokenAddress)

	data, err := erc20ABI.Pack("symbol")
	if err != nil {
		return exchange.TokenInfo{}, err
	}
	raw, err := c.call(ctx, token, data)
	if err != nil {
		return exchange.TokenInfo{}, err
	}
	symOut, err := erc20ABI.Unpack("symbol", raw)
	if err != nil || len(symOut) == 0 {
		return exchange.TokenInfo{}, fmt.Errorf("token %s: unreadable symbol", tokenAddress)
	}
	symbol, _ := symOut[0].(string)

	dec, err := c.tokenDecimals(ctx, token)
	if err != nil {
		return exchange.TokenInfo{}, err
	}
	return exchange.TokenInfo{Symbol: symbol, Decimals: dec}, nil
}

func (c *Client) tokenDecimals(ctx context.Context, token common.Address) (int, error) {
	c.mu.Lock()
	if dec, ok := c.decimalsC[token]; ok {
		c.mu.Unlock()
		return dec, nil
	}
	c.mu.Unlock()

	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	raw, err := c.call(ctx, token, data)
	if err != nil {
		return 0, err
	}
	out, err := erc20ABI.Unpack("decimals", raw)
	if err != nil || len(out) == 0 {
		return 0, fmt.Errorf("token %s: unreadable decimals", token.Hex())
	}
	dec := int(out[0].(uint8))

	c.mu.Lock()
	c.decimalsC[token] = dec
	c.mu.Unlock()
	return dec, nil
}

func (c *Client) pairFor(ctx context.Context, token common.Address, quote common.Address) (common.Address, error) {
	c.mu.Lock()
	if pair, ok := c.pairC[token]; ok && quote == c.wbnb {
		c.mu.Unlock()
		return pair, nil
	}
	c.mu.Unlock()

	data, err := factoryABI.Pack("getPair", token, quote)
	if err != nil {
		return common.Address{}, err
	}
	raw, err := c.call(ctx, c.factory, data)
	if err != nil {
		return common.Address{}, err
	}
	out, err := factoryABI.Unpack("getPair", raw)
	if err != nil || len(out) == 0 {
		return common.Address{}, fmt.Errorf("getPair unpack failed")
	}
	pair := out[0].(common.Address)
	if pair == (common.Address{}) {
		return common.Address{}, fmt.Errorf("no pair for %s", token.Hex())
	}
	if quote == c.wbnb {
		c.mu.Lock()
		c.pairC[token] = pair
		c.mu.Unlock()
	}
	return pair, nil
}

func (c *Client) pairReserves(ctx context.Context, pair common.Address, base common.Address) (baseReserve, quoteReserve *big.Int, err error) {
	data, err := pairABI.Pack("token0")
	if err != nil {
		return nil, nil, err
	}
	raw, err := c.call(ctx, pair, data)
	if err != nil {
		return nil, nil, err
	}
	out, err := pairABI.Unpack("token0", raw)
	if err != nil || len(out) == 0 {
		return nil, nil, fmt.Errorf("token0 unpack failed")
	}
	token0 := out[0].(common.Address)

	data, err = pairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, err
	}
	raw, err = c.call(ctx, pair, data)
	if err != nil {
		return nil, nil, err
	}
	out, err = pairABI.Unpack("getReserves", raw)
	if err != nil || len(out) < 2 {
		return nil, nil, fmt.Errorf("getReserves unpack failed")
	}
	r0 := out[0].(*big.Int)
	r1 := out[1].(*big.Int)
	if token0 == base {
		return r0, r1, nil
	}
	return r1, r0, nil
}

// TokenPrice returns the pool price in BNB per token unit. Pools holding less
// than the configured minimum WBNB return zero, which watchers treat as a
// skipped tick.
func (c *Client) TokenPrice(ctx context.Context, tokenAddress string) (decimal.Decimal, error) {
	token := common.HexToAddress(tokenAddress)
	pair, err := c.pairFor(ctx, token, c.wbnb)
	if err != nil {
		return decimal.Zero, err
	}
	tokenReserve, wbnbReserve, err := c.pairReserves(ctx, pair, token)
	if err != nil {
		return decimal.Zero, err
	}
	dec, err := c.tokenDecimals(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}

	wbnbHuman := decimal.NewFromBigInt(wbnbReserve, -nativeDecimals)
	tokenHuman := decimal.NewFromBigInt(tokenReserve, -int32(dec))
	if tokenHuman.IsZero() || wbnbHuman.LessThan(c.minPoolWBNB) {
		return decimal.Zero, nil
	}
	return wbnbHuman.Div(tokenHuman), nil
}

func (c *Client) NativePriceUSD(ctx context.Context) (decimal.Decimal, error) {
	pair, err := c.pairFor(ctx, c.busd, c.wbnb)
	if err != nil {
		return decimal.Zero, err
	}
	busdReserve, wbnbReserve, err := c.pairReserves(ctx, pair, c.busd)
	if err != nil {
		return decimal.Zero, err
	}
	wbnbHuman := decimal.NewFromBigInt(wbnbReserve, -nativeDecimals)
	if wbnbHuman.IsZero() {
		return decimal.Zero, nil
	}
	return decimal.NewFromBigInt(busdReserve, -nativeDecimals).Div(wbnbHuman), nil
}

func (c *Client) TokenBalance(ctx context.Context, tokenAddress string) (decimal.Decimal, error) {
	raw, err := c.TokenBalanceRaw(ctx, tokenAddress)
	if err != nil {
		return decimal.Zero, err
	}
	dec, err := c.tokenDecimals(ctx, common.HexToAddress(tokenAddress))
	if err != nil {
		return decimal.Zero, err
	}
	return raw.Shift(-int32(dec)), nil
}

func (c *Client) TokenBalanceRaw(ctx context.Context, tokenAddress string) (decimal.Decimal, error) {
	token := common.HexToAddress(tokenAddress)
	data, err := erc20ABI.Pack("balanceOf", c.wallet)
	if err != nil {
		return decimal.Zero, err
	}
	raw, err := c.call(ctx, token, data)
	if err != nil {
		return decimal.Zero, err
	}
	out, err := erc20ABI.Unpack("balanceOf", raw)
	if err != nil || len(out) == 0 {
		return decimal.Zero, fmt.Errorf("balanceOf unpack failed")
	}
	return decimal.NewFromBigInt(out[0].(*big.Int), 0), nil
}

func (c *Client) NativeBalance(ctx context.Context) (decimal.Decimal, error) {
	wei, err := c.eth.BalanceAt(ctx, c.wallet, nil)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(wei, -nativeDecimals), nil
}

func (c *Client) IsApproved(ctx context.Context, tokenAddress string) (bool, error) {
	token := common.HexToAddress(tokenAddress)
	data, err := erc20ABI.Pack("allowance", c.wallet, c.router)
	if err != nil {
		return false, err
	}
	raw, err := c.call(ctx, token, data)
	if err != nil {
		return false, err
	}
	out, err := erc20ABI.Unpack("allowance", raw)
	if err != nil || len(out) == 0 {
		return false, fmt.Errorf("allowance unpack failed")
	}
	return out[0].(*big.Int).Cmp(approvalFloor) >= 0, nil
}

// --- Writes -----------------------------------------------------------------

func (c *Client) Approve(ctx context.Context, tokenAddress string) error {
	if c.key == nil {
		return fmt.Errorf("no signer configured, refusing to send transactions")
	}
	token := common.HexToAddress(tokenAddress)
	data, err := erc20ABI.Pack("approve", c.router, maxAllowance)
	if err != nil {
		return err
	}
	receipt, err := c.sendAndWait(ctx, token, big.NewInt(0), data, nil)
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("approve reverted: %s", receipt.TxHash.Hex())
	}
	return nil
}

func (c *Client) Swap(ctx context.Context, params exchange.SwapParams) (exchange.SwapResult, error) {
	if c.key == nil {
		return exchange.SwapResult{}, &exchange.SwapError{Reason: "no signer configured, refusing to send transactions"}
	}
	token := common.HexToAddress(params.TokenAddress)
	amount := params.Amount.BigInt()
	deadline := big.NewInt(time.Now().Add(2 * time.Minute).Unix())

	switch params.Direction {
	case "buy":
		return c.swapBuy(ctx, token, amount, params, deadline)
	case "sell":
		return c.swapSell(ctx, token, amount, params, deadline)
	default:
		return exchange.SwapResult{}, &exchange.SwapError{Reason: fmt.Sprintf("unknown swap direction %q", params.Direction)}
	}
}

func (c *Client) swapBuy(ctx context.Context, token common.Address, amountWei *big.Int, params exchange.SwapParams, deadline *big.Int) (exchange.SwapResult, error) {
	path := []common.Address{c.wbnb, token}
	minOut, err := c.minAmountOut(ctx, amountWei, path, params.SlippagePercent)
	if err != nil {
		return exchange.SwapResult{}, &exchange.SwapError{Reason: err.Error()}
	}
	data, err := routerABI.Pack("swapExactETHForTokensSupportingFeeOnTransferTokens", minOut, path, c.wallet, deadline)
	if err != nil {
		return exchange.SwapResult{}, &exchange.SwapError{Reason: err.Error()}
	}
	receipt, err := c.sendAndWait(ctx, c.router, amountWei, data, params.GasPrice)
	if err != nil {
		return exchange.SwapResult{}, &exchange.SwapError{Reason: err.Error()}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return exchange.SwapResult{}, &exchange.SwapError{TxHash: receipt.TxHash.Hex()}
	}

	received := c.transferredToWallet(receipt, token)
	dec, err := c.tokenDecimals(ctx, token)
	if err != nil {
		return exchange.SwapResult{}, &exchange.SwapError{Reason: err.Error()}
	}
	return exchange.SwapResult{
		AmountOut: decimal.NewFromBigInt(received, -int32(dec)),
		TxHash:    receipt.TxHash.Hex(),
	}, nil
}

func (c *Client) swapSell(ctx context.Context, token common.Address, amountRaw *big.Int, params exchange.SwapParams, deadline *big.Int) (exchange.SwapResult, error) {
	balanceBefore, err := c.eth.BalanceAt(ctx, c.wallet, nil)
	if err != nil {
		return exchange.SwapResult{}, &exchange.SwapError{Reason: err.Error()}
	}
	path := []common.Address{token, c.wbnb}
	minOut, err := c.minAmountOut(ctx, amountRaw, path, params.SlippagePercent)
	if err != nil {
		return exchange.SwapResult{}, &exchange.SwapError{Reason: err.Error()}
	}
	data, err := routerABI.Pack("swapExactTokensForETHSupportingFeeOnTransferTokens", amountRaw, minOut, path, c.wallet, deadline)
	if err != nil {
		return exchange.SwapResult{}, &exchange.SwapError{Reason: err.Error()}
	}
	receipt, err := c.sendAndWait(ctx, c.router, big.NewInt(0), data, params.GasPrice)
	if err != nil {
		return exchange.SwapResult{}, &exchange.SwapError{Reason: err.Error()}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return exchange.SwapResult{}, &exchange.SwapError{TxHash: receipt.TxHash.Hex()}
	}

	balanceAfter, err := c.eth.BalanceAt(ctx, c.wallet, receipt.BlockNumber)
	if err != nil {
		return exchange.SwapResult{}, &exchange.SwapError{Reason: err.Error()}
	}
	gasCost := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice)
	received := new(big.Int).Sub(balanceAfter, balanceBefore)
	received.Add(received, gasCost)
	if received.Sign() < 0 {
		received = big.NewInt(0)
	}
	return exchange.SwapResult{
		AmountOut: decimal.NewFromBigInt(received, -nativeDecimals),
		TxHash:    receipt.TxHash.Hex(),
	}, nil
}

func (c *Client) minAmountOut(ctx context.Context, amountIn *big.Int, path []common.Address, slippagePercent decimal.Decimal) (*big.Int, error) {
	data, err := routerABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	raw, err := c.call(ctx, c.router, data)
	if err != nil {
		return nil, err
	}
	out, err := routerABI.Unpack("getAmountsOut", raw)
	if err != nil || len(out) == 0 {
		return nil, fmt.Errorf("getAmountsOut unpack failed")
	}
	amounts := out[0].([]*big.Int)
	if len(amounts) == 0 {
		return nil, fmt.Errorf("getAmountsOut returned no amounts")
	}
	expected := decimal.NewFromBigInt(amounts[len(amounts)-1], 0)
	keep := decimal.NewFromInt(100).Sub(slippagePercent).Div(decimal.NewFromInt(100))
	return expected.Mul(keep).BigInt(), nil
}

func (c *Client) sendAndWait(ctx context.Context, to common.Address, value *big.Int, data []byte, gasSpec *string) (*types.Receipt, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, c.wallet)
	if err != nil {
		return nil, err
	}
	networkGas, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	gasPrice, err := exchange.ParseGasPrice(gasSpec, networkGas)
	if err != nil {
		return nil, err
	}

	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:     c.wallet,
		To:       &to,
		Value:    value,
		Data:     data,
		GasPrice: gasPrice,
	})
	if err != nil {
		return nil, err
	}
	gasLimit = gasLimit + gasLimit/5

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, err
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}
	if c.logger != nil {
		c.logger.Info("transaction sent", zap.String("tx", signed.Hash().Hex()))
	}
	return bind.WaitMined(ctx, c.eth, signed)
}

// transferredToWallet sums ERC-20 Transfer amounts from token to our wallet
// in the receipt; fee-on-transfer tokens make router return values
// unreliable, the logs are the truth.
func (c *Client) transferredToWallet(receipt *types.Receipt, token common.Address) *big.Int {
	total := big.NewInt(0)
	for _, log := range receipt.Logs {
		if log.Address != token || len(log.Topics) < 3 || log.Topics[0] != transferTopic {
			continue
		}
		if common.BytesToAddress(log.Topics[2].Bytes()) != c.wallet {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(log.Data))
	}
	return total
}
