// Package ledger reads prediction-market state from the market and metadata
// contracts over JSON-RPC. All calls are read-only and individually bounded by
// a timeout.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
	"github.com/alanyoungcy/xomarket-expert/internal/metrics"
)

// ErrNoCounter is returned by MarketCount when the contract ABI does not
// expose a market counter.
var ErrNoCounter = errors.New("ledger: contract exposes no market counter")

// ErrNoMetadataContract is returned by MetadataURI when no metadata contract
// is configured.
var ErrNoMetadataContract = errors.New("ledger: no metadata contract configured")

// priceDecimals is the fixed-point scale of outcome prices and alpha.
const priceDecimals = 18

// Backend is the subset of *ethclient.Client the Reader uses.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config holds the Reader's endpoint, contracts, and call bounds.
type Config struct {
	RPCURL             string
	MarketContract     string
	MetadataContract   string
	ABIPath            string
	CallTimeout        time.Duration
	CounterTimeout     time.Duration
	CollateralDecimals int32
}

// Reader issues read-only calls against the market contract.
type Reader struct {
	backend   Backend
	contract  abi.ABI
	cfg       Config
	market    common.Address
	metadata  *common.Address
	abiOnDisk bool
	logger    *slog.Logger
	closeFn   func()
}

// Dial connects to cfg.RPCURL and returns a Reader. The ABI is loaded from
// cfg.ABIPath with the embedded default as a fallback.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Reader, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", cfg.RPCURL, err)
	}
	r, err := NewReader(client, cfg, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	r.closeFn = client.Close
	return r, nil
}

// NewReader builds a Reader on an existing backend.
func NewReader(backend Backend, cfg Config, logger *slog.Logger) (*Reader, error) {
	logger = logger.With(slog.String("component", "ledger"))

	if !common.IsHexAddress(cfg.MarketContract) {
		return nil, fmt.Errorf("ledger: invalid market contract address %q", cfg.MarketContract)
	}
	parsed, onDisk, err := LoadABI(cfg.ABIPath, logger)
	if err != nil {
		return nil, err
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.CounterTimeout <= 0 {
		cfg.CounterTimeout = 10 * time.Second
	}

	r := &Reader{
		backend:   backend,
		contract:  parsed,
		cfg:       cfg,
		market:    common.HexToAddress(cfg.MarketContract),
		abiOnDisk: onDisk,
		logger:    logger,
	}
	if cfg.MetadataContract != "" {
		if !common.IsHexAddress(cfg.MetadataContract) {
			return nil, fmt.Errorf("ledger: invalid metadata contract address %q", cfg.MetadataContract)
		}
		addr := common.HexToAddress(cfg.MetadataContract)
		r.metadata = &addr
	}
	return r, nil
}

// Close releases the underlying RPC connection when the Reader owns one.
func (r *Reader) Close() {
	if r.closeFn != nil {
		r.closeFn()
	}
}

// MarketCount reads the contract's market counter. It returns ErrNoCounter
// when the ABI has no counter method.
func (r *Reader) MarketCount(ctx context.Context) (n int64, err error) {
	if _, ok := r.contract.Methods[methodMarketCount]; !ok {
		return 0, ErrNoCounter
	}
	defer func() { recordCall(methodMarketCount, err) }()

	out, err := r.call(ctx, r.market, r.cfg.CounterTimeout, methodMarketCount)
	if err != nil {
		return 0, err
	}
	v, err := asBig(out, 0)
	if err != nil {
		return 0, fmt.Errorf("ledger: %s: %w", methodMarketCount, err)
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("ledger: %s: count %s overflows int64", methodMarketCount, v)
	}
	return v.Int64(), nil
}

// GetMarket reads a market's raw fields without per-outcome arrays. It is the
// cheap existence probe used during discovery. A record that was never
// created yields domain.ErrNotFound.
func (r *Reader) GetMarket(ctx context.Context, id int64) (domain.RawMarket, error) {
	method := methodMarket
	if _, ok := r.contract.Methods[method]; !ok {
		method = methodExtendedMarket
	}
	return r.readMarket(ctx, method, id)
}

// GetExtendedMarket reads a market's raw fields plus per-outcome collateral
// and prices. A record that was never created yields domain.ErrNotFound.
func (r *Reader) GetExtendedMarket(ctx context.Context, id int64) (domain.RawMarket, error) {
	return r.readMarket(ctx, methodExtendedMarket, id)
}

// MetadataURI reads the metadata document URI for a market from the metadata
// contract.
func (r *Reader) MetadataURI(ctx context.Context, id int64) (uri string, err error) {
	if r.metadata == nil {
		return "", ErrNoMetadataContract
	}
	defer func() { recordCall(methodTokenURI, err) }()

	out, err := r.call(ctx, *r.metadata, r.cfg.CallTimeout, methodTokenURI, big.NewInt(id))
	if err != nil {
		return "", err
	}
	if len(out) == 0 {
		return "", fmt.Errorf("ledger: %s: empty result", methodTokenURI)
	}
	uri, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("ledger: %s: unexpected type %T", methodTokenURI, out[0])
	}
	return uri, nil
}

// Ping checks that the RPC endpoint answers a chain id query.
func (r *Reader) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	if _, err := r.backend.ChainID(ctx); err != nil {
		return fmt.Errorf("ledger: ping: %w", err)
	}
	return nil
}

// ContractDeployed reports whether code exists at the market contract address.
func (r *Reader) ContractDeployed(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	code, err := r.backend.CodeAt(ctx, r.market, nil)
	if err != nil {
		return false, fmt.Errorf("ledger: code at %s: %w", r.market.Hex(), err)
	}
	return len(code) > 0, nil
}

// NetworkInfo describes the endpoint. When the endpoint is unreachable the
// result has ChainID 0 and an "(offline)" name.
func (r *Reader) NetworkInfo(ctx context.Context) domain.NetworkInfo {
	info := domain.NetworkInfo{
		Name:             "XO Market Testnet",
		RPCURL:           r.cfg.RPCURL,
		ContractAddress:  r.market.Hex(),
		ABILoaded:        r.abiOnDisk,
		AvailableMethods: methodNames(r.contract),
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	chainID, err := r.backend.ChainID(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "network info unavailable", slog.String("error", err.Error()))
		info.Name += " (offline)"
		return info
	}
	info.ChainID = chainID.Int64()
	if block, err := r.backend.BlockNumber(ctx); err == nil {
		info.BlockNumber = block
	}
	return info
}

func (r *Reader) readMarket(ctx context.Context, method string, id int64) (raw domain.RawMarket, err error) {
	defer func() { recordCall(method, err) }()

	out, err := r.call(ctx, r.market, r.cfg.CallTimeout, method, big.NewInt(id))
	if err != nil {
		return domain.RawMarket{}, err
	}
	raw, err = decodeMarket(out, r.cfg.CollateralDecimals)
	if err != nil {
		return domain.RawMarket{}, fmt.Errorf("ledger: decode %s(%d): %w", method, id, err)
	}
	if raw.CreatedAt.IsZero() || raw.OutcomeCount == 0 {
		return domain.RawMarket{}, fmt.Errorf("ledger: market %d: %w", id, domain.ErrNotFound)
	}
	raw.ID = id
	return raw, nil
}

func recordCall(method string, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, domain.ErrNotFound):
		outcome = "absent"
	case err != nil:
		outcome = "error"
	}
	metrics.LedgerCalls.WithLabelValues(method, outcome).Inc()
}

// call packs and executes a contract read under its own timeout and returns
// the unpacked outputs.
func (r *Reader) call(ctx context.Context, to common.Address, timeout time.Duration, method string, args ...any) ([]any, error) {
	data, err := r.contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack %s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	metrics.ObserveSince(metrics.LedgerLatency.WithLabelValues(method), start)
	if err != nil {
		return nil, fmt.Errorf("ledger: call %s: %w", method, err)
	}

	out, err := r.contract.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("ledger: unpack %s: %w", method, err)
	}
	return out, nil
}

// decodeMarket maps the flat getMarket/getExtendedMarket outputs onto a
// RawMarket. The trailing per-outcome arrays are optional.
func decodeMarket(out []any, collateralDecimals int32) (domain.RawMarket, error) {
	if len(out) < 13 {
		return domain.RawMarket{}, fmt.Errorf("expected at least 13 outputs, got %d", len(out))
	}

	var raw domain.RawMarket
	status, ok := out[1].(uint8)
	if !ok {
		return raw, fmt.Errorf("status: unexpected type %T", out[1])
	}
	raw.Status = domain.RawStatus(status)

	creator, ok := out[2].(common.Address)
	if !ok {
		return raw, fmt.Errorf("creator: unexpected type %T", out[2])
	}
	raw.Creator = creator.Hex()

	ints := make([]*big.Int, 13)
	for _, i := range []int{3, 4, 5, 6, 7, 9, 10, 11, 12} {
		v, err := asBig(out, i)
		if err != nil {
			return raw, err
		}
		ints[i] = v
	}

	raw.CreatedAt = unixTime(ints[3])
	raw.StartsAt = unixTime(ints[4])
	raw.ExpiresAt = unixTime(ints[5])
	raw.ResolvedAt = unixTime(ints[6])
	raw.OutcomeCount = int(ints[7].Int64())

	token, ok := out[8].(common.Address)
	if !ok {
		return raw, fmt.Errorf("collateralToken: unexpected type %T", out[8])
	}
	raw.CollateralToken = token.Hex()
	raw.CollateralAmount = decimal.NewFromBigInt(ints[9], -collateralDecimals)
	raw.CreatorFeeBps = int(ints[10].Int64())
	raw.Alpha = decimal.NewFromBigInt(ints[11], -priceDecimals)

	raw.WinningOutcome = -1
	if !raw.ResolvedAt.IsZero() || raw.Status == domain.RawStatusResolved {
		if ints[12].IsInt64() && ints[12].Int64() < int64(raw.OutcomeCount) {
			raw.WinningOutcome = int(ints[12].Int64())
		}
	}

	if len(out) >= 15 {
		collateral, err := asBigSlice(out, 13)
		if err != nil {
			return raw, err
		}
		prices, err := asBigSlice(out, 14)
		if err != nil {
			return raw, err
		}
		raw.OutcomeCollateral = scaleAll(collateral, collateralDecimals)
		raw.OutcomePrices = scaleAll(prices, priceDecimals)
	}
	return raw, nil
}

func asBig(out []any, i int) (*big.Int, error) {
	v, ok := out[i].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("output %d: unexpected type %T", i, out[i])
	}
	return v, nil
}

func asBigSlice(out []any, i int) ([]*big.Int, error) {
	v, ok := out[i].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("output %d: unexpected type %T", i, out[i])
	}
	return v, nil
}

func scaleAll(vs []*big.Int, decimals int32) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vs))
	for i, v := range vs {
		out[i] = decimal.NewFromBigInt(v, -decimals)
	}
	return out
}

// unixTime converts a seconds timestamp to UTC; zero maps to the zero Time.
func unixTime(v *big.Int) time.Time {
	if v.Sign() <= 0 || !v.IsInt64() {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}
