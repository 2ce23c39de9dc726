package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
)

const testMarketContract = "0x3cf19D0C88a14477DCaA0A45f4AF149a4C917523"

var (
	testCreator = common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678")
	testToken   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	wad         = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

// fakeMarket is the on-chain record served by fakeBackend.
type fakeMarket struct {
	status     uint8
	createdAt  int64
	startsAt   int64
	expiresAt  int64
	resolvedAt int64
	winning    int64
	collateral []*big.Int
	prices     []*big.Int
	uri        string
}

// fakeBackend answers contract calls by ABI-packing in-memory records, so the
// Reader's real pack/unpack path is exercised.
type fakeBackend struct {
	abi     abi.ABI
	markets map[int64]fakeMarket
	count   int64
	callErr error
	chainID *big.Int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	parsed, _, err := LoadABI("", discardLogger())
	if err != nil {
		t.Fatalf("LoadABI: %v", err)
	}
	return &fakeBackend{abi: parsed, markets: map[int64]fakeMarket{}, chainID: big.NewInt(1337)}
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	method, err := f.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	if method.Name == methodMarketCount {
		return method.Outputs.Pack(big.NewInt(f.count))
	}

	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	id := args[0].(*big.Int).Int64()
	m := f.markets[id] // zero value for absent ids, as an uninitialised mapping slot would be

	if method.Name == methodTokenURI {
		return method.Outputs.Pack(m.uri)
	}

	outcomes := int64(len(m.prices))
	collateralSum := new(big.Int)
	for _, c := range m.collateral {
		collateralSum.Add(collateralSum, c)
	}
	values := []any{
		big.NewInt(id), m.status, testCreator,
		big.NewInt(m.createdAt), big.NewInt(m.startsAt), big.NewInt(m.expiresAt), big.NewInt(m.resolvedAt),
		big.NewInt(outcomes), testToken, collateralSum,
		big.NewInt(250), new(big.Int).Set(wad), big.NewInt(m.winning),
	}
	if method.Name == methodExtendedMarket {
		collateral := m.collateral
		if collateral == nil {
			collateral = []*big.Int{}
		}
		prices := m.prices
		if prices == nil {
			prices = []*big.Int{}
		}
		values = append(values, collateral, prices)
	}
	return method.Outputs.Pack(values...)
}

func (f *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	if f.chainID == nil {
		return nil, errors.New("connection refused")
	}
	return f.chainID, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return 42, nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tokens(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), wad) }

func pct(p int64) *big.Int { return new(big.Int).Div(new(big.Int).Mul(big.NewInt(p), wad), big.NewInt(100)) }

func newTestReader(t *testing.T, f *fakeBackend, metadataContract string) *Reader {
	t.Helper()
	r, err := NewReader(f, Config{
		MarketContract:     testMarketContract,
		MetadataContract:   metadataContract,
		CallTimeout:        time.Second,
		CounterTimeout:     time.Second,
		CollateralDecimals: 18,
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	return r
}

func TestGetExtendedMarket_Decodes(t *testing.T) {
	f := newFakeBackend(t)
	f.markets[7] = fakeMarket{
		status:     uint8(domain.RawStatusActive),
		createdAt:  1_700_000_000,
		startsAt:   1_700_000_100,
		expiresAt:  1_800_000_000,
		collateral: []*big.Int{tokens(3), tokens(2)},
		prices:     []*big.Int{pct(60), pct(40)},
	}
	r := newTestReader(t, f, "")

	raw, err := r.GetExtendedMarket(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetExtendedMarket: %v", err)
	}
	if raw.ID != 7 {
		t.Errorf("ID = %d, want 7", raw.ID)
	}
	if raw.OutcomeCount != 2 {
		t.Errorf("OutcomeCount = %d, want 2", raw.OutcomeCount)
	}
	if got := raw.CollateralAmount.String(); got != "5" {
		t.Errorf("CollateralAmount = %s, want 5", got)
	}
	if got := raw.OutcomePrices[0].String(); got != "0.6" {
		t.Errorf("OutcomePrices[0] = %s, want 0.6", got)
	}
	if got := raw.Alpha.String(); got != "1" {
		t.Errorf("Alpha = %s, want 1", got)
	}
	if raw.CreatorFeeBps != 250 {
		t.Errorf("CreatorFeeBps = %d, want 250", raw.CreatorFeeBps)
	}
	if !raw.ExpiresAt.Equal(time.Unix(1_800_000_000, 0)) {
		t.Errorf("ExpiresAt = %v", raw.ExpiresAt)
	}
	if !raw.ResolvedAt.IsZero() {
		t.Errorf("ResolvedAt = %v, want zero", raw.ResolvedAt)
	}
	if raw.WinningOutcome != -1 {
		t.Errorf("WinningOutcome = %d, want -1 for unresolved market", raw.WinningOutcome)
	}
	if raw.Creator != testCreator.Hex() {
		t.Errorf("Creator = %s, want %s", raw.Creator, testCreator.Hex())
	}
}

func TestGetExtendedMarket_ResolvedWinner(t *testing.T) {
	f := newFakeBackend(t)
	f.markets[3] = fakeMarket{
		status:     uint8(domain.RawStatusActive),
		createdAt:  1_700_000_000,
		expiresAt:  1_700_500_000,
		resolvedAt: 1_700_600_000,
		winning:    1,
		collateral: []*big.Int{tokens(1), tokens(1)},
		prices:     []*big.Int{pct(0), pct(100)},
	}
	r := newTestReader(t, f, "")

	raw, err := r.GetExtendedMarket(context.Background(), 3)
	if err != nil {
		t.Fatalf("GetExtendedMarket: %v", err)
	}
	if raw.WinningOutcome != 1 {
		t.Errorf("WinningOutcome = %d, want 1", raw.WinningOutcome)
	}
}

func TestGetMarket_AbsentRecord(t *testing.T) {
	f := newFakeBackend(t)
	r := newTestReader(t, f, "")

	_, err := r.GetMarket(context.Background(), 99)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetMarket_TransportError(t *testing.T) {
	f := newFakeBackend(t)
	f.callErr = errors.New("dial tcp: connection refused")
	r := newTestReader(t, f, "")

	_, err := r.GetMarket(context.Background(), 1)
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want transport error", err)
	}
}

func TestMarketCount(t *testing.T) {
	f := newFakeBackend(t)
	f.count = 37
	r := newTestReader(t, f, "")

	n, err := r.MarketCount(context.Background())
	if err != nil {
		t.Fatalf("MarketCount: %v", err)
	}
	if n != 37 {
		t.Errorf("MarketCount = %d, want 37", n)
	}
}

func TestMetadataURI(t *testing.T) {
	f := newFakeBackend(t)
	f.markets[5] = fakeMarket{uri: "ipfs://bafy/5.json"}

	t.Run("configured", func(t *testing.T) {
		r := newTestReader(t, f, "0x00000000000000000000000000000000000000bb")
		uri, err := r.MetadataURI(context.Background(), 5)
		if err != nil {
			t.Fatalf("MetadataURI: %v", err)
		}
		if uri != "ipfs://bafy/5.json" {
			t.Errorf("uri = %q", uri)
		}
	})

	t.Run("unconfigured", func(t *testing.T) {
		r := newTestReader(t, f, "")
		if _, err := r.MetadataURI(context.Background(), 5); !errors.Is(err, ErrNoMetadataContract) {
			t.Errorf("err = %v, want ErrNoMetadataContract", err)
		}
	})
}

func TestNetworkInfo(t *testing.T) {
	f := newFakeBackend(t)
	r := newTestReader(t, f, "")

	info := r.NetworkInfo(context.Background())
	if info.ChainID != 1337 || info.BlockNumber != 42 {
		t.Errorf("info = %+v", info)
	}
	if info.ABILoaded {
		t.Error("ABILoaded = true, want false for embedded abi")
	}
	if len(info.AvailableMethods) != 4 {
		t.Errorf("AvailableMethods = %v, want 4 methods", info.AvailableMethods)
	}

	f.chainID = nil
	offline := r.NetworkInfo(context.Background())
	if offline.ChainID != 0 {
		t.Errorf("offline ChainID = %d, want 0", offline.ChainID)
	}
}

func TestNewReader_InvalidAddress(t *testing.T) {
	f := newFakeBackend(t)
	if _, err := NewReader(f, Config{MarketContract: "not-an-address"}, discardLogger()); err == nil {
		t.Fatal("expected error for invalid market contract")
	}
}
