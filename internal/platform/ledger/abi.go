package ledger

import (
	"bytes"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed default_abi.json
var defaultABIJSON []byte

const (
	methodMarketCount    = "getMarketCount"
	methodMarket         = "getMarket"
	methodExtendedMarket = "getExtendedMarket"
	methodTokenURI       = "tokenURI"
)

// LoadABI parses the contract ABI at path. When the file is missing, unreadable,
// or lacks the market read methods, it logs a warning and falls back to the
// embedded default ABI; fromDisk reports which one was used.
func LoadABI(path string, logger *slog.Logger) (parsed abi.ABI, fromDisk bool, err error) {
	if path != "" {
		onDisk, fileErr := parseABIFile(path)
		if fileErr == nil {
			logger.Info("loaded contract abi",
				slog.String("path", path),
				slog.Int("methods", len(onDisk.Methods)),
			)
			return onDisk, true, nil
		}
		logger.Warn("contract abi unavailable, using embedded default",
			slog.String("path", path),
			slog.String("error", fileErr.Error()),
		)
	}

	parsed, err = abi.JSON(bytes.NewReader(defaultABIJSON))
	if err != nil {
		return abi.ABI{}, false, fmt.Errorf("ledger: parse embedded abi: %w", err)
	}
	return parsed, false, nil
}

func parseABIFile(path string) (abi.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, err
	}
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, err
	}
	if _, ok := parsed.Methods[methodExtendedMarket]; !ok {
		return abi.ABI{}, fmt.Errorf("abi has no %s method", methodExtendedMarket)
	}
	return parsed, nil
}

// methodNames returns the sorted function names exposed by a.
func methodNames(a abi.ABI) []string {
	names := make([]string, 0, len(a.Methods))
	for name := range a.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
