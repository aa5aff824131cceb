package chain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/predictfi/settlebot/internal/domain"
)

// predictionMarketABI covers the slice of the settlement contract this
// service touches: market reads plus the two terminal settlement entrypoints.
const predictionMarketABI = `[
  {
    "type": "function",
    "name": "getMarketCount",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "getMarket",
    "stateMutability": "view",
    "inputs": [{"name": "marketId", "type": "uint256"}],
    "outputs": [
      {"name": "id", "type": "uint256"},
      {"name": "title", "type": "string"},
      {"name": "criteria", "type": "string"},
      {"name": "category", "type": "uint8"},
      {"name": "status", "type": "uint8"},
      {"name": "outcome", "type": "uint8"},
      {"name": "yesShares", "type": "uint256"},
      {"name": "noShares", "type": "uint256"},
      {"name": "endDate", "type": "uint256"},
      {"name": "settledAt", "type": "uint256"}
    ]
  },
  {
    "type": "function",
    "name": "settleMarket",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "marketId", "type": "uint256"},
      {"name": "outcome", "type": "uint8"},
      {"name": "confidence", "type": "uint256"},
      {"name": "eventUri", "type": "string"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "settleMarketManually",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "marketId", "type": "uint256"},
      {"name": "outcome", "type": "uint8"}
    ],
    "outputs": []
  }
]`

// marketTuple mirrors the getMarket return layout for ABI unpacking.
type marketTuple struct {
	Id        *big.Int
	Title     string
	Criteria  string
	Category  uint8
	Status    uint8
	Outcome   uint8
	YesShares *big.Int
	NoShares  *big.Int
	EndDate   *big.Int
	SettledAt *big.Int
}

func parseContractABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(predictionMarketABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("chain: parse contract ABI: %w", err)
	}
	return parsed, nil
}

// toDomainMarket converts an unpacked contract tuple into the domain model.
// Share totals are summed into Volume; zero timestamps stay zero times.
func (m marketTuple) toDomainMarket() domain.Market {
	out := domain.Market{
		ID:       m.Id.Uint64(),
		Title:    m.Title,
		Criteria: m.Criteria,
		Category: m.Category,
		Status:   domain.MarketStatus(m.Status),
		Outcome:  domain.SettlementOutcome(m.Outcome),
		Volume:   new(big.Int).Add(m.YesShares, m.NoShares).Uint64(),
	}
	if m.EndDate.Sign() > 0 {
		out.EndDate = time.Unix(m.EndDate.Int64(), 0).UTC()
	}
	if m.SettledAt.Sign() > 0 {
		out.SettledAt = time.Unix(m.SettledAt.Int64(), 0).UTC()
	}
	return out
}
