package notify

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/alanyoungcy/wagerpool/internal/domain"
)

var weiPerEther = new(big.Float).SetInt(big.NewInt(1_000_000_000_000_000_000))

// formatEther renders a wei amount with up to six decimals.
func formatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEther)
	s := f.Text('f', 6)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// FormatPoolEvent builds the alert title and body for ev.
func FormatPoolEvent(ev domain.PoolEvent, snap domain.PoolSnapshot) (string, string) {
	match := snap.Params.MatchID
	var b strings.Builder
	fmt.Fprintf(&b, "pool %s\n", ev.Pool.Hex())

	switch ev.Type {
	case domain.EventPoolEnded:
		fmt.Fprintf(&b, "winner: %s\n", snap.Winner)
		fmt.Fprintf(&b, "staked: home %s / away %s / draw %s ETH\n",
			formatEther(snap.HomeTotal), formatEther(snap.AwayTotal), formatEther(snap.DrawTotal))
		fmt.Fprintf(&b, "fee: %s ETH", formatEther(snap.FeeCollected))
		return fmt.Sprintf("Match %s resolved", match), b.String()
	case domain.EventPoolCancelled:
		fmt.Fprintf(&b, "refunding %s ETH to %d stake(s)\n", formatEther(snap.Total()), len(snap.Stakes))
		fmt.Fprintf(&b, "upkeep cycles: %d", snap.PerformUpkeepCount)
		return fmt.Sprintf("Match %s cancelled", match), b.String()
	case domain.EventOracleRequested:
		fmt.Fprintf(&b, "request: %s\ncycle: %d", ev.RequestID.Hex(), ev.Cycle)
		return fmt.Sprintf("Match %s result requested", match), b.String()
	default:
		fmt.Fprintf(&b, "state: %s", ev.State)
		if ev.Amount != nil {
			fmt.Fprintf(&b, "\namount: %s ETH", formatEther(ev.Amount))
		}
		return fmt.Sprintf("Match %s: %s", match, ev.Type), b.String()
	}
}
