package exchange

// estimateBookSlippage walks a book side from the best price, accumulating
// levels until the USDC notional is filled, and returns the expected
// deviation of the average fill price from the best price as a fraction.
// Returns 1.0 when the side is empty or cannot absorb the notional.
func estimateBookSlippage(book *OrderBook, side string, amount float64) float64 {
	levels := book.Asks
	if side == "SELL" {
		levels = book.Bids
	}
	if len(levels) == 0 || amount <= 0 {
		return 1.0
	}

	best := levels[0].Price
	if best <= 0 {
		return 1.0
	}

	remaining := amount
	var totalShares, totalCost float64

	for _, l := range levels {
		levelNotional := l.Price * l.Size
		take := levelNotional
		if take > remaining {
			take = remaining
		}
		shares := take / l.Price
		totalShares += shares
		totalCost += take
		remaining -= take
		if remaining <= 1e-9 {
			break
		}
	}

	if remaining > 1e-9 {
		// Book too thin for the requested notional.
		return 1.0
	}

	avgPrice := totalCost / totalShares
	slippage := (avgPrice - best) / best
	if side == "SELL" {
		slippage = (best - avgPrice) / best
	}
	if slippage < 0 {
		slippage = 0
	}
	return slippage
}
