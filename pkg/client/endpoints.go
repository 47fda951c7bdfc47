package client

// BaseURL is the production query host all relative endpoints resolve
// against.
const BaseURL = "https://query1.finance.yahoo.com"

// ChartPath returns the chart endpoint path for a symbol.
func ChartPath(symbol string) string {
	return "/v8/finance/chart/" + symbol
}

// QuoteSummaryPath returns the quote summary endpoint path for a symbol.
func QuoteSummaryPath(symbol string) string {
	return "/v10/finance/quoteSummary/" + symbol
}

// SearchPath is the symbol search endpoint.
const SearchPath = "/v1/finance/search"

// ChartParams builds the standard query parameters for a chart request:
// bar interval, lookback range, and the dividend/split event streams the
// repair engine needs.
func ChartParams(interval, rng string) map[string]string {
	return map[string]string{
		"interval": interval,
		"range":    rng,
		"events":   "div,split",
	}
}
