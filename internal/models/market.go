package models

// Coin is one entry of the top-by-market-cap listing
type Coin struct {
	ID                       string  `json:"id"`
	Name                     string  `json:"name"`
	Symbol                   string  `json:"symbol"`
	CurrentPrice             float64 `json:"current_price"`
	MarketCap                float64 `json:"market_cap"`
	PriceChangePercentage24h float64 `json:"price_change_percentage_24h"`
	Image                    string  `json:"image"`
	Placeholder              bool    `json:"placeholder,omitempty"`
}

// CoinMarketData holds the quote block of a coin detail
type CoinMarketData struct {
	CurrentPrice             map[string]float64 `json:"current_price"`
	MarketCap                map[string]float64 `json:"market_cap"`
	MarketCapRank            int                `json:"market_cap_rank"`
	TotalVolume              map[string]float64 `json:"total_volume,omitempty"`
	High24h                  map[string]float64 `json:"high_24h,omitempty"`
	Low24h                   map[string]float64 `json:"low_24h,omitempty"`
	PriceChangePercentage24h float64            `json:"price_change_percentage_24h"`
	CirculatingSupply        float64            `json:"circulating_supply,omitempty"`
}

// CoinImage holds logo URLs
type CoinImage struct {
	Thumb string `json:"thumb,omitempty"`
	Small string `json:"small,omitempty"`
	Large string `json:"large,omitempty"`
}

// CoinDetail is the single-coin lookup response
type CoinDetail struct {
	ID          string            `json:"id"`
	Symbol      string            `json:"symbol"`
	Name        string            `json:"name"`
	MarketData  CoinMarketData    `json:"market_data"`
	Description map[string]string `json:"description,omitempty"`
	Image       CoinImage         `json:"image"`
	Placeholder bool              `json:"placeholder,omitempty"`
}

// ChartPoint is one timestamp/price pair of a price series
type ChartPoint struct {
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
	Date      string  `json:"date"`
}

// Chart is a price series for a coin over a window
type Chart struct {
	Data        []ChartPoint `json:"data"`
	Period      string       `json:"period"`
	Placeholder bool         `json:"placeholder,omitempty"`
}
