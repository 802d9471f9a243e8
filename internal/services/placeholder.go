package services

import (
	"math/rand"
	"strings"
	"time"

	"github.com/milopalmaerts/Crypto/internal/models"
)

// Synthetic market data served while the upstream is throttling us. Every
// value carries Placeholder so clients can tell it apart from real quotes.

func placeholderCoins() []models.Coin {
	return []models.Coin{
		{
			ID: "bitcoin", Name: "Bitcoin", Symbol: "BTC",
			CurrentPrice: 110000, MarketCap: 2100000000000, PriceChangePercentage24h: 2.5,
			Image: "https://assets.coingecko.com/coins/images/1/large/bitcoin.png", Placeholder: true,
		},
		{
			ID: "ethereum", Name: "Ethereum", Symbol: "ETH",
			CurrentPrice: 4000, MarketCap: 480000000000, PriceChangePercentage24h: 1.8,
			Image: "https://assets.coingecko.com/coins/images/279/large/ethereum.png", Placeholder: true,
		},
		{
			ID: "cardano", Name: "Cardano", Symbol: "ADA",
			CurrentPrice: 2.5, MarketCap: 80000000000, PriceChangePercentage24h: -0.5,
			Image: "https://assets.coingecko.com/coins/images/975/large/cardano.png", Placeholder: true,
		},
		{
			ID: "solana", Name: "Solana", Symbol: "SOL",
			CurrentPrice: 200, MarketCap: 90000000000, PriceChangePercentage24h: 3.2,
			Image: "https://assets.coingecko.com/coins/images/4128/large/solana.png", Placeholder: true,
		},
	}
}

func placeholderBasePrice(id string) float64 {
	switch id {
	case "bitcoin":
		return 110000
	case "ethereum":
		return 4000
	default:
		return 2000
	}
}

func placeholderCoinDetail(id string) *models.CoinDetail {
	name := strings.ToUpper(id[:1]) + id[1:]
	price := placeholderBasePrice(id)
	return &models.CoinDetail{
		ID:     id,
		Symbol: strings.ToUpper(id),
		Name:   name,
		MarketData: models.CoinMarketData{
			CurrentPrice:  map[string]float64{"usd": price},
			MarketCap:     map[string]float64{"usd": 2000000000000},
			MarketCapRank: 1,
		},
		Description: map[string]string{"en": name + " is a cryptocurrency."},
		Image:       models.CoinImage{Large: "https://assets.coingecko.com/coins/images/1/" + id + ".png"},
		Placeholder: true,
	}
}

// placeholderPoints is the number of samples per window
func placeholderPoints(window string) (int, time.Duration) {
	switch window {
	case "1":
		return 24, time.Hour
	case "7":
		return 7, 24 * time.Hour
	case "30":
		return 30, 24 * time.Hour
	case "365":
		return 365, 24 * time.Hour
	default:
		return 30, 24 * time.Hour
	}
}

// placeholderChart walks ±10% around the coin's base price, ending at now
func placeholderChart(id, window string, now time.Time) *models.Chart {
	count, step := placeholderPoints(window)
	base := placeholderBasePrice(id)

	points := make([]models.ChartPoint, count)
	for i := 0; i < count; i++ {
		at := now.Add(-time.Duration(count-1-i) * step).UTC()
		points[i] = models.ChartPoint{
			Timestamp: at.UnixMilli(),
			Price:     base * (0.9 + rand.Float64()*0.2),
			Date:      at.Format("1/2/2006"),
		}
	}
	return &models.Chart{Data: points, Period: window, Placeholder: true}
}
