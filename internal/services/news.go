package services

import (
	"context"

	"github.com/milopalmaerts/Crypto/internal/models"
)

var curatedNews = []models.NewsItem{
	{Title: "Bitcoin hits new high", Timestamp: "2025-09-08", Source: "MockCryptoNews"},
	{Title: "Ethereum upgrade delayed", Timestamp: "2025-09-07", Source: "MockCryptoNews"},
	{Title: "Altcoins rally 15%", Timestamp: "2025-09-06", Source: "MockCryptoNews"},
}

// NewsService serves a static curated feed
type NewsService struct {
	items []models.NewsItem
}

// NewNewsService creates a feed of items, or the curated list when none are given
func NewNewsService(items ...models.NewsItem) *NewsService {
	if len(items) == 0 {
		items = curatedNews
	}
	return &NewsService{items: items}
}

// Latest returns a copy of the feed, newest first
func (ns *NewsService) Latest(context.Context) []models.NewsItem {
	out := make([]models.NewsItem, len(ns.items))
	copy(out, ns.items)
	return out
}
