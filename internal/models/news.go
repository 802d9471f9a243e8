package models

// NewsItem is one headline of the curated feed
type NewsItem struct {
	Title     string `json:"title"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}
