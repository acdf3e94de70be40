package model

import "time"

// Feed はRSS/Atomフィードのソース定義を表す。フィードURLで一意。
type Feed struct {
	ID                  int64
	Name                string
	URL                 string
	Category            string
	Language            string
	IsActive            bool
	FetchErrors         int
	LastError           string
	LastFetched         *time.Time
	LastSuccessfulFetch *time.Time
	TotalArticles       int
}
