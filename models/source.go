package models

import "time"

// Fetch modes select the transport a source's pages are loaded with.
const (
	FetchModeHTTP    = "http"
	FetchModeBrowser = "browser"
)

// Source is a harvest target. Kind selects the adapter implementation and
// Options carries that adapter's configuration.
type Source struct {
	ID        int64     `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	BaseURL   string    `db:"base_url" json:"baseUrl"`
	Kind      string    `db:"kind" json:"kind"`
	FetchMode string    `db:"fetch_mode" json:"fetchMode"`
	Options   JSONMap   `db:"options" json:"options"`
	Active    bool      `db:"is_active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
