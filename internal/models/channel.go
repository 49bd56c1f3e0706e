package models

// Channel is the credential bundle for one external broadcast channel:
// provider channel id, ingest endpoint, stream key and playback URL. A channel
// is bound to at most one stream at a time; reuse paths clear the donor
// stream's copy of these fields before handing them to the new owner.
type Channel struct {
	ID          string `json:"channel_id"`
	StreamKey   string `json:"-"`
	IngestURL   string `json:"ingest_url"`
	PlaybackURL string `json:"playback_url"`
}
