// SPDX-License-Identifier: MIT

package metadata

// SeriesInfo is the subset of the collaborator's series payload this
// service consumes: display fields for the continue-watching join plus the
// episode list for navigation.
type SeriesInfo struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Image         string    `json:"image"`
	Description   string    `json:"description,omitempty"`
	TotalEpisodes int       `json:"totalEpisodes"`
	Episodes      []Episode `json:"episodes"`
}

// Episode is one entry of a series' episode list.
type Episode struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	Title  string `json:"title,omitempty"`
}

// EpisodeSource is one playable rendition of an episode.
type EpisodeSource struct {
	URL     string `json:"url"`
	Quality string `json:"quality"`
	IsM3U8  bool   `json:"isM3U8"`
}

// SourceResponse is the collaborator's answer for an episode's source list.
// Only Sources is consumed by playback; Download and Headers pass through
// to clients untouched.
type SourceResponse struct {
	Headers  map[string]string `json:"headers,omitempty"`
	Sources  []EpisodeSource   `json:"sources"`
	Download string            `json:"download,omitempty"`
}
