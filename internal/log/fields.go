// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldSessionID = "session_id"
	FieldSeriesID  = "series_id"
	FieldEpisodeID = "episode_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Media / relay fields
	FieldTarget   = "target"
	FieldType     = "type"
	FieldUpstream = "upstream"
	FieldQuality  = "quality"
)
