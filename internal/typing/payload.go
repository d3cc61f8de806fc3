package typing

// FinishPayload is the client-reported result of an attempt, submitted with
// finishSession. The reported metrics are pointers so the evaluator can tell
// "absent" apart from zero; absent or NaN values fail the authoritative
// comparison. Unknown payload fields are ignored at the transport edge.
type FinishPayload struct {
	CPM      *float64 `json:"cpm"`
	WPM      *float64 `json:"wpm"`
	Accuracy *float64 `json:"accuracy"`
	Score    *float64 `json:"score"`
	Errors   *int64   `json:"errors,omitempty"`

	Keylog []KeyEvent `json:"keylog,omitempty"`

	ClientFlags ClientFlags `json:"clientFlags,omitempty"`
}

// KeyEvent is one keystroke in a submitted keylog. T is milliseconds from
// the client's clock origin; K is the key value; OK is the client's own
// match judgement and defaults to "K is a single code point" when absent.
type KeyEvent struct {
	T  float64 `json:"t"`
	K  string  `json:"k"`
	OK *bool   `json:"ok,omitempty"`
}

// ClientFlags carry client-side anti-cheat telemetry. They are copied
// through for operators and never trusted by the evaluator.
type ClientFlags struct {
	Defocus      int      `json:"defocus,omitempty"`
	PasteBlocked bool     `json:"pasteBlocked,omitempty"`
	AnomalyScore *float64 `json:"anomalyScore,omitempty"`
}
