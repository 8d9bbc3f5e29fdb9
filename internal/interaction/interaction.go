// Package interaction defines the contract core packages use to ask the
// caller (CLI or TUI) for a decision, without ever prompting directly.
package interaction

// Kind identifies the shape of prompt a Request represents.
type Kind string

const (
	KindConfirm Kind = "confirm"
	KindSelect  Kind = "select"
	KindInput   Kind = "input"
)

// Request is returned by core operations that need caller input instead of
// reading a terminal themselves. The caller renders it (TUI, CLI flag
// default, or a non-interactive failure) and, if execution should continue,
// resumes the operation with the chosen value.
type Request struct {
	Kind    Kind
	ID      string
	Label   string
	Options []string
	Default string
}

// Response is what the caller supplies back after rendering a Request.
type Response struct {
	ID      string
	Value   string
	Confirm bool
}
