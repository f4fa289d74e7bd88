package model

// TranscribeRequest represents the request to transcribe one stem
type TranscribeRequest struct {
	StemName   string     `json:"stemName" validate:"required,oneof=bass.wav drums.wav other.wav vocals.wav"`
	Instrument Instrument `json:"instrument" validate:"required,oneof=bass guitar"`
}

// Note is one detected monophonic note. Times are in seconds.
type Note struct {
	Pitch int     `json:"pitch"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the note length in seconds.
func (n Note) Duration() float64 {
	return n.End - n.Start
}
