package model

// Job states
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"

	// JobStateNotFound is reported for ids the store has never seen. It is
	// never persisted.
	JobStateNotFound JobState = "not_found"
)

// Terminal reports whether no further transition is allowed out of s.
func (s JobState) Terminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed
}

// Job kinds
type JobKind string

const (
	JobKindSeparation    JobKind = "separation"
	JobKindTranscription JobKind = "transcription"
)

// Instruments that can be transcribed
type Instrument string

const (
	InstrumentBass   Instrument = "bass"
	InstrumentGuitar Instrument = "guitar"
)

var ValidInstruments = []Instrument{InstrumentBass, InstrumentGuitar}

// Canonical stem file names produced by separation
const (
	StemBass   = "bass.wav"
	StemDrums  = "drums.wav"
	StemOther  = "other.wav"
	StemVocals = "vocals.wav"
)

// CanonicalStems lists the stem names in the order they are collected.
var CanonicalStems = []string{StemBass, StemDrums, StemOther, StemVocals}

// IsCanonicalStem reports whether name is one of the four separation outputs.
func IsCanonicalStem(name string) bool {
	for _, s := range CanonicalStems {
		if s == name {
			return true
		}
	}
	return false
}
