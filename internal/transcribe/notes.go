package transcribe

import (
	"math"
	"sort"

	"github.com/stemtranscriber/api/internal/model"
)

// Unvoiced marks a frame with no pitch.
const Unvoiced = -1

// HzToMIDI returns the nearest MIDI note number for a frequency.
func HzToMIDI(hz float64) int {
	return int(math.Round(69 + 12*math.Log2(hz/440)))
}

// FramesToMIDI converts pitch frames to note numbers. Frames that are
// unvoiced or below minConfidence become Unvoiced.
func FramesToMIDI(frames []Frame, minConfidence float64) []int {
	notes := make([]int, len(frames))
	for i, f := range frames {
		if !f.Voiced || f.Hz <= 0 || f.Confidence < minConfidence {
			notes[i] = Unvoiced
			continue
		}
		notes[i] = HzToMIDI(f.Hz)
	}
	return notes
}

// Smooth removes single-frame jitter in place. Each interior frame becomes
// the median of the voiced values in its 5-frame window when at least three
// of them are voiced. Frames are processed left to right, so a frame sees
// the already smoothed values before it.
func Smooth(notes []int) {
	vals := make([]int, 0, 5)
	for i := 2; i < len(notes)-2; i++ {
		vals = vals[:0]
		for _, v := range notes[i-2 : i+3] {
			if v >= 0 {
				vals = append(vals, v)
			}
		}
		if len(vals) >= 3 {
			notes[i] = median(vals)
		}
	}
}

// median truncates toward zero when the middle pair has to be averaged.
func median(vals []int) int {
	sort.Ints(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return int(float64(vals[mid-1]+vals[mid]) / 2)
}

// Segment groups runs of identical voiced frames into notes. A run starting
// at frame i and ending at frame j spans [i*hop, (j+1)*hop). Notes shorter
// than minDur seconds are dropped.
func Segment(notes []int, hop, minDur float64) []model.Note {
	var out []model.Note
	for i := 0; i < len(notes); {
		if notes[i] < 0 {
			i++
			continue
		}
		pitch := notes[i]
		j := i + 1
		for j < len(notes) && notes[j] == pitch {
			j++
		}
		n := model.Note{Pitch: pitch, Start: float64(i) * hop, End: float64(j) * hop}
		if n.Duration() >= minDur {
			out = append(out, n)
		}
		i = j
	}
	return out
}

// Shift moves every note by offset seconds.
func Shift(notes []model.Note, offset float64) {
	for i := range notes {
		notes[i].Start += offset
		notes[i].End += offset
	}
}
