package transcribe

import (
	"fmt"
	"math"
	"sort"

	"github.com/stemtranscriber/api/internal/model"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const (
	midiResolution = 480
	midiTempoBPM   = 120.0
	midiChannel    = 0

	// General MIDI programs, zero based
	programElectricBassFinger  = 33
	programElectricGuitarClean = 27
)

// ProgramFor returns the General MIDI program used for an instrument.
func ProgramFor(instrument model.Instrument) uint8 {
	if instrument == model.InstrumentGuitar {
		return programElectricGuitarClean
	}
	return programElectricBassFinger
}

type timedMessage struct {
	tick uint32
	off  bool
	msg  midi.Message
}

func secondsToTicks(sec float64) uint32 {
	if sec <= 0 {
		return 0
	}
	return uint32(math.Round(sec * midiTempoBPM / 60 * midiResolution))
}

// WriteMIDI writes notes as a single-track SMF at 120 BPM.
func WriteMIDI(path string, notes []model.Note, instrument model.Instrument, velocity uint8) error {
	var events []timedMessage
	for _, n := range notes {
		start := secondsToTicks(n.Start)
		end := secondsToTicks(n.End)
		if end <= start {
			end = start + 1
		}
		key := uint8(n.Pitch)
		events = append(events,
			timedMessage{tick: start, msg: midi.NoteOn(midiChannel, key, velocity)},
			timedMessage{tick: end, off: true, msg: midi.NoteOff(midiChannel, key)},
		)
	}
	// note-offs go first so back to back notes do not overlap
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].tick != events[j].tick {
			return events[i].tick < events[j].tick
		}
		return events[i].off && !events[j].off
	})

	var tr smf.Track
	tr.Add(0, smf.MetaTrackSequenceName(string(instrument)))
	tr.Add(0, smf.MetaTempo(midiTempoBPM))
	tr.Add(0, smf.MetaMeter(4, 4))
	tr.Add(0, midi.ProgramChange(midiChannel, ProgramFor(instrument)))

	var last uint32
	for _, ev := range events {
		tr.Add(ev.tick-last, ev.msg)
		last = ev.tick
	}
	tr.Close(0)

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(midiResolution)
	if err := s.Add(tr); err != nil {
		return fmt.Errorf("failed to add midi track: %w", err)
	}
	if err := s.WriteFile(path); err != nil {
		return fmt.Errorf("failed to write midi: %w", err)
	}
	return nil
}

// tickNote is a note measured in MIDI ticks.
type tickNote struct {
	Pitch int
	Start int
	End   int
}

// midiScore is what the notation step needs from a MIDI file.
type midiScore struct {
	Resolution int
	BPM        float64
	Program    int
	Notes      []tickNote
}

// ReadMIDI loads the notes of every track of an SMF file, merged and sorted
// by start time.
func ReadMIDI(path string) (*midiScore, error) {
	s, err := smf.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read midi: %w", err)
	}

	mt, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, fmt.Errorf("unsupported midi time format %v", s.TimeFormat)
	}
	score := &midiScore{Resolution: int(mt), BPM: midiTempoBPM, Program: -1}

	for _, tr := range s.Tracks {
		open := map[uint8]int{}
		abs := 0
		for _, ev := range tr {
			abs += int(ev.Delta)
			msg := midi.Message(ev.Message)

			var bpm float64
			var ch, key, vel, prog uint8
			switch {
			case ev.Message.GetMetaTempo(&bpm):
				score.BPM = bpm
			case msg.GetProgramChange(&ch, &prog):
				if score.Program < 0 {
					score.Program = int(prog)
				}
			case msg.GetNoteStart(&ch, &key, &vel):
				open[key] = abs
			case msg.GetNoteEnd(&ch, &key):
				start, ok := open[key]
				if !ok {
					continue
				}
				delete(open, key)
				score.Notes = append(score.Notes, tickNote{Pitch: int(key), Start: start, End: abs})
			}
		}
	}

	sort.SliceStable(score.Notes, func(i, j int) bool {
		return score.Notes[i].Start < score.Notes[j].Start
	})
	return score, nil
}
