package transcribe

import (
	"encoding/xml"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/stemtranscriber/api/internal/model"
)

const musicXMLDoctype = `<!DOCTYPE score-partwise PUBLIC "-//Recordare//DTD MusicXML 4.0 Partwise//EN" "http://www.musicxml.org/dtds/partwise.dtd">` + "\n"

type scorePartwise struct {
	XMLName  xml.Name `xml:"score-partwise"`
	Version  string   `xml:"version,attr"`
	PartList partList `xml:"part-list"`
	Parts    []part   `xml:"part"`
}

type partList struct {
	ScoreParts []scorePart `xml:"score-part"`
}

type scorePart struct {
	ID              string          `xml:"id,attr"`
	Name            string          `xml:"part-name"`
	ScoreInstrument scoreInstrument `xml:"score-instrument"`
	MIDIInstrument  midiInstrument  `xml:"midi-instrument"`
}

type scoreInstrument struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"instrument-name"`
}

type midiInstrument struct {
	ID      string `xml:"id,attr"`
	Channel int    `xml:"midi-channel"`
	Program int    `xml:"midi-program"`
}

type part struct {
	ID       string    `xml:"id,attr"`
	Measures []measure `xml:"measure"`
}

type measure struct {
	Number     int         `xml:"number,attr"`
	Attributes *attributes `xml:"attributes,omitempty"`
	Direction  *direction  `xml:"direction,omitempty"`
	Notes      []xmlNote   `xml:"note"`
}

type attributes struct {
	Divisions int     `xml:"divisions"`
	Time      timeSig `xml:"time"`
	Clef      clef    `xml:"clef"`
}

type timeSig struct {
	Beats    int `xml:"beats"`
	BeatType int `xml:"beat-type"`
}

type clef struct {
	Sign         string `xml:"sign"`
	Line         int    `xml:"line"`
	OctaveChange int    `xml:"clef-octave-change,omitempty"`
}

type direction struct {
	Placement string        `xml:"placement,attr"`
	Type      directionType `xml:"direction-type"`
	Sound     sound         `xml:"sound"`
}

type directionType struct {
	Metronome metronome `xml:"metronome"`
}

type metronome struct {
	BeatUnit  string `xml:"beat-unit"`
	PerMinute int    `xml:"per-minute"`
}

type sound struct {
	Tempo float64 `xml:"tempo,attr"`
}

type xmlNote struct {
	Rest      *struct{}  `xml:"rest,omitempty"`
	Pitch     *xmlPitch  `xml:"pitch,omitempty"`
	Duration  int        `xml:"duration"`
	Ties      []tie      `xml:"tie"`
	Voice     int        `xml:"voice"`
	Type      string     `xml:"type,omitempty"`
	Dot       *struct{}  `xml:"dot,omitempty"`
	Notations *notations `xml:"notations,omitempty"`
}

type xmlPitch struct {
	Step   string `xml:"step"`
	Alter  int    `xml:"alter,omitempty"`
	Octave int    `xml:"octave"`
}

type tie struct {
	Type string `xml:"type,attr"`
}

type notations struct {
	Tied []tie `xml:"tied"`
}

var (
	pitchSteps  = [12]string{"C", "C", "D", "D", "E", "F", "F", "G", "G", "A", "A", "B"}
	pitchAlters = [12]int{0, 1, 0, 1, 0, 0, 1, 0, 1, 0, 1, 0}
)

// scoreItem is a note (Pitch >= 0) or rest (Pitch < 0) placed in ticks.
type scoreItem struct {
	Pitch    int
	Start    int
	Dur      int
	TieStart bool
	TieStop  bool
}

// WriteMusicXML renders the MIDI file at midiPath as a single-part 4/4
// score. Notes are kept at MIDI tick resolution; gaps become rests and notes
// crossing a barline are split and tied.
func WriteMusicXML(midiPath, xmlPath string, instrument model.Instrument) error {
	score, err := ReadMIDI(midiPath)
	if err != nil {
		return err
	}

	doc := buildScore(score, instrument)
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode musicxml: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(xml.Header)
	sb.WriteString(musicXMLDoctype)
	sb.Write(body)
	sb.WriteString("\n")

	if err := os.WriteFile(xmlPath, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write musicxml: %w", err)
	}
	return nil
}

func buildScore(score *midiScore, instrument model.Instrument) *scorePartwise {
	res := score.Resolution
	if res <= 0 {
		res = midiResolution
	}
	measureLen := 4 * res

	program := score.Program
	if program < 0 {
		program = int(ProgramFor(instrument))
	}
	name := "Bass"
	c := clef{Sign: "F", Line: 4}
	if instrument == model.InstrumentGuitar {
		name = "Guitar"
		c = clef{Sign: "G", Line: 2, OctaveChange: -1}
	}

	items := layoutItems(score.Notes, measureLen)

	count := 1
	if len(items) > 0 {
		last := items[len(items)-1]
		count = (last.Start + last.Dur + measureLen - 1) / measureLen
	}
	measures := make([]measure, count)
	for i := range measures {
		measures[i].Number = i + 1
	}
	measures[0].Attributes = &attributes{
		Divisions: res,
		Time:      timeSig{Beats: 4, BeatType: 4},
		Clef:      c,
	}
	measures[0].Direction = &direction{
		Placement: "above",
		Type:      directionType{Metronome: metronome{BeatUnit: "quarter", PerMinute: int(math.Round(score.BPM))}},
		Sound:     sound{Tempo: score.BPM},
	}

	for _, it := range items {
		idx := it.Start / measureLen
		measures[idx].Notes = append(measures[idx].Notes, toXMLNote(it, res))
	}
	for i := range measures {
		if len(measures[i].Notes) == 0 {
			measures[i].Notes = []xmlNote{toXMLNote(scoreItem{Pitch: -1, Dur: measureLen}, res)}
		}
	}

	return &scorePartwise{
		Version: "4.0",
		PartList: partList{ScoreParts: []scorePart{{
			ID:              "P1",
			Name:            name,
			ScoreInstrument: scoreInstrument{ID: "P1-I1", Name: name},
			MIDIInstrument:  midiInstrument{ID: "P1-I1", Channel: midiChannel + 1, Program: program + 1},
		}}},
		Parts: []part{{ID: "P1", Measures: measures}},
	}
}

// layoutItems fills gaps with rests, pads the last measure and splits
// anything that crosses a barline.
func layoutItems(notes []tickNote, measureLen int) []scoreItem {
	var flat []scoreItem
	cursor := 0
	for _, n := range notes {
		start := n.Start
		if start < cursor {
			start = cursor
		}
		if n.End <= start {
			continue
		}
		if start > cursor {
			flat = append(flat, scoreItem{Pitch: -1, Start: cursor, Dur: start - cursor})
		}
		flat = append(flat, scoreItem{Pitch: n.Pitch, Start: start, Dur: n.End - start})
		cursor = n.End
	}
	if rem := cursor % measureLen; rem != 0 {
		flat = append(flat, scoreItem{Pitch: -1, Start: cursor, Dur: measureLen - rem})
	}

	var out []scoreItem
	for _, it := range flat {
		for {
			boundary := (it.Start/measureLen + 1) * measureLen
			if it.Start+it.Dur <= boundary {
				out = append(out, it)
				break
			}
			head := it
			head.Dur = boundary - it.Start
			tail := it
			tail.Start = boundary
			tail.Dur = it.Dur - head.Dur
			if it.Pitch >= 0 {
				head.TieStart = true
				tail.TieStop = true
			}
			out = append(out, head)
			it = tail
		}
	}
	return out
}

func toXMLNote(it scoreItem, res int) xmlNote {
	n := xmlNote{Duration: it.Dur, Voice: 1}
	if it.Pitch < 0 {
		n.Rest = &struct{}{}
	} else {
		n.Pitch = &xmlPitch{
			Step:   pitchSteps[it.Pitch%12],
			Alter:  pitchAlters[it.Pitch%12],
			Octave: it.Pitch/12 - 1,
		}
	}

	if t, dotted, ok := noteType(it.Dur, res); ok {
		n.Type = t
		if dotted {
			n.Dot = &struct{}{}
		}
	}

	var tied []tie
	if it.TieStop {
		n.Ties = append(n.Ties, tie{Type: "stop"})
		tied = append(tied, tie{Type: "stop"})
	}
	if it.TieStart {
		n.Ties = append(n.Ties, tie{Type: "start"})
		tied = append(tied, tie{Type: "start"})
	}
	if len(tied) > 0 {
		n.Notations = &notations{Tied: tied}
	}
	return n
}

var noteTypes = []struct {
	name  string
	num   int
	denom int
}{
	{"whole", 4, 1},
	{"half", 2, 1},
	{"quarter", 1, 1},
	{"eighth", 1, 2},
	{"16th", 1, 4},
	{"32nd", 1, 8},
	{"64th", 1, 16},
}

// noteType names a duration when it is a plain or dotted standard value.
func noteType(dur, res int) (string, bool, bool) {
	for _, nt := range noteTypes {
		if (res*nt.num)%nt.denom != 0 {
			continue
		}
		base := res * nt.num / nt.denom
		if dur == base {
			return nt.name, false, true
		}
		if base%2 == 0 && dur == base+base/2 {
			return nt.name, true, true
		}
	}
	return "", false, false
}
