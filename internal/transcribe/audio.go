package transcribe

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/wav"
)

// wavFormatFloat is the WAVE_FORMAT_IEEE_FLOAT tag, which go-audio decodes as
// integer PCM.
const wavFormatFloat = 3

// LoadWAV decodes a PCM WAV file into mono samples in [-1, 1].
func LoadWAV(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open audio: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		if err := d.Err(); err != nil {
			return nil, 0, fmt.Errorf("invalid wav file: %w", err)
		}
		return nil, 0, errors.New("invalid wav file")
	}
	if d.WavAudioFormat == wavFormatFloat {
		return nil, 0, errors.New("unsupported wav encoding: IEEE float")
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode audio: %w", err)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	scale := math.Pow(2, float64(buf.SourceBitDepth-1))
	offset := 0.0
	if buf.SourceBitDepth == 8 {
		// 8-bit PCM is unsigned
		offset = 128
	}

	frames := len(buf.Data) / channels
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		sum := 0.0
		for c := 0; c < channels; c++ {
			sum += (float64(buf.Data[i*channels+c]) - offset) / scale
		}
		mono[i] = sum / float64(channels)
	}
	return mono, buf.Format.SampleRate, nil
}

// Resample converts samples between rates by linear interpolation.
func Resample(samples []float64, from, to int) []float64 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}

	n := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	out := make([]float64, n)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = samples[j]*(1-frac) + samples[j+1]*frac
	}
	return out
}

// Trim removes leading and trailing audio quieter than topDB below the
// loudest frame, measured as centered RMS frames. It returns the kept
// samples and the index of the first kept sample.
func Trim(samples []float64, topDB float64, frameLength, hop int) ([]float64, int) {
	if len(samples) == 0 || frameLength <= 0 || hop <= 0 {
		return samples, 0
	}

	numFrames := 1 + len(samples)/hop
	rms := make([]float64, numFrames)
	maxRMS := 0.0
	half := frameLength / 2
	for i := 0; i < numFrames; i++ {
		center := i * hop
		sum := 0.0
		for j := center - half; j < center+half; j++ {
			if j >= 0 && j < len(samples) {
				sum += samples[j] * samples[j]
			}
		}
		rms[i] = math.Sqrt(sum / float64(frameLength))
		if rms[i] > maxRMS {
			maxRMS = rms[i]
		}
	}
	if maxRMS == 0 {
		return samples[:0], 0
	}

	threshold := maxRMS * math.Pow(10, -topDB/20)
	first, last := -1, -1
	for i, v := range rms {
		if v > threshold {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return samples[:0], 0
	}

	start := first * hop
	end := (last + 1) * hop
	if end > len(samples) {
		end = len(samples)
	}
	if start > end {
		start = end
	}
	return samples[start:end], start
}
