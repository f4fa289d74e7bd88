package progress

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stemtranscriber/api/internal/model"
)

func TestParsePercent(t *testing.T) {
	tests := []struct {
		line string
		want int
		ok   bool
	}{
		{" 42%|████      | 42/100 [00:10<00:14]", 42, true},
		{"100%|██████████|", 100, true},
		{"7%", 7, true},
		{"999%|", 100, true},
		{"  3/4 segments", 75, true},
		{"1.5/3 seconds", 50, true},
		{"2/3", 67, true},
		{"5/0", 0, false},
		{"progress 12/10", 100, true},
		{"Selected model is a bag of 1 models.", 0, false},
		{"", 0, false},
		{"loss 42% done", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParsePercent(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParsePercent(%q) = %d, %v; want %d, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestScale_StaysInRange(t *testing.T) {
	for den := 1; den <= 40; den++ {
		for num := 0; num <= den*2; num++ {
			pct, ok := ParsePercent(fmt.Sprintf("%sx %d/%d", strings.Repeat(" ", num%3), num, den))
			if !ok {
				t.Fatalf("expected %d/%d to parse", num, den)
			}
			got := Scale(pct, 5, 85)
			if got < 5 || got > 85 {
				t.Fatalf("%d/%d scaled to %d, outside [5,85]", num, den, got)
			}
		}
	}
	if Scale(0, 5, 85) != 5 || Scale(100, 5, 85) != 85 || Scale(50, 5, 85) != 45 {
		t.Error("unexpected scale endpoints")
	}
}

type recorder struct {
	updates []model.JobUpdate
}

func (r *recorder) Update(_ context.Context, _ string, u model.JobUpdate) error {
	r.updates = append(r.updates, u)
	return nil
}

func TestTranslator_Deduplicates(t *testing.T) {
	r := &recorder{}
	tr := NewTranslator(r, "job-1", 5, 85, "Separating")
	ctx := context.Background()

	lines := []string{"0%|", "0%|", "1%|", "1%|", "noise", "50%|", "50%|", "100%|"}
	for _, l := range lines {
		tr.Feed(ctx, l)
	}

	// 0% -> 5, 1% -> 6 (5 + round(0.8)), 50% -> 45, 100% -> 85
	want := []int{5, 6, 45, 85}
	if len(r.updates) != len(want) {
		t.Fatalf("expected %d updates, got %d", len(want), len(r.updates))
	}
	for i, u := range r.updates {
		if *u.Progress != want[i] {
			t.Errorf("update %d: expected %d, got %d", i, want[i], *u.Progress)
		}
		if i > 0 && *u.Progress == *r.updates[i-1].Progress {
			t.Errorf("consecutive duplicate emission at %d", i)
		}
		if *u.State != model.JobStateRunning {
			t.Errorf("expected running state, got %s", *u.State)
		}
	}
	if *r.updates[2].Message != "Separating... 50%" {
		t.Errorf("unexpected message %q", *r.updates[2].Message)
	}
}

func TestScanLines(t *testing.T) {
	input := "start\n 10%|#\r 20%|##\r 30%|###\r\ndone"
	sc := bufio.NewScanner(strings.NewReader(input))
	sc.Split(ScanLines)

	var got []string
	for sc.Scan() {
		got = append(got, sc.Text())
	}
	want := []string{"start", " 10%|#", " 20%|##", " 30%|###", "done"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}
