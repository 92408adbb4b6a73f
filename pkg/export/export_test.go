package export

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/z-wentao/voicetrace/pkg/apperr"
	"github.com/z-wentao/voicetrace/pkg/models"
)

func sampleResult() *models.AnalysisResult {
	return &models.AnalysisResult{
		AnalysisID:    "analysis-1",
		SourceFile:    "meeting.wav",
		DurationS:     125.0,
		TotalSpeakers: 2,
		Segments: []models.Segment{
			{ID: "seg_0001", SpeakerID: "SPEAKER_00", SpeakerLabel: "Speaker 1", StartTime: 0.0, EndTime: 2.5, Text: "Hi"},
			{ID: "seg_0002", SpeakerID: "SPEAKER_01", SpeakerLabel: "Speaker 2", StartTime: 2.5, EndTime: 5.0, Text: "Hey"},
			{ID: "seg_0003", SpeakerID: "SPEAKER_01", SpeakerLabel: "Speaker 2", StartTime: 5.0, EndTime: 8.0, Text: "How are you"},
		},
		Metadata: models.Metadata{
			Runtime:   "mock",
			CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			Version:   models.SchemaVersion,
		},
	}
}

// TestParseFormat covers accepted formats and the rejection category.
func TestParseFormat(t *testing.T) {
	for _, s := range []string{"txt", "md", "json", "JSON", "Md"} {
		if _, err := ParseFormat(s); err != nil {
			t.Errorf("ParseFormat(%q): %v", s, err)
		}
	}
	if _, err := ParseFormat("srt"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("err = %v, want InvalidInput", err)
	}
}

// TestRenderTXT verifies the one-line-per-segment plain text shape.
func TestRenderTXT(t *testing.T) {
	out, err := Render(sampleResult(), FormatTXT)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	want := "[Speaker 1] Hi\n[Speaker 2] Hey\n[Speaker 2] How are you\n"
	if string(out) != want {
		t.Fatalf("txt = %q, want %q", out, want)
	}
}

// TestRenderMarkdown verifies the header and that contiguous segments of the
// same speaker merge into one section.
func TestRenderMarkdown(t *testing.T) {
	out, err := Render(sampleResult(), FormatMarkdown)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	md := string(out)

	if !strings.HasPrefix(md, "# Transcript: meeting.wav\n") {
		t.Fatalf("missing title header:\n%s", md)
	}
	if !strings.Contains(md, "- Speakers: 2\n") {
		t.Fatalf("missing speaker count:\n%s", md)
	}
	if !strings.Contains(md, "- Duration: 02:05\n") {
		t.Fatalf("missing duration:\n%s", md)
	}
	if !strings.Contains(md, "## Speaker 1 [00:00 - 00:02]\n") {
		t.Fatalf("missing first speaker section:\n%s", md)
	}
	// seg_0002 and seg_0003 share a speaker and must merge into one section.
	if got := strings.Count(md, "## Speaker 2"); got != 1 {
		t.Fatalf("speaker 2 sections = %d, want 1 merged run:\n%s", got, md)
	}
	if !strings.Contains(md, "## Speaker 2 [00:02 - 00:08]\n\nHey\nHow are you\n") {
		t.Fatalf("merged run body wrong:\n%s", md)
	}
}

// TestRenderJSONLossless verifies the JSON export round-trips the canonical
// schema without loss.
func TestRenderJSONLossless(t *testing.T) {
	result := sampleResult()
	out, err := Render(result, FormatJSON)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	var decoded models.AnalysisResult
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.AnalysisID != result.AnalysisID {
		t.Fatalf("analysis_id = %s, want %s", decoded.AnalysisID, result.AnalysisID)
	}
	if len(decoded.Segments) != len(result.Segments) {
		t.Fatalf("segments = %d, want %d", len(decoded.Segments), len(result.Segments))
	}
	if decoded.Segments[0].ID != "seg_0001" || decoded.Segments[0].SpeakerID != "SPEAKER_00" {
		t.Fatalf("segment fields lost: %+v", decoded.Segments[0])
	}
	if decoded.Metadata.Version != models.SchemaVersion {
		t.Fatalf("version = %s, want %s", decoded.Metadata.Version, models.SchemaVersion)
	}
}

// TestRenderAfterRename verifies renamed labels flow into every format;
// runs are grouped by speaker identity, not label text.
func TestRenderAfterRename(t *testing.T) {
	result := sampleResult()
	for i := range result.Segments {
		if result.Segments[i].SpeakerID == "SPEAKER_01" {
			result.Segments[i].SpeakerLabel = "Alice"
		}
	}

	txt, err := Render(result, FormatTXT)
	if err != nil {
		t.Fatalf("render txt: %v", err)
	}
	if !strings.Contains(string(txt), "[Alice] Hey\n") {
		t.Fatalf("rename not reflected in txt:\n%s", txt)
	}

	md, err := Render(result, FormatMarkdown)
	if err != nil {
		t.Fatalf("render md: %v", err)
	}
	if !strings.Contains(string(md), "## Alice [00:02 - 00:08]") {
		t.Fatalf("rename not reflected in md:\n%s", md)
	}
}

// TestSecToTimestamp covers the hour rollover.
func TestSecToTimestamp(t *testing.T) {
	cases := []struct {
		sec  float64
		want string
	}{
		{0, "00:00"},
		{65.4, "01:05"},
		{3599, "59:59"},
		{3661, "01:01:01"},
	}
	for _, tc := range cases {
		if got := secToTimestamp(tc.sec); got != tc.want {
			t.Errorf("secToTimestamp(%v) = %s, want %s", tc.sec, got, tc.want)
		}
	}
}
