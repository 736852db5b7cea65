package missions

import (
	"strings"
	"testing"

	"opsbot/internal/signup"
)

func TestSplitSemiKeepsEmptySegments(t *testing.T) {
	t.Parallel()
	got := splitSemi(" ; 2026-01-08 18:30:00 ")
	if len(got) != 2 || got[0] != "" || got[1] != "2026-01-08 18:30:00" {
		t.Fatalf("splitSemi = %q", got)
	}
}

func TestRosterTextEscapesOperatorInput(t *testing.T) {
	t.Parallel()
	v := signup.SurfaceView{
		Squad: "Alpha <script>",
		Slots: []signup.SlotView{
			{ID: 1, Label: "Strzelec <b>", ParticipantID: 42, ParticipantName: "J&J"},
			{ID: 2, Label: "Medyk"},
		},
	}
	text := rosterText(v)
	if strings.Contains(text, "<script>") || strings.Contains(text, "Strzelec <b>") {
		t.Fatalf("unescaped input in roster: %q", text)
	}
	if !strings.Contains(text, "J&amp;J") {
		t.Fatalf("participant name not escaped: %q", text)
	}
	if !strings.Contains(text, "wolny") {
		t.Fatalf("free slot missing: %q", text)
	}
}

func TestPickKeyboardOnlyFreeSlots(t *testing.T) {
	t.Parallel()
	v := signup.SurfaceView{
		SurfaceID: 100,
		Slots: []signup.SlotView{
			{ID: 1, Label: "Dowódca", ParticipantID: 42},
			{ID: 2, Label: "Medyk"},
			{ID: 3, Label: "Strzelec"},
		},
	}
	rm := pickKeyboard(v)
	if rm == nil {
		t.Fatal("keyboard missing with free slots present")
	}
	count := 0
	for _, row := range rm.InlineKeyboard {
		count += len(row)
		for _, btn := range row {
			if strings.Contains(btn.Data, "100:1") {
				t.Fatalf("taken slot got a button: %+v", btn)
			}
		}
	}
	if count != 2 {
		t.Fatalf("button count = %d, want 2", count)
	}

	v.Slots[1].ParticipantID = 7
	v.Slots[2].ParticipantID = 8
	if pickKeyboard(v) != nil {
		t.Fatal("full squad must drop the keyboard")
	}
}
