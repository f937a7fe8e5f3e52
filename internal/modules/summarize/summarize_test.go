package summarize

import (
	"strings"
	"testing"

	"gorm.io/datatypes"

	types "github.com/engramlabs/engram-backend/internal/domain"
)

func TestFormatTranscript(t *testing.T) {
	children := []*types.Source{
		{ID: "msg_1", Metadata: datatypes.JSON(`{"role":"user","content":"hello"}`)},
		{ID: "msg_2", Metadata: datatypes.JSON(`{"role":"assistant","name":"Iris","content":"hi there"}`)},
		{ID: "msg_3"},
		{ID: "msg_4", Metadata: datatypes.JSON(`not json`)},
		{ID: "msg_5", Metadata: datatypes.JSON(`{"role":"user","content":"  "}`)},
	}

	got := formatTranscript(children)
	if !strings.Contains(got, "<user>hello</user>") {
		t.Fatalf("user turn missing:\n%s", got)
	}
	if !strings.Contains(got, `<assistant name="Iris">hi there</assistant>`) {
		t.Fatalf("assistant turn missing:\n%s", got)
	}
	if strings.Count(got, "\n") != 2 {
		t.Fatalf("unreadable rows should be skipped:\n%s", got)
	}
}

func TestFormatTranscriptEmpty(t *testing.T) {
	if got := formatTranscript(nil); got != "" {
		t.Fatalf("expected empty transcript, got %q", got)
	}
}
