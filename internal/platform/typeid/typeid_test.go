package typeid

import (
	"strings"
	"testing"
)

func TestNewRoundTrip(t *testing.T) {
	for _, p := range []Prefix{PrefixNode, PrefixEdge, PrefixSource, PrefixMessage} {
		id := New(p)
		got, err := Parse(id, p)
		if err != nil {
			t.Fatalf("parse %q: %v", id, err)
		}
		if got != id {
			t.Fatalf("round trip changed id: %q != %q", got, id)
		}
		if !strings.HasPrefix(id, string(p)+"_") {
			t.Fatalf("id %q missing prefix %q", id, p)
		}
	}
}

func TestParseRejectsForeignPrefix(t *testing.T) {
	id := New(PrefixEdge)
	if _, err := Parse(id, PrefixNode); err == nil {
		t.Fatalf("expected foreign prefix rejection for %q", id)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"node",
		"node_",
		"_01h455vb4pex5vsknk084sn2qa",
		"node_short",
		"ghost_01h455vb4pex5vsknk084sn2qa",
		"node_01h455vb4pex5vsknk084sn2q!",
	}
	for _, c := range cases {
		if _, err := Parse(c, PrefixNode); err == nil {
			t.Fatalf("expected parse failure for %q", c)
		}
	}
}

func TestPrefixOf(t *testing.T) {
	id := New(PrefixAlias)
	p, ok := PrefixOf(id)
	if !ok || p != PrefixAlias {
		t.Fatalf("unexpected prefix %q ok=%v for %q", p, ok, id)
	}
	if _, ok := PrefixOf("stranger_01h455vb4pex5vsknk084sn2qa"); ok {
		t.Fatalf("unknown prefix should not resolve")
	}
}

func TestNewIsSortableWithinProcess(t *testing.T) {
	prev := New(PrefixNode)
	for i := 0; i < 50; i++ {
		next := New(PrefixNode)
		if next <= prev {
			t.Fatalf("ids not monotonic: %q then %q", prev, next)
		}
		prev = next
	}
}

func TestTime(t *testing.T) {
	id := New(PrefixNode)
	ts, err := Time(id)
	if err != nil {
		t.Fatalf("time: %v", err)
	}
	if ts.IsZero() {
		t.Fatalf("zero timestamp for %q", id)
	}
}
