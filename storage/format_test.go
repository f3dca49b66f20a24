package storage

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	in := strings.Join([]string{
		"    orphan meaning",
		"Cat",
		"    a small feline",
		"\ta jazz musician",
		"    a small feline",
		"",
		"",
		"empty",
		"dog  ",
		"    canine\r",
		"cat",
		"    a pet",
	}, "\n")
	got, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string][]string{
		"cat": {"a small feline", "a jazz musician", "a pet"},
		"dog": {"canine"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestParse_LongLines(t *testing.T) {
	long := strings.Repeat("x", 2<<20)
	in := "cat\n    feline\n    " + long + "\n\njunk" + long + "\n    m\n\ndog\n    canine\n"
	got, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string][]string{
		"cat": {"feline"},
		"dog": {"canine"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestRender(t *testing.T) {
	var sb strings.Builder
	err := Render(&sb, map[string][]string{
		"b": {"two", "one"},
		"a": {"first"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "a\n    first\n\nb\n    two\n    one\n"
	if diff := cmp.Diff(want, sb.String()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	back, err := Parse(strings.NewReader(sb.String()))
	if err != nil {
		t.Fatal(err)
	}
	if len(back) != 2 || back["b"][0] != "two" {
		t.Errorf("render output did not parse back: %v", back)
	}
}
