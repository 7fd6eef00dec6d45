package mention

import (
	"reflect"
	"testing"
)

func TestSuggestMatchesPartialToken(t *testing.T) {
	m := NewMatcher([]string{"John", "Jane", "Bob"})

	got := m.Suggest("hello @jo")
	want := []string{"John"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Suggest(@jo) = %v, want %v", got, want)
	}

	got = m.Suggest("hello @j")
	want = []string{"John", "Jane"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Suggest(@j) = %v, want %v", got, want)
	}
}

func TestSuggestWithoutTokenYieldsNothing(t *testing.T) {
	m := NewMatcher([]string{"John"})
	if got := m.Suggest("no token here"); got != nil {
		t.Fatalf("Suggest() = %v, want nil", got)
	}
}

func TestSuggestBareAtMatchesEveryone(t *testing.T) {
	m := NewMatcher([]string{"John", "Jane"})
	if got := m.Suggest("hey @"); len(got) != 2 {
		t.Fatalf("Suggest(@) = %v", got)
	}
}

func TestSuggestUsesLastToken(t *testing.T) {
	m := NewMatcher([]string{"John", "Bob"})
	got := m.Suggest("@john said hi to @bo")
	if len(got) != 1 || got[0] != "Bob" {
		t.Fatalf("Suggest() = %v, want [Bob]", got)
	}
}

func TestSuggestIgnoresMarkupAroundCaret(t *testing.T) {
	m := NewMatcher([]string{"John"})
	got := m.Suggest(`<p>hi @jo</p>`)
	if len(got) != 1 || got[0] != "John" {
		t.Fatalf("Suggest() = %v, want [John]", got)
	}
}

func TestSuggestCapsResults(t *testing.T) {
	names := []string{"Ana", "Anb", "Anc", "And", "Ane", "Anf", "Ang"}
	m := NewMatcher(names)
	if got := m.Suggest("@an"); len(got) != MaxSuggestions {
		t.Fatalf("Suggest() returned %d names, want %d", len(got), MaxSuggestions)
	}
}

func TestNewMatcherDeduplicates(t *testing.T) {
	m := NewMatcher([]string{"Jo", "Sam", "Jo"})
	if got := m.Suggest("@"); len(got) != 2 {
		t.Fatalf("duplicate names kept: %v", got)
	}
}

func TestSpliceReplacesPartialToken(t *testing.T) {
	draft := "hello @jo"
	got := Splice(draft, len(draft), "John")
	want := `hello <span class="mention" style="color: blue;">@John</span>`
	if got != want {
		t.Fatalf("Splice() = %q, want %q", got, want)
	}
}

func TestSpliceKeepsTextAfterCursor(t *testing.T) {
	draft := "hey @jo and more"
	got := Splice(draft, 7, "John")
	want := `hey <span class="mention" style="color: blue;">@John</span> and more`
	if got != want {
		t.Fatalf("Splice() = %q, want %q", got, want)
	}
}

func TestSpliceClampsCursor(t *testing.T) {
	got := Splice("@j", 99, "John")
	want := `<span class="mention" style="color: blue;">@John</span>`
	if got != want {
		t.Fatalf("Splice() = %q, want %q", got, want)
	}
}
