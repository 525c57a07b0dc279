package skill

import "testing"

func TestValidSlug(t *testing.T) {
	valid := []string{"calendar_management", "a1", "file_ops_v2", "x_"}
	for _, s := range valid {
		if !ValidSlug(s) {
			t.Errorf("expected %q to be a valid slug", s)
		}
	}
	invalid := []string{"", "a", "1abc", "Calendar", "has-dash", "has space", "_leading"}
	for _, s := range invalid {
		if ValidSlug(s) {
			t.Errorf("expected %q to be rejected", s)
		}
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Calendar Management":  "calendar_management",
		"File I/O":             "file_i_o",
		"  spaced  out  ":      "spaced_out",
		"already_a_slug":       "already_a_slug",
		"Data -- Processing!!": "data_processing",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSlugifyTruncates(t *testing.T) {
	long := ""
	for i := 0; i < 20; i++ {
		long += "abcdefgh "
	}
	got := Slugify(long)
	if len(got) > 64 {
		t.Errorf("slug length %d exceeds 64", len(got))
	}
}

func TestValidItemType(t *testing.T) {
	for _, typ := range []string{"tool", "prompt", "resource"} {
		if !ValidItemType(typ) {
			t.Errorf("expected %q to be valid", typ)
		}
	}
	for _, typ := range []string{"", "skill", "Tool", "widget"} {
		if ValidItemType(typ) {
			t.Errorf("expected %q to be rejected", typ)
		}
	}
}
