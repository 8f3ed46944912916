package diffutil

import "testing"

func TestUnifiedShowsDifference(t *testing.T) {
	out := Unified("/a.txt", "line one\nline two\n", "line one\nline three\n")
	if out == "" {
		t.Fatal("expected a non-empty diff")
	}
	if out == "# no textual difference\n" {
		t.Fatal("expected a real diff, got the no-difference placeholder")
	}
}

func TestUnifiedIdenticalContent(t *testing.T) {
	out := Unified("/a.txt", "same\n", "same\n")
	if out != "# no textual difference\n" {
		t.Fatalf("got %q, want the no-difference placeholder", out)
	}
}

func TestUnifiedOversizeIsOmitted(t *testing.T) {
	big := make([]byte, MaxBytes)
	for i := range big {
		big[i] = 'x'
	}
	out := Unified("/big.txt", string(big), string(big)+"y")
	if out != "# diff omitted (oversize)\n" {
		t.Fatalf("got %q, want the oversize placeholder", out)
	}
}
