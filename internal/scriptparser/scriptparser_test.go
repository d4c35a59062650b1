package scriptparser

import "testing"

func TestParseOrdersTestsByFirstAppearance(t *testing.T) {
	text := "a.time_limit 2\nb.time_limit 1\na.memory_limit 67108864\n"
	spec := Parse("p1", text)
	if len(spec.Tests) != 2 {
		t.Fatalf("expected 2 tests, got %d", len(spec.Tests))
	}
	if spec.Tests[0].TestName != "a" || spec.Tests[1].TestName != "b" {
		t.Fatalf("unexpected order: %+v", spec.Tests)
	}
	if spec.Tests[0].TotalMemoryLimitBytes != 67108864 {
		t.Fatalf("expected memory limit applied, got %d", spec.Tests[0].TotalMemoryLimitBytes)
	}
}

func TestParseDegradesOnGarbage(t *testing.T) {
	spec := Parse("p1", "not a valid line at all")
	if len(spec.Tests) != 0 {
		t.Fatalf("expected empty spec, got %+v", spec.Tests)
	}
	if spec.ID != "p1" {
		t.Fatalf("expected problem id preserved")
	}
}

func TestParseAppliesDefaultsViaNormalize(t *testing.T) {
	spec := Parse("p1", "a.time_limit 2\n")
	if spec.Tests[0].TotalMemoryLimitBytes == 0 {
		t.Fatal("expected Normalize to fill in default memory limit")
	}
}
