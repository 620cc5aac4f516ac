package observability

import "testing"

func TestNormalizedPath(t *testing.T) {
	got := normalizedPath("/api/sessions/3e8b2f9c-4a64-4b43-9f1d-0a9d6f2c7b11/answers/7")
	want := "/api/sessions/{id}/answers/{id}"
	if got != want {
		t.Fatalf("normalizedPath mismatch got=%s want=%s", got, want)
	}
	if got := normalizedPath("/api/catalog/board"); got != "/api/catalog/board" {
		t.Fatalf("non-id segments should be untouched, got %s", got)
	}
}

func TestExtractSessionID(t *testing.T) {
	id := "3e8b2f9c-4a64-4b43-9f1d-0a9d6f2c7b11"
	if got := extractSessionID("/api/sessions/" + id + "/submit"); got != id {
		t.Fatalf("expected %s, got %q", id, got)
	}
	if got := extractSessionID("/api/exams/" + id); got != "" {
		t.Fatalf("expected empty for non-session path, got %q", got)
	}
	if got := extractSessionID("/api/sessions/not-a-uuid"); got != "" {
		t.Fatalf("expected empty for malformed id, got %q", got)
	}
}
