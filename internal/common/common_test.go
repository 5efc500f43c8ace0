package common

import "testing"

func TestConstantsValues(t *testing.T) {
	if ContentTypeJSON != "application/json" {
		t.Fatalf("ContentTypeJSON = %q", ContentTypeJSON)
	}
	if HeaderAPIKey != "X-API-Key" {
		t.Fatalf("HeaderAPIKey = %q", HeaderAPIKey)
	}
	if PathHealth != "/health" || PathSchedule != "/agendar" || PathPosts != "/posts" {
		t.Fatalf("paths mismatch: %q, %q, %q", PathHealth, PathSchedule, PathPosts)
	}
	if DefaultQueueCapacity <= 0 || DefaultWorkerCount <= 0 {
		t.Fatalf("defaults should be positive")
	}
	if DefaultPageLimit > MaxPageLimit {
		t.Fatalf("default page limit above max")
	}
	if SentDirName != "Enviados" || ErrorsDirName != "Erros" {
		t.Fatalf("relocation dir names mismatch: %q, %q", SentDirName, ErrorsDirName)
	}
	if len(MediaExtensions) != 3 {
		t.Fatalf("media extensions = %v", MediaExtensions)
	}
}
