package router

import (
	"testing"
)

func TestClassify(t *testing.T) {
	noResults := Context{HasProfile: true}
	withResults := Context{HasProfile: true, HasResults: true}

	tests := []struct {
		name string
		text string
		ctx  Context
		want Intent
	}{
		{"document bypasses text", "hello", Context{HasDocument: true}, Upload},
		{"document with search text", "find me jobs", Context{HasDocument: true}, Upload},
		{"find jobs", "find me backend jobs", noResults, Search},
		{"looking for roles", "I'm looking for Go roles in Berlin", noResults, Search},
		{"search without profile", "search for jobs", Context{}, Search},
		{"who is hiring", "who's hiring for SRE?", noResults, Search},
		{"refine with results", "only remote ones please", withResults, Refine},
		{"exclude with results", "exclude Acme", withResults, Refine},
		{"show more", "show me more", withResults, Refine},
		{"refine without results names jobs", "find remote jobs only", noResults, Search},
		{"refine without results is chat", "only remote please", noResults, Chat},
		{"greeting", "hi there", noResults, Chat},
		{"question", "what does a staff engineer do?", withResults, Chat},
		{"empty", "   ", withResults, Chat},
		{"salary question", "what salary should I expect?", withResults, Chat},
		{"remote question", "Is remote work common in Berlin?", withResults, Chat},
		{"instead in conversation", "I'd rather talk about interviews instead", withResults, Chat},
		{"without in conversation", "can I apply without a degree?", withResults, Chat},
		{"skip command", "skip Acme", withResults, Refine},
		{"salary aimed at results", "only ones with salary above 100k", withResults, Refine},
		{"at least on roles", "roles paying at least 90k", withResults, Refine},
		{"remote question about results", "are any of these roles remote?", withResults, Refine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.text, tt.ctx)
			if got.Intent != tt.want {
				t.Errorf("Classify(%q) = %s (rule %q), want %s", tt.text, got.Intent, got.Rule, tt.want)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	ctx := Context{HasProfile: true, HasResults: true}
	first := Classify("only hybrid roles, exclude Initech", ctx)
	for i := 0; i < 20; i++ {
		if got := Classify("only hybrid roles, exclude Initech", ctx); got != first {
			t.Fatalf("run %d: %+v != %+v", i, got, first)
		}
	}
}

func TestClassify_FallbackNotMatched(t *testing.T) {
	d := Classify("tell me a joke", Context{})
	if d.Intent != Chat || d.Matched {
		t.Errorf("decision = %+v, want unmatched Chat", d)
	}
	d = Classify("find me jobs", Context{})
	if !d.Matched || d.Rule == "" {
		t.Errorf("decision = %+v, want matched rule", d)
	}
}

func TestSelect(t *testing.T) {
	tests := map[Intent]string{
		Upload: WorkerProfile,
		Search: WorkerQuickMatch,
		Refine: WorkerQuickMatch,
		Chat:   WorkerChat,
		"???":  WorkerChat,
	}
	for intent, want := range tests {
		if got := Select(intent); got != want {
			t.Errorf("Select(%s) = %q, want %q", intent, got, want)
		}
	}
}
