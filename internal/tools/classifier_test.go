package tools

import (
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		query string
		want  Category
	}{
		{"Hello, Jarvis!", CategorySimple},
		{"thanks, that will be all", CategorySimple},
		{"What is the capital of France?", CategoryKnowledge},
		{"Explain quantum tunnelling", CategoryKnowledge},
		{"What time is it?", CategoryTimeCalc},
		{"Calculate 256 squared", CategoryTimeCalc},
		{"how much is 12 * 7", CategoryTimeCalc},
		{"List docker containers", CategorySystem},
		{"check disk usage", CategorySystem},
		{"Check system status", CategorySystem},
		{"What's playing on Jellyfin?", CategoryMedia},
		{"List n8n workflows", CategoryN8N},
		{"activate the backup workflow", CategoryN8N},
		{"Remember that my birthday is January 15", CategoryMemory},
		{"Run the command ls -la", CategorySSH},
		{"ask gemini to review this", CategorySSH},
		{"sing me a song", CategoryFull},
		{"", CategoryFull},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if got := Classify(tt.query); got != tt.want {
				t.Fatalf("Classify(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestToolsFor(t *testing.T) {
	if _, limited := ToolsFor(CategoryFull); limited {
		t.Fatal("CategoryFull should not be limited")
	}
	names, limited := ToolsFor(CategorySimple)
	if !limited || len(names) != 0 {
		t.Fatalf("ToolsFor(simple) = %v, %v", names, limited)
	}
	names, _ = ToolsFor(CategorySystem)
	want := []string{"calculator", "get_current_time", "system_status", "docker_control", "service_control"}
	if len(names) != len(want) {
		t.Fatalf("ToolsFor(system) = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("ToolsFor(system) = %v, want %v", names, want)
		}
	}
	// Returned slices are copies.
	names[0] = "mutated"
	if again, _ := ToolsFor(CategorySystem); again[0] != "calculator" {
		t.Fatal("ToolsFor returned shared state")
	}
}

func TestDefinitionsForQuery(t *testing.T) {
	d := NewDispatcher()
	_ = d.Register(echoTool("calculator"))
	_ = d.Register(echoTool("get_current_time"))
	if err := d.ReplaceRemote(DefaultRemoteDefinitions()); err != nil {
		t.Fatalf("ReplaceRemote() error = %v", err)
	}

	defs, category := d.DefinitionsForQuery("check disk usage")
	if category != CategorySystem || len(defs) != 5 {
		t.Fatalf("DefinitionsForQuery(system) = %d defs, %q", len(defs), category)
	}

	defs, category = d.DefinitionsForQuery("remember my name is Sam")
	if category != CategoryMemory || len(defs) != 0 {
		t.Fatalf("memory tools should be absent without a manifest: %+v", defs)
	}

	defs, category = d.DefinitionsForQuery("sing me a song")
	if category != CategoryFull || len(defs) != 16 {
		t.Fatalf("DefinitionsForQuery(full) = %d defs, %q", len(defs), category)
	}
}
