package config

import (
	"strings"
	"testing"
)

// --------------------------------------------------------------------------------------------- //

func TestSearchPathsPrefersXDGConfigHome(t *testing.T) {
	env := map[string]string{
		"XDG_CONFIG_HOME": "/home/user/.config",
		"XDG_CONFIG_DIRS": "/etc/xdg",
		"HOME":            "/home/user",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	paths := SearchPaths(lookup)
	if len(paths) != 2 {
		t.Fatalf("expected 2 candidate paths, got %v", paths)
	}
	if !strings.HasPrefix(paths[0], "/home/user/.config/zit/") {
		t.Errorf("first candidate should come from XDG_CONFIG_HOME, got %q", paths[0])
	}
	if !strings.HasPrefix(paths[1], "/etc/xdg/zit/") {
		t.Errorf("second candidate should come from XDG_CONFIG_DIRS, got %q", paths[1])
	}
}

// --------------------------------------------------------------------------------------------- //

func TestSearchPathsFallsBackToHomeConfig(t *testing.T) {
	env := map[string]string{"HOME": "/home/user"}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	paths := SearchPaths(lookup)
	if len(paths) != 1 || !strings.HasPrefix(paths[0], "/home/user/.config/zit/") {
		t.Fatalf("expected a single HOME-derived candidate, got %v", paths)
	}
}

// --------------------------------------------------------------------------------------------- //

func TestParseIntoAppliesRecognizedKeys(t *testing.T) {
	cfg := Default()
	input := strings.NewReader(`
# a comment
initiate_peer_connections = false
listening_port=6881
connection_port = 6882
assume_full_on_have=0
rewrite_docker_bridge=1
unknown_key=hello
`)
	if err := parseInto(&cfg, input, nil); err != nil {
		t.Fatalf("parseInto: %v", err)
	}

	if cfg.InitiatePeerConnections {
		t.Error("expected InitiatePeerConnections=false")
	}
	if cfg.ListeningPort != 6881 {
		t.Errorf("ListeningPort = %d, want 6881", cfg.ListeningPort)
	}
	if cfg.ConnectionPort != 6882 {
		t.Errorf("ConnectionPort = %d, want 6882", cfg.ConnectionPort)
	}
	if cfg.AssumeFullOnHave {
		t.Error("expected AssumeFullOnHave=false")
	}
	if !cfg.RewriteDockerBridge {
		t.Error("expected RewriteDockerBridge=true")
	}
}

// --------------------------------------------------------------------------------------------- //

func TestParseIntoIgnoresMalformedLines(t *testing.T) {
	cfg := Default()
	input := strings.NewReader("not a key value line\n")
	if err := parseInto(&cfg, input, nil); err != nil {
		t.Fatalf("parseInto: %v", err)
	}
	if cfg != Default() {
		t.Error("malformed line should leave defaults untouched")
	}
}
