package validate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apto-as/tmws/internal/model"
	"github.com/apto-as/tmws/internal/tmwserr"
)

func TestAgentIDRejectsDisallowedCharset(t *testing.T) {
	bad := []string{
		"../etc/passwd",
		"a/../b",
		"contains\x00null",
		"has space here",
		"'; DROP TABLE agents; --",
		"ab", // too short
		"9starts-with-digit",
	}
	for _, s := range bad {
		if err := AgentID(s); err == nil {
			t.Errorf("AgentID(%q) = nil, want ErrValidation", s)
		} else if tmwserr.CodeOf(err) != tmwserr.CodeValidation {
			t.Errorf("AgentID(%q) code = %v, want ErrValidation", s, tmwserr.CodeOf(err))
		}
	}
}

func TestAgentIDAcceptsWellFormed(t *testing.T) {
	good := []string{"athena-conductor", "agent_1.test", "a12"}
	for _, s := range good {
		if err := AgentID(s); err != nil {
			t.Errorf("AgentID(%q) = %v, want nil", s, err)
		}
	}
}

func TestSanitizeTagTrimsAndRejectsEmpty(t *testing.T) {
	got, err := SanitizeTag("  kickoff  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "kickoff" {
		t.Fatalf("got %q, want %q", got, "kickoff")
	}
	if _, err := SanitizeTag("   "); err == nil {
		t.Fatal("expected error for whitespace-only tag")
	}
}

func TestSanitizeTagsEnforcesCapAndDedup(t *testing.T) {
	tags := []string{"a", "a", "b"}
	got, err := SanitizeTags(tags)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected dedup to 2 tags, got %v", got)
	}

	var many []string
	for i := 0; i < model.MaxTags+1; i++ {
		many = append(many, string(rune('a'+i%26))+string(rune('0'+i/26)))
	}
	if _, err := SanitizeTags(many); err == nil {
		t.Fatal("expected error exceeding tag cap")
	}
}

func TestValidateContentBounds(t *testing.T) {
	if err := ValidateContent(""); err == nil {
		t.Fatal("expected error for empty content")
	}
	if err := ValidateContent("hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	big := make([]byte, model.MaxContentBytes+1)
	for i := range big {
		big[i] = 'x'
	}
	if err := ValidateContent(string(big)); err == nil {
		t.Fatal("expected error for over-long content")
	}
}

func TestPathAllowlistRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	allowed := filepath.Join(dir, "allowed")
	if err := os.MkdirAll(allowed, 0o755); err != nil {
		t.Fatal(err)
	}
	outside := filepath.Join(dir, "outside", "secret.json")
	if err := os.MkdirAll(filepath.Dir(outside), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(outside, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	traversal := filepath.Join(allowed, "..", "outside", "secret.json")
	if _, err := PathAllowlist(traversal, []string{allowed}); err == nil {
		t.Fatal("expected traversal path to be rejected")
	}
}

func TestPathAllowlistAcceptsWithinDirectory(t *testing.T) {
	dir := t.TempDir()
	allowed := filepath.Join(dir, "allowed")
	if err := os.MkdirAll(allowed, 0o755); err != nil {
		t.Fatal(err)
	}
	target := filepath.Join(allowed, "config.json")
	if err := os.WriteFile(target, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	resolved, err := PathAllowlist(target, []string{allowed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected a non-empty resolved path")
	}
}

func TestPathAllowlistRejectsSymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	allowed := filepath.Join(dir, "allowed")
	outside := filepath.Join(dir, "outside")
	if err := os.MkdirAll(allowed, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(outside, 0o755); err != nil {
		t.Fatal(err)
	}
	secret := filepath.Join(outside, "secret.json")
	if err := os.WriteFile(secret, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	link := filepath.Join(allowed, "link.json")
	if err := os.Symlink(secret, link); err != nil {
		t.Skipf("symlinks unsupported in this environment: %v", err)
	}

	if _, err := PathAllowlist(link, []string{allowed}); err == nil {
		t.Fatal("expected symlink resolving outside the allowlist to be rejected")
	}
}

func TestValidateConfigContentEnforcesShape(t *testing.T) {
	raw := []byte("{}")
	agents := []ConfigAgentEntry{
		{Name: "Valid", FullID: "valid-agent-id", Namespace: "custom"},
	}
	if err := ValidateConfigContent(raw, agents); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := []ConfigAgentEntry{{Name: "x", FullID: "", Namespace: "y"}}
	if err := ValidateConfigContent(raw, bad); err == nil {
		t.Fatal("expected error for missing full_id")
	}
}

func TestReservedNamespaceWriteAllowed(t *testing.T) {
	if ReservedNamespaceWriteAllowed("system", "standard") {
		t.Fatal("standard principal must not write to reserved namespace")
	}
	if !ReservedNamespaceWriteAllowed("system", "elevated") {
		t.Fatal("elevated principal must be allowed to write to reserved namespace")
	}
	if !ReservedNamespaceWriteAllowed("my-namespace", "readonly") {
		t.Fatal("non-reserved namespace must not be gated")
	}
}
