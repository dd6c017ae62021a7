// Package validate is the identity and input validation boundary every
// externally supplied string passes through before it reaches persistence
// or the filesystem. It has no side effects and does no logging; the only
// I/O is PathAllowlist reading the filesystem to resolve symlinks and
// DefaultAllowlist looking up the home directory.
//
// The checks here exist because the original agent-registry implementation
// allowed path traversal through unsanitized config paths and SQL/ID
// injection through unchecked agent identifiers; every public function
// rejects with tmwserr.ErrValidation rather than attempting to "fix" input.
package validate

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/apto-as/tmws/internal/model"
	"github.com/apto-as/tmws/internal/tmwserr"
	"golang.org/x/text/unicode/norm"
)

// idPattern matches both agent_id and namespace: starts with a letter,
// followed by 2-63 word/dot/dash/underscore characters.
var idPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]{2,63}$`)

// AgentID checks s against the agent_id charset and length, and rejects any
// "/"-separated segment equal to "..".
func AgentID(s string) error {
	return idLike(s, "agent_id")
}

// Namespace checks s against the same charset/length rule as AgentID. The
// reserved-namespace write gate (system, trinitas) is enforced by the
// access control package, which already knows the caller's access level;
// this function only validates shape.
func Namespace(s string) error {
	return idLike(s, "namespace")
}

func idLike(s, field string) error {
	if containsControlOrNull(s) {
		return tmwserr.Validation("%s contains a control or null character", field)
	}
	for _, seg := range strings.Split(s, "/") {
		if seg == ".." {
			return tmwserr.Validation("%s must not contain a %q path segment", field, "..")
		}
	}
	if !idPattern.MatchString(s) {
		return tmwserr.Validation("%s %q does not match the required pattern", field, s)
	}
	return nil
}

func containsControlOrNull(s string) bool {
	for _, r := range s {
		if r == 0 || unicode.IsControl(r) {
			return true
		}
	}
	return false
}

// ReservedNamespaceWriteAllowed reports whether level may write into ns,
// per spec: reserved namespaces require elevated/admin/system.
func ReservedNamespaceWriteAllowed(ns string, level model.AccessLevel) bool {
	if !model.ReservedNamespaces[ns] {
		return true
	}
	return model.AtLeast(level, "elevated")
}

// SanitizeTag normalizes s to Unicode NFC, trims outer whitespace, and
// rejects empty or over-long (>32 bytes) tags.
func SanitizeTag(s string) (string, error) {
	t := norm.NFC.String(strings.TrimSpace(s))
	if t == "" {
		return "", tmwserr.Validation("tag must not be empty")
	}
	if len(t) > model.MaxTagBytes {
		return "", tmwserr.Validation("tag %q exceeds %d bytes", t, model.MaxTagBytes)
	}
	return t, nil
}

// SanitizeTags applies SanitizeTag to every element and enforces the
// MaxTags cap and de-duplication.
func SanitizeTags(tags []string) ([]string, error) {
	if len(tags) > model.MaxTags {
		return nil, tmwserr.Validation("at most %d tags allowed, got %d", model.MaxTags, len(tags))
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		t, err := SanitizeTag(raw)
		if err != nil {
			return nil, err
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}

// ValidateContent enforces the 1..65535 byte bound on Memory.Content.
func ValidateContent(content string) error {
	n := len(content)
	if n == 0 {
		return tmwserr.Validation("content must not be empty")
	}
	if n > model.MaxContentBytes {
		return tmwserr.Validation("content exceeds %d bytes (got %d)", model.MaxContentBytes, n)
	}
	if !utf8.ValidString(content) {
		return tmwserr.Validation("content must be valid UTF-8")
	}
	return nil
}

// PathAllowlist canonicalises p (resolving symlinks, collapsing ..) and
// accepts it only if the result carries one of allowlist's prefixes. Both p
// and every allowlist entry are resolved through filepath.EvalSymlinks so a
// symlink that *resolves* outside the allowlist is rejected even though its
// un-resolved name looks innocuous.
func PathAllowlist(p string, allowlist []string) (string, error) {
	if p == "" {
		return "", tmwserr.Validation("path must not be empty")
	}
	if strings.IndexByte(p, 0) >= 0 {
		return "", tmwserr.Validation("path contains a null byte")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", tmwserr.Validation("path %q could not be made absolute: %v", p, err)
	}
	resolved, err := resolveAsFarAsPossible(abs)
	if err != nil {
		return "", tmwserr.Validation("path %q could not be resolved: %v", p, err)
	}
	for _, dir := range allowlist {
		dirAbs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		dirResolved, err := resolveAsFarAsPossible(dirAbs)
		if err != nil {
			continue
		}
		if withinPrefix(resolved, dirResolved) {
			return resolved, nil
		}
	}
	return "", tmwserr.Validation("path %q is outside the allowed directories", p)
}

// resolveAsFarAsPossible resolves symlinks on the longest existing prefix of
// p, then reattaches the (not-yet-created) tail unchanged, so a config file
// that does not exist yet can still be validated against its parent dir's
// real location.
func resolveAsFarAsPossible(p string) (string, error) {
	p = filepath.Clean(p)
	if real, err := filepath.EvalSymlinks(p); err == nil {
		return real, nil
	}
	dir, base := filepath.Split(p)
	dir = strings.TrimSuffix(dir, string(filepath.Separator))
	if dir == "" || dir == p {
		return p, nil
	}
	realDir, err := resolveAsFarAsPossible(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(realDir, base), nil
}

func withinPrefix(path, prefix string) bool {
	path = filepath.Clean(path)
	prefix = filepath.Clean(prefix)
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+string(filepath.Separator))
}

// DefaultAllowlist returns the allowlist directories spec.md §4.B names:
// $HOME/.claude, $HOME/.config/claude, $HOME/.mcp, plus any extra
// directories the caller passes. No configuration setting supplies extra
// directories; the profile tools call it with none.
func DefaultAllowlist(extra ...string) []string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	out := []string{
		filepath.Join(home, ".claude"),
		filepath.Join(home, ".config", "claude"),
		filepath.Join(home, ".mcp"),
	}
	return append(out, extra...)
}

// ConfigAgentEntry mirrors one element of custom_agents.json's
// "custom_agents" array. Fields beyond these are ignored by the decoder per
// spec.md §6 ("unknown fields are ignored").
type ConfigAgentEntry struct {
	Name         string         `json:"name"`
	FullID       string         `json:"full_id"`
	Namespace    string         `json:"namespace"`
	DisplayName  string         `json:"display_name"`
	AccessLevel  string         `json:"access_level"`
	Capabilities []string       `json:"capabilities"`
	Metadata     map[string]any `json:"metadata"`
}

// MaxConfigFileBytes bounds a custom-agent config file, per spec.md §4.B.
const MaxConfigFileBytes = 1 << 20 // 1 MiB

// MaxConfigAgents bounds the agent count in a single config file.
const MaxConfigAgents = 1000

// MaxConfigCapabilities bounds the capability list length per agent entry,
// grounded on the original's 20-item cap.
const MaxConfigCapabilities = 20

// ValidateConfigContent enforces the size, count, and per-entry shape rules
// for a parsed custom_agents.json document. raw is the undecoded file
// content, used only for the size check.
func ValidateConfigContent(raw []byte, agents []ConfigAgentEntry) error {
	if len(raw) > MaxConfigFileBytes {
		return tmwserr.Validation("config file exceeds %d bytes", MaxConfigFileBytes)
	}
	if len(agents) > MaxConfigAgents {
		return tmwserr.Validation("config carries %d agents, exceeding the %d cap", len(agents), MaxConfigAgents)
	}
	for i, a := range agents {
		if a.Name == "" || a.FullID == "" || a.Namespace == "" {
			return tmwserr.Validation("custom_agents[%d] missing required name/full_id/namespace", i)
		}
		if err := AgentID(a.FullID); err != nil {
			return tmwserr.Validation("custom_agents[%d].full_id: %v", i, err)
		}
		if err := Namespace(a.Namespace); err != nil {
			return tmwserr.Validation("custom_agents[%d].namespace: %v", i, err)
		}
		if a.AccessLevel != "" && !model.ValidAccessLevel(model.AccessLevel(a.AccessLevel)) {
			return tmwserr.Validation("custom_agents[%d].access_level %q is not a recognized level", i, a.AccessLevel)
		}
		if len(a.Capabilities) > MaxConfigCapabilities {
			return tmwserr.Validation("custom_agents[%d] carries %d capabilities, exceeding %d", i, len(a.Capabilities), MaxConfigCapabilities)
		}
	}
	return nil
}

// CustomAgentsFile is the top-level shape of custom_agents.json.
type CustomAgentsFile struct {
	Version      string             `json:"version"`
	CustomAgents []ConfigAgentEntry `json:"custom_agents"`
}
