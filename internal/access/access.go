// Package access is the policy engine evaluated on every read and write. It
// consumes (principal, operation, resource) and returns a Decision,
// re-expressing the original AccessContext/AccessPolicy/PolicyEngine shape
// as a pure function over immutable snapshots so it never touches storage
// directly and can be unit-tested in isolation.
package access

import (
	"github.com/sirupsen/logrus"

	"github.com/apto-as/tmws/internal/model"
	"github.com/apto-as/tmws/internal/tmwserr"
)

// Operation is one of the actions the policy order in spec.md §4.D governs.
type Operation string

const (
	OpRead   Operation = "read"
	OpSearch Operation = "search"
	OpWrite  Operation = "write"
	OpDelete Operation = "delete"
	OpShare  Operation = "share"
)

// Decision is the outcome of Evaluate: either Allow, or Deny carrying a
// caller-facing reason.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }
func deny(reason string) Decision  { return Decision{Allowed: false, Reason: reason} }

// Resource is the immutable snapshot of the object being accessed; for a
// Memory it is essentially model.Memory's access-relevant fields.
type Resource struct {
	OwnerAgentID string
	Namespace    string
	AccessLevel  model.AccessLevel
	SharedWith   []string
}

// ResourceFromMemory projects the access-relevant fields out of a Memory.
func ResourceFromMemory(m model.Memory) Resource {
	return Resource{
		OwnerAgentID: m.OwnerAgentID,
		Namespace:    m.Namespace,
		AccessLevel:  m.AccessLevel,
		SharedWith:   m.SharedWith,
	}
}

// Engine evaluates the ordered policy chain from spec.md §4.D. It holds no
// storage reference; callers pass in an already-loaded principal snapshot
// (from the registry's cache) and resource snapshot.
type Engine struct {
	limiter *RateLimiter
	audit   *logrus.Logger
}

// NewEngine wires a rate limiter and an audit logger. audit defaults to a
// logrus.Logger with output discarded when nil.
func NewEngine(limiter *RateLimiter, audit *logrus.Logger) *Engine {
	if audit == nil {
		audit = logrus.New()
		audit.SetOutput(discardWriter{})
	}
	return &Engine{limiter: limiter, audit: audit}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Evaluate runs the ordered policy chain: self-access, system-agent
// override, access-level gates, rate limit, namespace reservation, default
// deny. The first matching Allow wins; any Deny is final. The rate limit
// applies to every allowed operation; the namespace reservation applies to
// writes and deletes by anyone other than the resource's owner.
func (e *Engine) Evaluate(principal model.Agent, op Operation, resource Resource) (Decision, error) {
	d := e.evaluatePolicies(principal, op, resource)
	if !d.Allowed {
		e.audit.WithFields(logrus.Fields{
			"principal":   principal.AgentID,
			"resource_ns": resource.Namespace,
			"operation":   string(op),
			"reason":      d.Reason,
		}).Warn("access denied")
		return d, tmwserr.Permission("%s", d.Reason)
	}

	if e.limiter != nil && op != "" {
		bucket := bucketFor(op)
		if !e.limiter.Allow(principal.AgentID, bucket) {
			retryAfter := e.limiter.RetryAfterSeconds(principal.AgentID, bucket)
			e.audit.WithFields(logrus.Fields{
				"principal": principal.AgentID,
				"operation": string(op),
				"reason":    "rate limited",
			}).Warn("access denied")
			return deny("rate limited"), tmwserr.RateLimited(retryAfter, "rate limit exceeded for %s", bucket)
		}
	}

	if (op == OpWrite || op == OpDelete) && principal.AgentID != resource.OwnerAgentID {
		if !namespaceWriteAllowed(resource.Namespace, principal.AccessLevel) {
			e.audit.WithFields(logrus.Fields{
				"principal":   principal.AgentID,
				"resource_ns": resource.Namespace,
				"operation":   string(op),
				"reason":      "reserved namespace",
			}).Warn("access denied")
			return deny("reserved namespace"), tmwserr.Permission("namespace %q is reserved", resource.Namespace)
		}
	}

	return d, nil
}

// CanAccess runs only the pure policy chain (no rate limiting, no namespace
// reservation gate) and reports whether op would be allowed. Used for
// defense-in-depth filtering over a batch of candidates (e.g. search
// results) where consuming a rate-limit token per candidate would be wrong;
// the caller accounts for the operation's rate-limit cost exactly once,
// separately.
func (e *Engine) CanAccess(principal model.Agent, op Operation, resource Resource) bool {
	return e.evaluatePolicies(principal, op, resource).Allowed
}

func bucketFor(op Operation) BucketName {
	switch op {
	case OpWrite, OpDelete, OpShare:
		return BucketWrites
	case OpSearch:
		return BucketSearches
	default:
		return BucketRequests
	}
}

func namespaceWriteAllowed(ns string, level model.AccessLevel) bool {
	if !model.ReservedNamespaces[ns] {
		return true
	}
	return model.AtLeast(level, "elevated")
}

// evaluatePolicies runs the pure ordered-policy chain, ignoring rate limit
// and namespace reservation which Evaluate layers on afterward since they
// need side-effecting state (the limiter) or apply only to writes.
func (e *Engine) evaluatePolicies(principal model.Agent, op Operation, resource Resource) Decision {
	// 1. Self-access.
	if principal.AgentID == resource.OwnerAgentID {
		return allow("self access")
	}

	// 2. System agent override.
	switch principal.AccessLevel {
	case model.AccessLevel("system"):
		if op == OpRead || op == OpWrite {
			return allow("system principal override")
		}
	case model.AccessLevel("elevated"), model.AccessLevel("admin"):
		if op == OpRead {
			return allow("elevated/admin read override")
		}
		if op == OpWrite {
			if resource.Namespace == principal.Namespace || model.AtLeast(principal.AccessLevel, "admin") {
				return allow("elevated/admin write override within namespace")
			}
		}
	}

	// 3. Access-level gates on the resource.
	switch resource.AccessLevel {
	case model.AccessPrivate:
		return deny("private memory: only the owner may access it")

	case model.AccessTeam:
		if principal.Namespace == resource.Namespace {
			return allow("team namespace match")
		}
		return deny("team memory: principal namespace does not match")

	case model.AccessShared:
		if containsGrantee(resource.SharedWith, principal.AgentID) {
			return allow("explicit share grant")
		}
		return deny("shared memory: principal is not a grantee")

	case model.AccessPublic:
		if op == OpRead {
			return allow("public memory: read permitted for any principal")
		}
		return deny("public memory: write/delete requires ownership")

	case model.AccessSystem:
		if op == OpRead && model.AtLeast(principal.AccessLevel, "elevated") {
			return allow("system memory: elevated+ read")
		}
		if (op == OpWrite || op == OpDelete) && principal.AccessLevel == model.AccessLevel("system") {
			return allow("system memory: system principal write")
		}
		return deny("system memory: requires elevated read or system write")
	}

	return deny("default deny")
}

func containsGrantee(sharedWith []string, agentID string) bool {
	for _, g := range sharedWith {
		if g == agentID {
			return true
		}
	}
	return false
}
