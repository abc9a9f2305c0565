// Package authz decides whether a request may perform an operation given
// where it came from, who made it and from which device.
package authz

import (
	"context"
	"net/netip"
	"slices"

	"github.com/erazemk/orozarna/internal/config"
	"github.com/erazemk/orozarna/internal/metrics"
	"github.com/erazemk/orozarna/internal/model"
	"github.com/erazemk/orozarna/internal/origin"
)

// Deny reasons. They are stable and end up in audit entries and responses.
const (
	ReasonOriginNotPermitted  = "origin_not_permitted"
	ReasonRoleNotPermitted    = "role_not_permitted"
	ReasonDeviceNotAuthorized = "device_not_authorized"
	ReasonUnauthenticated     = "unauthenticated"
	ReasonUnknownOperation    = "unknown_operation"
)

// Scope limits what an allowed read may see.
type Scope string

const (
	ScopeNone Scope = ""
	ScopeSelf Scope = "self"
	ScopeFull Scope = "full"
)

// Request is everything the Gate looks at.
type Request struct {
	Origin     model.OriginClass
	Role       string
	Operation  model.Operation
	DeviceAddr netip.Addr
	DeviceID   string
	ActorID    int64
	RequestID  string
}

// Decision is the Gate's answer.
type Decision struct {
	Allowed bool
	Reason  string
	Scope   Scope
}

// Recorder receives one audit entry per decision.
type Recorder interface {
	Record(ctx context.Context, e model.AuditEntry)
}

// Device is an allowlisted custody terminal.
type Device struct {
	Prefix   netip.Prefix
	Identity string
}

// Gate evaluates the operation policy. It holds only immutable state and is
// safe for concurrent use.
type Gate struct {
	rules    map[model.Operation]config.Rule
	devices  []Device
	recorder Recorder
	metrics  *metrics.Metrics
}

// NewGate creates a Gate from a validated configuration.
func NewGate(cfg *config.Config, recorder Recorder, m *metrics.Metrics) *Gate {
	devices := make([]Device, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		p, err := origin.ParsePrefix(d.Address)
		if err != nil {
			continue
		}
		devices = append(devices, Device{Prefix: p, Identity: d.Identity})
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Gate{rules: cfg.Policy, devices: devices, recorder: recorder, metrics: m}
}

// Authorize decides req and records the decision.
func (g *Gate) Authorize(ctx context.Context, req Request) Decision {
	d := g.decide(req)

	outcome := model.OutcomeAllowed
	decision := "allow"
	if !d.Allowed {
		outcome = model.OutcomeDenied
		decision = "deny"
	}
	g.metrics.IncrementAuthz(string(req.Operation), string(req.Origin), decision)

	if g.recorder != nil {
		g.recorder.Record(ctx, model.AuditEntry{
			EntityType:  model.EntityAuthz,
			EntityID:    req.ActorID,
			Action:      string(req.Operation),
			Outcome:     outcome,
			Reason:      d.Reason,
			ActorID:     req.ActorID,
			OriginClass: string(req.Origin),
			RequestID:   req.RequestID,
		})
	}
	return d
}

func (g *Gate) decide(req Request) Decision {
	if req.Role == "" || req.ActorID == 0 {
		return deny(ReasonUnauthenticated)
	}

	rule, ok := g.rules[req.Operation]
	if !ok {
		return deny(ReasonUnknownOperation)
	}

	// State changes are LAN only whatever the rule says.
	if !slices.Contains(rule.Origins, req.Origin) || (req.Operation.Mutating() && req.Origin != model.OriginLAN) {
		return deny(ReasonOriginNotPermitted)
	}

	if !model.ValidRole(req.Role) || !slices.Contains(rule.Roles, req.Role) {
		return deny(ReasonRoleNotPermitted)
	}

	if rule.RequireDevice && !g.deviceAllowed(req.DeviceAddr, req.DeviceID) {
		return deny(ReasonDeviceNotAuthorized)
	}

	scope := ScopeFull
	if req.Origin == model.OriginVPNRemote && slices.Contains(rule.VPNSelfRoles, req.Role) {
		scope = ScopeSelf
	}
	return Decision{Allowed: true, Scope: scope}
}

func (g *Gate) deviceAllowed(addr netip.Addr, identity string) bool {
	if !addr.IsValid() || identity == "" {
		return false
	}
	addr = addr.Unmap()
	for _, d := range g.devices {
		if d.Identity == identity && d.Prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason, Scope: ScopeNone}
}
