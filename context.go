package relgraph

import (
	"log"
	"net"
	"sync"

	"github.com/relgraph/relgraph/internal/model"
	"github.com/relgraph/relgraph/internal/validate"
)

// Scope is the explicit tenant/actor context threaded through every engine
// call: the specification's session/transaction configuration variables,
// re-architected as a plain value instead of ambient state. A zero Scope
// (empty Namespace) means "tenant context absent": reads return empty
// results, writes fail, exactly as if the data were invisible.
type Scope = model.Scope

// NewScope returns a Scope bound to namespace with no actor tagging. It
// validates the namespace shape and returns an error if it's malformed.
func NewScope(namespace string) (Scope, error) {
	if err := validate.Namespace(namespace); err != nil {
		return Scope{}, toValidationError(err)
	}
	return model.NewScope(namespace), nil
}

// withActorValidated returns a copy of s tagged with actor-context fields
// used to enrich audit events. ip, if non-empty, must parse as an IP
// address. A free function, not a method, because Scope is a type alias
// for model.Scope and new methods can't be attached to an aliased type
// from another package.
func withActorValidated(s Scope, actorID, requestID, reason, ip, userAgent string) (Scope, error) {
	if ip != "" && net.ParseIP(ip) == nil {
		return s, newValidationError(ErrorCodeInvalidParameterValue, "ip: must be a valid IP address")
	}
	return s.WithActor(actorID, requestID, reason, ip, userAgent), nil
}

// Session holds a transaction- or session-local active tenant/actor
// context, mirroring the specification's set_tenant/set_actor key-value
// stores (§4.1). Engine accepts an explicit Scope on every call; Session is
// a convenience for callers who want ambient binding instead, and is safe
// for concurrent use.
type Session struct {
	mu    sync.RWMutex
	scope Scope
	bound bool
}

// NewSession returns an empty Session with no tenant bound.
func NewSession() *Session { return &Session{} }

// SetTenant binds the active namespace for subsequent calls on this
// session. id must pass namespace validation.
func (s *Session) SetTenant(id string) error {
	if err := validate.Namespace(id); err != nil {
		return toValidationError(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scope.Namespace = id
	s.bound = true
	return nil
}

// ClearTenant unbinds the active namespace; subsequent calls fail closed.
func (s *Session) ClearTenant() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scope = Scope{}
	s.bound = false
}

// SetActor tags the session with actor-context fields for audit
// enrichment. Empty strings normalize to absent. ip, if non-empty, must
// parse as an address.
func (s *Session) SetActor(actorID, requestID, reason, ip, userAgent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scope, err := withActorValidated(s.scope, actorID, requestID, reason, ip, userAgent)
	if err != nil {
		return err
	}
	s.scope = scope
	return nil
}

// ClearActor removes actor tagging but leaves the tenant binding intact.
func (s *Session) ClearActor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scope = model.NewScope(s.scope.Namespace)
}

// Scope returns the session's current scope. If no tenant is bound, the
// returned Scope is empty and callers should treat it as tenant-absent.
func (s *Session) Scope() Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scope
}

// ResolveScope reconciles an explicit namespace parameter (as every
// external API call accepts, per the external interface contract) against
// the session's ambient tenant, warning when they disagree since the
// result would otherwise silently be empty (§7, error kind 5).
func (s *Session) ResolveScope(explicitNamespace string) Scope {
	scope := s.Scope()
	if explicitNamespace == "" {
		return scope
	}
	if scope.Namespace != "" && scope.Namespace != explicitNamespace {
		log.Printf("relgraph: WARNING: explicit namespace %q disagrees with active tenant %q; results will be empty", explicitNamespace, scope.Namespace)
		return Scope{}
	}
	scope.Namespace = explicitNamespace
	return scope
}

func toValidationError(err error) error {
	if ve, ok := err.(*validate.Error); ok {
		code := ErrorCodeInvalidParameterValue
		switch ve.Reason {
		case validate.ReasonNull, validate.ReasonEmpty:
			code = ErrorCodeNullValueNotAllowed
		case validate.ReasonTooLong:
			code = ErrorCodeStringDataRightTruncation
		}
		return newValidationError(code, ve.Message)
	}
	return err
}
