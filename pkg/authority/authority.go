// Package authority implements the capability table that gates
// privileged operations. Authorization is an explicit
// operation → identity-set mapping checked at the start of every gated
// operation; there is no role inheritance. Ownership of a principal's
// own records is enforced separately by the owning component — this
// table covers cross-component capabilities only.
package authority

import (
	"sync"

	"github.com/covenantlabs/covenant/pkg/fault"
)

// Operation names a gated capability.
type Operation string

const (
	// OpTrigger flips an intent's triggered flag. Held only by the
	// registered trigger coordinator identity.
	OpTrigger Operation = "intent.trigger"

	// OpIndex writes to the resolution keyword index and cache. Held
	// by the role-gated off-chain indexer identities.
	OpIndex Operation = "resolution.index"

	// OpActivate activates the execution engine once an intent has
	// triggered.
	OpActivate Operation = "execution.activate"

	// OpSunset invokes the orderly (non-emergency) sunset path. Held
	// by the sunset coordinator. The emergency path is permissionless
	// and never consults this table.
	OpSunset Operation = "execution.sunset"

	// OpRecover performs post-sunset emergency fund recovery.
	OpRecover Operation = "execution.recover"
)

// Table maps operations to the identities allowed to perform them.
type Table struct {
	mu     sync.RWMutex
	grants map[Operation]map[string]struct{}
}

// NewTable returns an empty capability table. An empty table denies
// every gated operation.
func NewTable() *Table {
	return &Table{grants: make(map[Operation]map[string]struct{})}
}

// Grant allows identity to perform op. Idempotent.
func (t *Table) Grant(op Operation, identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.grants[op]
	if !ok {
		set = make(map[string]struct{})
		t.grants[op] = set
	}
	set[identity] = struct{}{}
}

// Revoke removes identity's capability for op.
func (t *Table) Revoke(op Operation, identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if set, ok := t.grants[op]; ok {
		delete(set, identity)
	}
}

// Allowed reports whether identity holds op.
func (t *Table) Allowed(op Operation, identity string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set, ok := t.grants[op]
	if !ok {
		return false
	}
	_, ok = set[identity]
	return ok
}

// Require returns a Precondition fault unless identity holds op.
// The fault names the calling operation, not the capability, so the
// caller's error reads naturally.
func (t *Table) Require(callerOp string, op Operation, identity string) error {
	if !t.Allowed(op, identity) {
		return fault.Preconditionf(callerOp, "identity %q not authorized for %s", identity, op)
	}
	return nil
}
