package page

import "github.com/bnclabs/leanbtree/latch"

// Mode selects how a Guard holds its page (spec §4.1).
type Mode int

const (
	Optimistic Mode = iota
	Shared
	Exclusive
)

// Guard is a scoped handle over one page's latch. Go has no destructor
// hook, so where the source relies on destructor-time validation
// (spec §9's redesign note on "scoped page guards"), Guard instead requires
// the caller to explicitly call Close (typically via defer) or Kill; Close
// validates unless the guard has already been killed or upgraded/downgraded
// away, and returns a latch.Restart if validation fails.
type Guard struct {
	page     *Page
	mode     Mode
	observed uint64
	done     bool
}

// NewRoot acquires the tree root with no parent to couple against.
func NewRoot(root *Page, mode Mode) (*Guard, error) {
	return acquire(root, mode)
}

func acquire(p *Page, mode Mode) (*Guard, error) {
	switch mode {
	case Optimistic:
		return &Guard{page: p, mode: mode, observed: p.Latch.OptimisticRead()}, nil
	case Shared:
		observed, ok := p.Latch.AcquireShared()
		if !ok {
			return nil, latch.Restart{Reason: "shared: write-locked"}
		}
		return &Guard{page: p, mode: mode, observed: observed}, nil
	case Exclusive:
		observed, ok := p.Latch.TryAcquireExclusive()
		if !ok {
			return nil, latch.Restart{Reason: "exclusive: contended"}
		}
		return &Guard{page: p, mode: mode, observed: observed}, nil
	}
	panic("page: unknown guard mode")
}

// NewChild performs lock coupling (spec §4.1): validate the parent, follow
// child, acquire it in mode, then re-validate the parent once. The parent
// guard is left open; the caller closes it once the coupling step it
// protects has completed (typically right after this call returns, for an
// optimistic descent, or held across the whole operation for a pessimistic
// one).
func NewChild(parent *Guard, child *Page, mode Mode) (*Guard, error) {
	if !parent.stillValid() {
		return nil, latch.Restart{Reason: "lock coupling: parent invalid before descent"}
	}
	cg, err := acquire(child, mode)
	if err != nil {
		return nil, err
	}
	if !parent.stillValid() {
		cg.Kill()
		return nil, latch.Restart{Reason: "lock coupling: parent invalid after descent"}
	}
	return cg, nil
}

func (g *Guard) stillValid() bool {
	switch g.mode {
	case Exclusive:
		return true // holder owns the latch outright until release
	default:
		return g.page.Latch.Validate(g.observed)
	}
}

// Page exposes the guarded page. Callers must not use it after Close/Kill.
func (g *Guard) Page() *Page { return g.page }

// Mode reports the current acquisition mode.
func (g *Guard) Mode() Mode { return g.mode }

// Validate re-checks an optimistic or shared guard against concurrent
// writers without releasing it. Exclusive guards always validate true.
func (g *Guard) Validate() bool { return g.stillValid() }

// Upgrade moves a Shared or Optimistic guard to Exclusive. On failure the
// guard is left unusable and the caller must restart.
func (g *Guard) Upgrade() error {
	if g.mode == Exclusive {
		return nil
	}
	if !g.page.Latch.TryUpgrade(g.observed) {
		g.done = true
		return latch.Restart{Reason: "upgrade: contended"}
	}
	g.mode = Exclusive
	return nil
}

// Downgrade moves an Exclusive guard to Shared, releasing the write bit.
func (g *Guard) Downgrade() {
	if g.mode != Exclusive {
		return
	}
	g.observed = g.page.Latch.Downgrade()
	g.mode = Shared
}

// Kill releases the guard without validating it — used when the caller
// already knows the page was structurally mutated and a restart is coming
// via a different path, or when discarding a guard produced mid-coupling.
func (g *Guard) Kill() {
	if g.done {
		return
	}
	g.done = true
	if g.mode == Exclusive {
		g.page.Latch.ReleaseExclusive()
	}
}

// Close validates (for Optimistic/Shared) or releases (for Exclusive) the
// guard. It is idempotent. Call it via defer at every restart boundary.
func (g *Guard) Close() error {
	if g.done {
		return nil
	}
	g.done = true
	switch g.mode {
	case Exclusive:
		g.page.Latch.ReleaseExclusive()
		return nil
	default:
		if !g.page.Latch.Validate(g.observed) {
			return latch.Restart{Reason: "close: validation failed"}
		}
		return nil
	}
}
