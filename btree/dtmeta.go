package btree

import "github.com/bnclabs/leanbtree/page"

// IterateChildren implements api.DTMeta.IterateChildren. This tree keeps a
// single leaf level addressed by an in-memory directory rather than a
// paged inner-node hierarchy (see the package doc comment in tree.go), so
// no page has children to walk.
func (t *Tree) IterateChildren(page.ID, func(page.ID) bool) {}

// FindParent implements api.DTMeta.FindParent. Same reason as
// IterateChildren: there is no parent page to report.
func (t *Tree) FindParent(child page.ID) (parent page.ID, ok bool) { return 0, false }

// Serialize implements api.DTMeta.Serialize. This tree has no persisted
// on-disk metadata of its own to checkpoint (spec §1's persistence is an
// external collaborator concern); it returns nil.
func (t *Tree) Serialize() []byte { return nil }

// Deserialize implements api.DTMeta.Deserialize, the inverse of Serialize.
func (t *Tree) Deserialize([]byte) {}
