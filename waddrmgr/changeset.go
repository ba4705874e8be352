// Copyright (c) 2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

// ChangeSet records the derivation indexes revealed by an Index.  Applying
// the same ChangeSet more than once has no further effect.
type ChangeSet struct {
	// LastRevealed maps each keychain to the highest revealed index.
	LastRevealed map[KeychainKind]uint32
}

// NewChangeSet returns an empty ChangeSet.
func NewChangeSet() ChangeSet {
	return ChangeSet{LastRevealed: make(map[KeychainKind]uint32)}
}

// IsEmpty returns true if the ChangeSet records nothing.
func (c ChangeSet) IsEmpty() bool {
	return len(c.LastRevealed) == 0
}

// Merge adds the contents of other into c, keeping the higher index for
// keychains present in both.
func (c *ChangeSet) Merge(other ChangeSet) {
	if len(other.LastRevealed) == 0 {
		return
	}
	if c.LastRevealed == nil {
		c.LastRevealed = make(map[KeychainKind]uint32)
	}

	for k, index := range other.LastRevealed {
		if cur, ok := c.LastRevealed[k]; ok && cur >= index {
			continue
		}
		c.LastRevealed[k] = index
	}
}
