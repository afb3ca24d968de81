package taptree

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Stakeholder is one leaf contributor to the shared-coin tree: a
// stakeholder's amount and their FrozenReceiver redeem-leaf script.
type Stakeholder struct {
	Amount      int64
	PubKey      [32]byte
	LeafScript  []byte
}

// SharedCoinTree assembles the shared pool output's Taproot tree (spec §4.2
// point 3, §9 design note): one FrozenReceiver leaf per stakeholder plus
// one ASP CSV claim leaf, keyed by the unspendable hPoint internal key.
//
// The spec leaves the tree-shaping primitive ("sharedCoinTree") outside its
// own scope, with the contract that the same ordered stakeholder list must
// always produce identical Merkle roots and leaf paths on both the builder
// and validator side. This implementation orders stakeholders by descending
// amount, with a stable tiebreak on the stakeholder's pubkey bytes so the
// ordering is a pure function of the input list, appends the ASP claim leaf
// last, and hands that leaf list to txscript.AssembleTaprootScriptTree,
// which builds a balanced tree from adjacent leaf pairs: a leaf's depth
// follows its list position and is not weighted by amount — see DESIGN.md
// for the corresponding Open Question resolution.
func SharedCoinTree(hPoint *btcec.PublicKey, stakeholders []Stakeholder, aspClaimLeaf []byte) (Tree, error) {
	if len(stakeholders) == 0 {
		return Tree{}, fmt.Errorf("taptree: shared-coin tree requires at least one stakeholder")
	}

	ordered := append([]Stakeholder(nil), stakeholders...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Amount != ordered[j].Amount {
			return ordered[i].Amount > ordered[j].Amount
		}
		return bytes.Compare(ordered[i].PubKey[:], ordered[j].PubKey[:]) < 0
	})

	leafScripts := make([][]byte, 0, len(ordered)+1)
	for _, s := range ordered {
		leafScripts = append(leafScripts, s.LeafScript)
	}
	leafScripts = append(leafScripts, aspClaimLeaf)

	return assemble(hPoint, leafScripts)
}
