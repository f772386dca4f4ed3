// Package reconcile diffs desired CSV state against observed remote state
// and applies the resulting change set.
//
// A pass is stateless and convergent: each run recomputes the full change
// set from scratch, so re-running against converged state yields an empty
// change set. Removals are applied before additions and updates so that
// identity-key reuse within one CSV resolves unambiguously.
package reconcile
