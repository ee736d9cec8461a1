// Package analysis defines the canonical legal-risk record produced for every
// submitted document, the wire schema the model is asked to emit, the single
// prompt that requests it, and the narrative brief that seeds conversation.
//
// Records are value types. Slices are always non-nil so consumers only check
// for emptiness, never for presence.
package analysis
