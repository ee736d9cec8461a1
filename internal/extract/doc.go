// Package extract recovers a canonical analysis.Record from raw model output.
//
// Normalization is total. A payload that matches the canonical schema exactly
// is accepted as a Strict result. Anything else goes through fallback
// extraction: an embedded JSON object is mined for keys first, then the
// remaining text is scanned line by line for field labels ("Risk Level:",
// "**Recommendations**", "## Risks"). Each candidate label is resolved against
// a configurable synonym table, exactly or by fuzzy similarity above a
// threshold. Labels that resolve to nothing are recorded as schema drift and
// dropped.
//
// The synonym table, similarity function, acceptance threshold, and
// duplicate-label policy are all options so they can be tuned against the
// golden set (see Evaluate) instead of being fixed in code.
package extract
