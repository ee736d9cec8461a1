// Package privacy replaces sensitive spans with placeholder tokens such as
// <PERSON_1> and records a bijective map so the substitution can be reversed
// exactly.
//
// Span detection is delegated to a Detector: the Presidio analyzer in
// production, a small pattern detector for development. Offsets are counted in
// runes, matching the analyzer's code point offsets.
package privacy
