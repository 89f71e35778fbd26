// Package normalize extracts the corrected fragment from raw model output and
// repairs table and multiple-choice spacing.
//
// Extraction is an ordered pipeline of independent stages, see [Clean]:
//   - [StripFences] removes a leading and a trailing fenced-code-block line
//   - [StripPreamble] drops leading "The corrected text is as follows:" lines
//   - [ExtractEcho] keeps the last text between the fragment markers when the model echoed the prompt
//   - [ExtractAnswer] keeps what follows the last answer marker
//   - [ScrubMarkers] removes any remaining delimiter markers
//
// [SpaceTables] and [SpaceOptions] then insert blank lines around Markdown
// table blocks and before option blocks. Every function is deterministic and
// idempotent; [Normalize] chains them all.
package normalize
