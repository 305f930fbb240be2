// Package language normalizes language codes for jobs and engines.
//
// Job configuration accepts BCP 47 tags or ISO 639 codes ("es", "spa",
// "pt-BR"); engines want the bare ISO 639-1 base. Parsing and display names
// come from golang.org/x/text.
package language
