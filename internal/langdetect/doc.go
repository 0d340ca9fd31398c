// Package langdetect adapts language detection for the cost policies: it
// extracts visible text from fetched pages and reports detected languages
// ordered by how much of the text they cover.
package langdetect
