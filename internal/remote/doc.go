// Package remote implements clients for the external relevance classifier
// and the sibling reordering service. Both speak form-encoded POST requests
// and answer with {"ok": ...} or {"err": "..."} JSON envelopes.
package remote
