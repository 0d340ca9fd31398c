// Package crawler defines the data model shared by the frontier scheduler:
// crawl candidates, fetched content, pending-store entries, and the
// collaborator interfaces (pending store, content replay, language
// detection) that the host crawler supplies.
package crawler
