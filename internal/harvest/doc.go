// Package harvest implements the crawl pipeline for the results archive:
// discovery of the expected resource tree into a persisted manifest, and
// resumable batch fetching of outstanding leaves under an adaptive
// concurrency governor.
package harvest
