// Package worker implements the caching proxy lifecycle: install populates the
// static cache from the manifest, activate reclaims caches from older
// generations and takes control, and Fetch routes every request through one of
// the strategy policies. All generation names and the manifest come from an
// explicit Config so several workers (or tests) can coexist in one process.
package worker
