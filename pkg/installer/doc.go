// Package installer installs packages through pip or npm with mirror
// failover.
//
// For each requested package an [Installer] first looks for a matching
// artifact in the local cache and installs it offline. On a miss it asks the
// selector for the best source, downloads the artifact from that mirror and
// hands the local file to the package manager. Failures are classified by
// [Classify]:
//
//   - transient: retried on the same source with exponential backoff
//   - source: the source is marked failed and the next candidate is tried
//   - terminal: reported at once, no other source is asked
//   - conflict: the package manager output is kept for conflict analysis
//
// Successfully installed artifacts are written back to the cache, so a
// second install of the same pinned version makes no network requests.
package installer
