// Package fixture stores recorded responses on disk and replays them.
//
// A fixture is keyed by (route, fingerprint). In overwrite mode each key is
// one JSON file that a later recording replaces whole. In cassette mode each
// route has one append-only JSONL file; entries for a fingerprint replay in
// sequence order, one per Get, until they run out.
//
// Layout under the store directory:
//
//	<route-slug>/<fingerprint>.json   overwrite mode
//	<route-slug>.jsonl                cassette mode
//
// Put does not return until the data has been fsynced. Files that cannot be
// read or decoded are reported as misses with a warning, never as errors.
//
// Cassette read cursors live in memory and start from the first entry each
// time the process starts.
package fixture
