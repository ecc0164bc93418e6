// Package harness runs multi-site sync scenarios.
//
// A scenario declares a central site and any number of remote sites, each
// with its own in-memory database, then runs local writes and sync
// sessions against them in order and asserts on every site's final state.
// Remote sites talk to the central Hub in-process or, with
// transport: http, through the real HTTP client and server.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	transport: direct        # or http
//	max_attempts: 3          # optional quarantine limit
//	sites:
//	  - { id: central, role: central }
//	  - { id: north, role: remote }
//	steps:
//	  - site: central
//	    write: { table: unit, row: { id: u1, name: tablet, description: null, index: 1 } }
//	  - site: north
//	    sync: true
//	    expect: { state: FINISHED }
//	  - site: central
//	    push:
//	      from: north
//	      records: [{ table: unit, id: bad, action: UPSERT, data: { ID: bad }, sequence: 9 }]
//	    expect: { rejected: 0 }
//	  - site: central
//	    release: true
//	assertions:
//	  - { type: record, site: north, table: unit, id: u1, expect: { name: tablet } }
//	  - { type: absent, site: north, table: location, id: loc-south }
//	  - { type: buffer, site: central, quarantined: 1 }
//	  - { type: cursor, site: north, cursor: "pull:central", value: 4 }
//	  - { type: sessions, site: north, count: 1, state: FINISHED }
//
// # Determinism
//
// Sessions run with testutil.DeterministicClock and per-site sequential
// session ids ("north-1", "north-2", ...), so the step trace of a scenario
// is identical across runs and can be compared against a golden file with
// RunWithGolden.
package harness
