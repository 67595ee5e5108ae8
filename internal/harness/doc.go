// Package harness runs conformance scenarios against the full update path.
//
// A scenario names a CUE program and a P4Info file, then lists steps. Each
// step either submits a batch of facts or injects a digest list on the
// switch stream. Steps run through a real controller and engine backed by
// an in-memory store; the switch is a testutil.FakeSwitch, so every table
// write is encoded exactly as it would be sent.
//
// The harness records a trace of submitted updates, digest items, table
// writes and step errors, plus the final contents of every output relation.
// Assertions check the trace and final state; RunWithGolden compares the
// trace against testdata/golden.
//
// Scenario format:
//
//	name: l2_learning
//	description: learned MACs become dmac entries
//	program: ../programs/l2.cue
//	p4info: ../p4info/l2.p4info.txt
//	digest:
//	  name: learn_t
//	steps:
//	  - submit:
//	      - insert: Learned
//	        value: {mac: 5, port: 3}
//	  - digest:
//	      items: [[6, 4], [7, 4]]
//	assertions:
//	  - type: write_count
//	    count: 3
//
// Paths are relative to the scenario file.
package harness
