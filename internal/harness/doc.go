// Package harness runs scenario files against the engine.
//
// A scenario names a definition file, a cast of users, the resources to
// create up front and a list of steps. Each step runs one engine operation
// as one user and may state what it expects: success, the error messages,
// the resulting state, which fields are visible, which actions are
// allowed. Assertions at the end check the final store, the emails sent
// and the recorded history.
//
// Every run starts from an empty in-memory store. Resource uids are the
// aliases given in the scenario, history timestamps come from a
// deterministic clock and emails are captured by a recorder, so the same
// scenario always produces the same trace. RunWithGolden compares that
// trace against a golden file:
//
//	go test ./internal/harness -update
//
// regenerates the golden files.
//
// Scenario format:
//
//	name: document_review
//	description: An author submits a document and a reviewer approves it.
//	definition: ../definitions/document.jsonc
//	users:
//	  alice: {roles: [author]}
//	  rita: {roles: [reviewer]}
//	resources:
//	  - alias: doc
//	    type: Document
//	    data: {title: Plan, text: Draft}
//	steps:
//	  - as: alice
//	    perform: {resource: doc, action: sendForReview}
//	    expect: {success: true, state: reviewing}
//	  - as: rita
//	    describe: doc
//	    expect: {allowed: [approve, returnForRevisions]}
//	assertions:
//	  - type: final_state
//	    resource: doc
//	    state: reviewing
package harness
