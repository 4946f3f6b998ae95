// Package harness runs command scenarios against a real data layer and
// dispatcher and checks that the outcome does not depend on load order.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	commands:
//	  - [set, client_id, abc]
//	  - [config, recorder, {persist_time: 10}, recorder, {}]
//	  - [event, page_view, {page_path: /}]
//	  - ["", {page_title: Home}]       # model update
//	assertions:
//	  - type: trace_contains
//	    call: save
//	    fields: {key: client_id, ttl: 10}
//	  - type: trace_order
//	    calls: [save, process_event]
//	  - type: trace_count
//	    call: process_event
//	    count: 1
//	  - type: model
//	    key: page_title
//	    value: Home
//	  - type: logged_errors
//	    count: 0
//
// # Registry
//
// Each run resolves names against a clone of the default registry with:
//
//	recorder          processor and storage that record every call
//	memory, sqlite    the built-in storages
//	googleAnalytics   replaced by a copy with sequential client ids and a
//	                  sender that records hits instead of logging them
//
// The recorder processor reads its behavior from construction options:
// persist_time (the TTL PersistTime returns, default -1) and name (when
// set, the processor implements measure.Namer with that name). The recorder
// storage keeps values in memory under a frozen clock.
//
// # Orders
//
// OrderSnippetFirst pushes every command and then installs the dispatcher;
// OrderSetupFirst installs first. RunBoth runs both and fails if the traces
// differ.
package harness
