// Copyright (c) Rehearsed Authors.
// Licensed under the MIT License.

/*
Package agent assembles agent graphs from stored records and dispatches turns
against them.

# Overview

Agents are stored as flat rows scoped by scenario. On every scenario switch the
Registry loads all rows of the scenario in one read, builds each one into an
engine.Node tree with the Builder, and publishes the result with a single
atomic swap. The Dispatcher resolves a root by name, runs one turn through an
engine.Runner and folds the multi-author event stream into an AgentResponse.

	┌──────────────────┐   ListAgentRecords   ┌───────────────┐
	│ ScenarioService  │ ───── Rebuild ─────▶ │   Registry    │
	└──────────────────┘                      │ (atomic swap) │
	                                          └──────┬────────┘
	                                    Lookup       │
	                          ┌──────────────────────┴───────┐
	                          ▼                              ▼
	                   ┌────────────┐                 ┌────────────┐
	                   │ Dispatcher │                 │ streaming  │
	                   │  RunTurn   │                 │  OpenLive  │
	                   └────────────┘                 └────────────┘

# Build policies

  - Children are built in declared order; a node reachable twice gets two
    instances, a node that reaches itself fails with ErrAgentCycle.
  - LLM nodes carry instruction, model and tools; SEQUENTIAL and PARALLEL
    nodes carry children only.
  - BuildOptions.InlineCritique pairs every direct child of the root with a
    fresh inline feedback node under a PARALLEL wrapper.
  - Any build or capability error aborts the whole rebuild; the previous
    snapshot stays published.

# Turn folding

Final events from the inline feedback agent fill MarkdownText. Every other
final event with text replaces the primary answer and its author; an
escalation without content becomes "Agent escalated: <message>". A turn
without any final answer yields NoResponsePlaceholder.
*/
package agent
