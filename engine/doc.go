// Copyright (c) Rehearsed Authors.
// Licensed under the MIT License.

/*
Package engine executes agent graphs.

# Overview

A Node tree describes named agents and how their children compose (LLM,
SEQUENTIAL, PARALLEL). A Runner drives one request/response turn over the
tree and yields an ordered, single-use sequence of Events, or opens a duplex
live session for streaming audio and text.

# Core types

  - Node, Tool: the executable graph produced by the agent builder.
  - Event, Content, Part: output units tagged with their author.
  - Session, SessionService: the conversation log a turn reads and appends to.
  - Runner, LiveSession: execution surface consumed by the dispatcher and
    the streaming driver.
  - InProcessRunner: executes the tree over a Model; PARALLEL children run in
    goroutines whose events are merged in consumption order.
*/
package engine
