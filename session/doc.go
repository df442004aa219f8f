// Copyright (c) Rehearsed Authors.
// Licensed under the MIT License.

// Package session persists conversation sessions and replays them.
//
// Store keeps session headers and an append-only event log in the relational
// database and implements engine.SessionService. ConversationService projects
// a session log into the turns the client renders.
package session
