// Copyright (c) Rehearsed Authors.
// Licensed under the MIT License.

// Package api holds the request and response types of the Rehearsed HTTP API.
//
// # API Overview
//
//   - /agent: start a session, run a text or audio turn, request feedback,
//     replay a conversation, open a live WebSocket session
//   - /scenario: list scenarios, read and switch the active scenario
//   - /session: create and list sessions per user
//   - /admin: CRUD over agents, scenarios and sub-agent links (JWT role admin)
//
// Request bodies use snake_case keys. Every HTTP response is wrapped in the
// envelope written by api/handlers:
//
//	{"success": true, "data": {...}, "timestamp": "..."}
package api
