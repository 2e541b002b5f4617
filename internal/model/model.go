// Package model defines data structures for llmchat-memory.
//
// This package contains:
//   - Document: embeddable document with opaque context metadata
//   - SearchResult: scored search hit
//   - Config: server configuration
package model
