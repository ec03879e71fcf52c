//go:build tools
// +build tools

// Package tools documents development tool dependencies.
// These tools are run via `go run` or installed globally and are not
// runtime dependencies.
package tools

// Development tools:
//
// mockgen - Mock generation for core repository ports
//   Run: go generate ./internal/mocks
//   Version: v0.6.0 (pinned in the go:generate directives)
//   Docs: https://github.com/uber-go/mock
