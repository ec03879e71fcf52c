// Package mocks provides generated mock implementations for the core
// repository ports, used where tests assert exact call expectations.
//
// Mocks are generated with go.uber.org/mock (gomock). To regenerate after
// interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	cache := mocks.NewMockCacheRepository(ctrl)
//	cache.EXPECT().Set(gomock.Any(), key, gomock.Any(), ttl).Return(nil)
package mocks

// Generate mock for CacheRepository interface from internal/core.
// This creates MockCacheRepository with methods:
// Set, Get, Delete, DeleteByPrefix, Health
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cache_repository_mock.go github.com/accesswatch/accesswatch/internal/core CacheRepository
