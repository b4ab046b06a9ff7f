// Package mocks provides shared test doubles for the orchestrator's
// external edges: the status querier and the notification publisher.
// Mocks live here rather than in the packages under test to keep them
// reusable across test packages without import cycles.
package mocks
