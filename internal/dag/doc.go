// Package dag is a small, concurrency-safe directed graph used to record the
// data-flow between pipeline actions: an edge from A to B means B consumes
// an artifact that A produces.
//
// Stage ordering already rules out cycles for validated pipelines, so the
// graph is mainly queried for upstream closure (which actions can influence
// a given action) by the self-mutation independence check.
package dag
