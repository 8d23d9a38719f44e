/*
Package pipeline is the definition-time model of a delivery pipeline: an
ordered list of stages, each holding actions that read and write named
artifacts.

A Spec is plain data, usually produced by the HCL loader or by the
self-mutation planner. Build turns it into a *Pipeline, which is immutable:
every accessor returns a copy, and there is no way to add or remove stages,
actions, or artifacts after construction. Only artifact locations and export
values are run-time facts; they live in the resolve and exports packages and
are never written back here.

Build enforces the structural rules of the model:

  - an action reads only artifacts produced in a strictly earlier stage, so
    actions of one stage can never observe each other's outputs;
  - every artifact name is produced exactly once per pipeline;
  - a deploy action's template and its parameter bindings count as reads
    and obey the same rule;
  - a parameter or environment name is assigned at most once per action.

Action kinds are a tagged variant (ActionKind) rather than a type hierarchy:
the kind decides which optional parts of the spec (build specification,
deploy target, bindings, deferred references) are required or allowed.
*/
package pipeline
