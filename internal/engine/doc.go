// Package engine is the stage sequencer. It runs the stages of a validated
// pipeline strictly in order, the actions of each stage concurrently, and
// halts at the first stage that has a failed action.
//
// Outputs produced in a stage are committed to the artifact resolver only
// after every action of that stage has finished, so siblings never observe
// each other's outputs. Nothing already done is rolled back on failure.
package engine
