// Package review prepares and delivers the external AI review that follows
// the quality gates.
//
// The package never decides whether a review should happen; callers check
// orchestrator.AggregateOutcome.ReviewAllowed first. It only shapes data:
//
//   - BuildContext turns an outcome and an optional diff into bounded text.
//   - GitDiff collects staged (or else unstaged) changes.
//   - GitleaksScrubber redacts secrets before anything leaves the machine.
//   - CommandReviewer hands the payload to an external reviewer command and
//     returns its response as opaque text.
package review
