// Package audience manages the local audience catalogue and mirrors changes
// to the ad platform: custom and lookalike creation, edits, soft deletion
// and the insight roll-ups shown on the dashboard.
//
// Remote calls made while editing or deleting are best effort; the local row
// is the source of truth. Creation is the exception and fails when the
// platform refuses.
package audience
