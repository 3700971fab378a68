// Package gatt models the GATT object tree a BLE peripheral exposes to its host
// stack: an Application owning Services, which own Characteristics, which own
// Descriptors.
//
// Ownership runs strictly downwards through ordered slices. Children refer to
// their parent by object path only, so the tree has no reference cycles while
// the host-facing enumeration can still name every parent.
//
// The tree is not safe for concurrent use. It is built once during startup and
// afterwards mutated only from the host event loop; producers hand work to that
// loop instead of touching objects directly.
//
// Value changes leave the tree through an explicit ValueNotifier call made by
// Characteristic.UpdateValue while notifications are enabled. Nothing is
// broadcast implicitly, which keeps the model testable without a host present.
package gatt
