// Package workspace is the authorization model: workspaces with roled members,
// channels whose membership is a subset of their workspace's, and invite codes.
//
// Predicates in policy.go are pure functions over loaded values. Service loads
// state from a Store, applies them, and performs mutations. Every membership
// mutation that depends on current state (add-if-absent, role change, removal,
// adding to a channel) is executed atomically inside the Store so concurrent
// requests cannot break the invariants:
//
//   - the creator of a workspace is its first admin;
//   - a workspace always keeps at least one admin;
//   - a user is a workspace member at most once;
//   - channel members are always workspace members.
package workspace
