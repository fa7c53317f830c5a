// Package graph holds the canvas node/edge model and the structural rules that
// keep it consistent: containment through parent ids, no dangling edges, and
// reconnection of pass-through flow when a middle node is removed.
package graph
