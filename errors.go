package stm

import "errors"

// Sentinel errors, named and declared at package scope the way
// calvinalkan-agent-task/errors.go does. None of these ever escape a
// committed transaction (spec.md §7): errThreadExceeded and errNotEntered
// are returned by ThreadEnter and ThreadExit, and errNotRegistered is the
// message of the fatal panic BeginOp raises for an unregistered opcode.
var (
	errNotRegistered  = errors.New("stm: opcode not registered")
	errThreadExceeded = errors.New("stm: thread count exceeded")
	errNotEntered     = errors.New("stm: thread handle not entered")
)
