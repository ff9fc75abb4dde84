// Package deferred provides a resolve-once result container that bridges
// blocking and callback-style consumers.
//
// A Deferred starts pending and transitions exactly once to either a value
// or an error. Blocking callers use Await or AwaitContext; non-blocking
// callers register a continuation with OnResolve, which always runs on its
// own goroutine so resolution never re-enters the caller's stack.
//
// Usage
//
//	d := deferred.New[string]()
//	go func() { d.Resolve("item-uuid") }()
//	v, err := d.Await(5 * time.Second)
package deferred
