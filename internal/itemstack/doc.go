// Package itemstack tracks the currently open item per execution context.
//
// Each context key owns an independent LIFO stack of open item handles; the
// top of a stack is the implicit target for logs and nested steps issued
// without an explicit item reference. Popping an empty stack is a usage
// error (a finish without a matching start) and is surfaced to the caller
// rather than panicking.
package itemstack
