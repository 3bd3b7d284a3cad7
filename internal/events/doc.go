// Package events implements the real-time event distribution hub using the actor pattern.
//
// The Hub owns the connection registry behind a single dispatch loop fed by a
// bounded command channel; broadcasts match envelope scopes against each
// connection's subscription set. Per-connection read/write goroutines handle
// subscription commands and drain bounded send queues, evicting slow clients
// rather than blocking the pass.
package events
