// Package server implements the pipelining responder on top of the reactor.
//
// A Listener accepts clients and hands each one to a Conn. Every readable
// event is one read(2); complete requests in that read are counted and
// answered with a single write of precomputed replies. When more requests
// arrive in one read than the configured pipeline depth allows, all of
// them get a 400 reply and the connection is closed once that reply is
// flushed.
//
// All handlers run on the goroutine that called Serve.
package server
