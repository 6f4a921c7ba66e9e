// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the single-threaded readiness reactor: an epoll
// multiplexer that owns the dispatch table, and a Loop that waits for
// readiness and routes each event to the handler registered for its
// descriptor. Wait is the only blocking call; handlers run to completion on
// the loop goroutine.
package reactor
