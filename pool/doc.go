// Package pool
// Author: momentics <momentics@gmail.com>
//
// Memory layer for hioload-pipeline.
// Connections draw one fixed-size read buffer from a BufferPool when accepted,
// reuse it for every read, and hand it back when closed.
package pool
