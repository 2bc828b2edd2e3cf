// Package logsink renders session activity into plain-text log blocks and
// manages the output channels they are written to.
//
// A Block carries ordered meta fields and one or more titled items. Append
// writes it to any Sink as:
//
//	2025-11-16T00:00:00Z
//	Meta:
//	  connection: [7@localhost:4222]
//	  subject: orders.created
//	Request:
//	  Headers:
//	    Trace-Id: abc
//	  Body:
//	    payload
//
// followed by a blank separator line.
//
// ChannelRegistry hands out one Channel per subject, shared between the keys
// that reference it and disposed when the last key releases it, plus a single
// main channel for one-shot requests and publishes.
package logsink
