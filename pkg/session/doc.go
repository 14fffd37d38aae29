/*
Package session streams the forward-diffusion chain of one image over one connection.

A Session reads a start message, builds an engine through the service layer and then
runs two cooperative goroutines on the same connection: a producer that walks the frame
stream and emits every preview_every-th frame, and a listener that waits for a cancel
command. Cancellation is honored between frames; frames already sent are never retracted
and nothing but the acknowledgment follows a cancel.

A Registry tracks running sessions for diagnostics and cancels them on shutdown.
*/
package session
