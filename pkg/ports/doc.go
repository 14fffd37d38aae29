/*
Package ports defines the driven ports (interfaces) of the diffusion service.

These interfaces decouple the engine and session logic from transports and storage.

# Key Interfaces

  - ScheduleSlot: best-effort store of the last built schedule (memory or Redis).
  - Conn: a message connection carrying one streaming session (e.g. a WebSocket).
*/
package ports
