/*
Package domain contains the core value types and sentinel errors of the diffusion service.

It is kept free of I/O so that the engine, the session protocol and every adapter
share one vocabulary for schedules, sampling modes and failures.

# Key Entities

  - ScheduleKind: the beta schedule family (linear or cosine).
  - SampleMode: closed-form ("fast") or chain-replay ("iterative") sampling.
  - Metrics: SSIM and cosine similarity of a frame against the original.
  - ScheduleSnapshot: the diagnostic copy of the last built schedule.
  - ConfigError: a client-caused validation failure naming the offending field.
*/
package domain
