/*
Package observability exposes Prometheus metrics for the diffusion service.

Metrics is nil-safe, so library users that do not care about metrics can pass nil.

# Collectors

  - diffuse_sessions_active / diffuse_sessions_finished_total{outcome}
  - diffuse_frames_produced_total / diffuse_frames_emitted_total
  - diffuse_frame_encode_seconds, diffuse_sample_seconds{mode}
  - diffuse_http_requests_total{route,code}
*/
package observability
