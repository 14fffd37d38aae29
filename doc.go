/*
Package diffuse previews the forward (noising) process of denoising diffusion models.

Given an image and a beta schedule, it produces the noised image at any timestep, either
with the O(1) closed form or by replaying the Markov chain, and can walk the whole chain
once as a lazy frame sequence. The same engine backs a CLI, a REST API and a WebSocket
stream that emits progressively noisier previews.

# Usage

	eng, err := diffuse.New(pngBytes, 100,
		diffuse.WithSchedule(domain.ScheduleCosine),
		diffuse.WithSeed(42),
	)
	if err != nil {
		log.Fatal(err)
	}

	// Random access for a slider.
	frame, err := eng.FastSampleAt(57)

	// Sequential preview, one pass over the chain.
	for frame, err := range eng.Frames().All(ctx) {
		...
	}

# Layout

  - pkg/schedule: linear and cosine beta schedules with derived arrays.
  - pkg/codec: image decode, resize and encode.
  - pkg/engine: closed-form, iterative and streamed sampling.
  - pkg/session: the WebSocket streaming protocol.
  - pkg/service: one-shot and interactive requests.
  - pkg/adapters: HTTP, WebSocket, Redis and in-memory adapters.
*/
package diffuse
