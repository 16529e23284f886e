// Package audio is the playback runtime for agent speech. It wraps a single
// process-wide oto context and hands out streams that accept PCM chunks as
// they arrive from the voice engine.
package audio
