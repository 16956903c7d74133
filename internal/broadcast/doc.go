// Package broadcast delivers one message to every member of a guild chat
// as direct messages, under strict pacing.
//
// # Pacing
//
// Delivery is paced by a fixed per-message delay, and a long cooldown is
// inserted every time a batch of attempts reaches the batch limit. A job
// for a few thousand recipients legitimately runs for hours; jobs execute
// on a dedicated worker so command handling stays responsive throughout.
//
// # Modes
//
// ModeSingle walks the recipient list once and attempts every non-bot
// delivery unconditionally. ModeExhaustive repeats passes over the same
// list until every non-bot recipient has been covered, skipping anyone
// whose recent direct-message history already contains the exact text.
//
// # Delivery semantics
//
// Best effort. Per-recipient failures (closed DMs, deactivated accounts)
// are recorded and never abort the job. Progress is not persisted; a
// restart loses in-flight jobs.
package broadcast
