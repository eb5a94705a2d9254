// Package pipeline drives jobs through the clip lifecycle: created jobs are
// dispatched to a rendering provider, provider results move them to
// processed or trigger the single fallback dispatch, and processed clips are
// published to the hosting platform with bounded, backoff-spaced retries.
//
// There is no global lock. Every state change is a conditional transition in
// the store, so the dispatch loop, the publish loop, the sweep, and inbound
// callbacks can race freely; exactly one of them wins each edge and the rest
// become no-ops. Terminal transitions record the job's outcome against its
// idempotency key, mirror it to the ledger, and fan the result out.
package pipeline
