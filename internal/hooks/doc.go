// Package hooks delivers task events to externally registered webhooks and
// aggregates the votes of pre hooks into a single gate decision.
//
// # Architecture
//
// A gate evaluation fans out to every enabled pre hook of an organization that
// subscribes to the event. Deliveries run concurrently, each under its own
// deadline, bounded by a shared concurrency limit. A hook that cannot be
// reached votes allow (fail-open) and has its consecutive failure count
// incremented; at the failure threshold the hook is disabled until an
// administrator re-enables it.
//
// Only hooks registered with can_block may deny. A deny from any other hook is
// recorded in the audit trail and otherwise ignored.
//
// # Webhook Contract
//
//	POST <hook url>
//	Content-Type: application/json
//	X-Hook-Event: task.complete
//	X-Hook-Delivery: <uuid>
//	X-Hook-Signature: sha256=<hex hmac of body>   // only when a secret is set
//
//	{
//	  "event": "task.complete",
//	  "timestamp": "2026-01-02T15:04:05.123456789Z",
//	  "data": { "task": { ... }, "from": "review", "to": "done", ... }
//	}
//
// Response (2xx):
//
//	{
//	  "allow": true | false,   // defaults to true when absent
//	  "reason": "..."
//	}
package hooks
