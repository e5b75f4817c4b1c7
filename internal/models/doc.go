// package models defines the data model for do-not-play enforcement.
//
// The durable entities are [ActionBatch] and [ActionItem]; a batch is the unit
// of execution and idempotency, and is the sole owner of its items. Plans
// ([EnforcementPlan]) are ephemeral and converted into a batch for execution.
package models
