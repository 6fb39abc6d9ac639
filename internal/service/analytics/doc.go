// Package analytics rolls tracking events up into time-bucketed counters.
//
// Every write goes through CounterStore.IncrementBucket, which must apply
// the increment atomically in the store. The service never reads a counter
// back before writing it.
//
// Store implementations live in repository/postgres/, repository/redis/,
// repository/dynamo/, repository/mongo/ and repository/memory/.
package analytics
