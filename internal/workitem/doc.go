// Package workitem is the work item processing engine: the work item model
// and wire envelope, the processor registry, the lifecycle controller that
// gates when work may start, the per-item execution scope, and the consumer
// loop that ties them to a queue.
//
// # Flow
//
//	Consumer.Run
//	  -> ScopeManager.BeginScopeWhenReady   (blocks on the lifecycle gate)
//	  -> queue Receive                      (nil: close scope, sleep, retry)
//	  -> Registry.Decode                    (type tag read before payload)
//	  -> Scope.Initialize / Scope.Run       (processor, optional lock by sync key)
//	  -> Delete on success; leave for redelivery or delete as poison on failure
//	  -> Scope.Close                        (completion callback, exactly once)
//
// # Lifecycle
//
// ProcessorState is an explicit object shared by the loop and the scope
// manager. It holds a single-permit gate (a channel of capacity one), so at
// most one Scope is open per process. Start moves Initializing or Stopped to
// Working; RequestDrainAndStop moves Working to Stopping, and the in-flight
// scope's completion finishes the move to Stopped. InitializationFinished is
// the warm-up signal (Initializing to Stopped); Start is still required.
//
// # Retries
//
// Redelivery is driven entirely by the queue's dequeue count. A failed item
// is left undeleted while DequeueCount < MaxRetries and deleted as poison
// once it reaches MaxRetries. Cancellation never poisons a message.
package workitem
