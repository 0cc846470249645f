/*
Package ports defines the driven ports (interfaces) for the Blueflow engine.

These interfaces decouple the state machine from the messaging platform, the
database, the attachment store and optional policy hooks, so each can be swapped
without touching the flow logic.

# Key Interfaces

  - Behavior: the executable logic bound to a node type (Enter / Handle).
  - Messenger / Poller: outbound and inbound calls to the messaging platform.
  - PersistenceBackend: ChatState, Context, KV log, attachments and message log.
  - StorageBackend: durable attachment bytes.
  - Moderator: optional content check for free-text input.
  - DistributedLocker: cross-replica per-chat mutual exclusion.
*/
package ports
