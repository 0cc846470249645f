/*
Package domain contains the core domain models of the Blueflow conversation engine.

It defines the flow graph, the per-chat records owned by persistence, the normalised
inbound update and the Verdict a behavior returns for one turn. This package is kept
pure and free of external dependencies like I/O or persistence, following Hexagonal
Architecture principles.

# Key Entities

  - FlowGraph / Node: the declared conversation, keyed by integer node id.
  - ChatState: where a chat currently is and how many attempts it made there.
  - Context: an optional versioned key-value document per chat.
  - KVEntry, Attachment, Message: the durable answer log, stored uploads and audit trail.
  - Update / OutboundMessage: platform-neutral inbound and outbound messages.
  - Verdict: Advance, Retry or Terminal.
*/
package domain
