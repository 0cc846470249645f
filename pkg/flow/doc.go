/*
Package flow runs a validated flow graph against inbound updates.

A Flow owns no connection of its own: every turn receives the Messenger to
reply through, so the same Flow serves long polling and webhooks alike.

Each turn runs under the chat's lock and follows one rule: the persisted
ChatState only changes once the behavior has produced a verdict, and the
change is written before the next node is entered. A failed or cancelled turn
therefore leaves the chat on its last committed node.
*/
package flow
