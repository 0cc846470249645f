/*
Package registry binds node type names to behaviors and proves a flow graph is
well-formed before any traffic is served.

A Registry is an explicit instance owned by the composition root. Behaviors are
registered once at startup; validation runs once when the flow engine is built,
and any failure aborts startup.
*/
package registry
