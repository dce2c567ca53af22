// Package satp and its sub-packages implement a gateway for the Secure Asset Transfer Protocol (SATP), moving assets
// between ledgers in cooperation with a counterparty gateway.
/*
A transfer involves two gateways: the client gateway, holding the asset on the sender network, and the server gateway,
serving the recipient network. They exchange signed messages in four stages:

0) the session is opened and both sides wrap the assets they will hold in custody.

1) the client proposes the transfer claims and the server accepts or rejects them.

2) the client locks the asset and sends the lock assertion.

3) the server mints the asset on the recipient network, the client burns it on the sender network and the server
 assigns the minted asset to the beneficiary.

Every message is canonically encoded, hashed with SHA-256 and signed with the secp256k1 key of its sender. Each message
carries the hash of the previous one, so a session holds a verifiable chain of the whole transfer.

Architecture

The protocol data model (package lib/satp) keeps, for each role a gateway plays in a session, the stored hashes,
signatures, timestamps and messages of every stage. The stage services (package gateway/stage) build and check the
messages of each stage for both roles and are served over gRPC (package gateway/rpc) with a JSON codec.

Ledgers are reached through a bridge layer (package lib/bridge) exposing wrap, unwrap, lock, unlock, mint, burn and
assign custody primitives. An in-memory ledger and an Ethereum ledger are provided; new ledger types can be added as
bridge leaves.

Every step is written to a local audit log (package lib/store) with memory, Redis, MongoDB and PostgreSQL backends, and
optionally published to a message broker (package lib/msg) for remote auditing.

A crash manager (package gateway/crash) scans the sessions periodically. Sessions left mid-step are recovered from their
latest audit row; sessions that timed out, or failed to recover, are rolled back with the compensation of the stage
they reached (package gateway/rollback) and the counterparty is notified.

Gateway

The gateway (package gateway) can be started running cmd/gateway. It serves the SATP stages over gRPC, an admin REST
API to start transfers and inspect or roll back sessions, and Prometheus metrics. Traces are exported with
OpenTelemetry when monitoring is enabled.
*/
package satp
