// Package types defines the payloads gateways publish to the remote log broker.
package types

import "strings"

// Exchange is the topic exchange every gateway publishes to.
const Exchange = "satp"

// Routing key kinds.
const (
	KindLog      = "log"
	KindRollback = "rollback"
)

// RemoteLog is the signed proof of one local log row. It carries the hash of the row, not the row itself.
type RemoteLog struct {
	Key          string `json:"key"`
	SessionID    string `json:"sessionId"`
	Type         string `json:"type"`
	Operation    string `json:"operation"`
	Timestamp    string `json:"timestamp"`
	Hash         string `json:"hash"`
	Signature    string `json:"signature"`
	SignerPubkey string `json:"signerPubkey"`
}

// RollbackNotice announces the outcome of a rollback run by a gateway.
type RollbackNotice struct {
	SessionID string `json:"sessionId"`
	GatewayID string `json:"gatewayId"`
	Stage     string `json:"stage"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Entries   int    `json:"entries"`
}

// RoutingKey returns <gateway>.<kind>.<session>. Dots in the ids are replaced so topic patterns stay unambiguous.
func RoutingKey(gateway, kind, session string) string {
	r := strings.NewReplacer(".", "_")

	return r.Replace(gateway) + "." + kind + "." + r.Replace(session)
}
