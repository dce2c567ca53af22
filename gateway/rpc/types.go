// Package rpc carries SATP messages between gateways over gRPC. Messages travel as JSON through hand written service
// descriptors: the server routes each request to the stage server services, and Client calls the counterparty.
package rpc

import (
	"github.com/tarancss/satp/lib/satp"
	"github.com/tarancss/satp/lib/store"
)

// RollbackRequest notifies the counterparty that a session is being rolled back.
type RollbackRequest struct {
	SessionID string     `json:"sessionId"`
	GatewayID string     `json:"gatewayId"`
	Stage     satp.Stage `json:"stage"`
	Timestamp string     `json:"timestamp"`
}

// RollbackResponse reports the outcome of the counterparty rollback.
type RollbackResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status,omitempty"`
	Entries   int    `json:"entries,omitempty"`
	Error     bool   `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Crash recovery message types.
const (
	MsgRecover                = "urn:ietf:satp:msgtype:recover-msg"
	MsgRecoverUpdate          = "urn:ietf:satp:msgtype:recover-update-msg"
	MsgRecoverSuccess         = "urn:ietf:satp:msgtype:recover-success-msg"
	MsgRecoverSuccessResponse = "urn:ietf:satp:msgtype:recover-success-response-msg"
)

// RecoverRequest asks the counterparty for the log rows of a session written after the last step the sender holds.
type RecoverRequest struct {
	SessionID            string     `json:"sessionId"`
	MessageType          string     `json:"messageType"`
	GatewayID            string     `json:"gatewayId"`
	Stage                satp.Stage `json:"satpPhase"`
	SequenceNumber       uint64     `json:"sequenceNumber"`
	IsBackup             bool       `json:"isBackup"`
	NewIdentityPublicKey string     `json:"newIdentityPublicKey,omitempty"`
	LastEntryTimestamp   string     `json:"lastEntryTimestamp"`
	SenderSignature      string     `json:"senderSignature"`
}

// RecoverResponse carries the rows the sender of a RecoverRequest misses. Hash is the hash of that request.
type RecoverResponse struct {
	SessionID       string           `json:"sessionId"`
	MessageType     string           `json:"messageType"`
	Hash            string           `json:"hash"`
	RecoveredLogs   []store.LocalLog `json:"recoveredLogs"`
	SenderSignature string           `json:"senderSignature"`
}

// RecoverSuccessRequest closes a recovery exchange. Hash is the hash of the RecoverResponse it answers.
type RecoverSuccessRequest struct {
	SessionID       string   `json:"sessionId"`
	MessageType     string   `json:"messageType"`
	Hash            string   `json:"hash"`
	Success         bool     `json:"success"`
	EntriesChanged  []string `json:"entriesChanged"`
	SenderSignature string   `json:"senderSignature"`
}

// RecoverSuccessResponse acknowledges a RecoverSuccessRequest.
type RecoverSuccessResponse struct {
	SessionID       string `json:"sessionId"`
	MessageType     string `json:"messageType"`
	Received        bool   `json:"received"`
	SenderSignature string `json:"senderSignature"`
}

func (m *RecoverRequest) SignatureField() *string         { return &m.SenderSignature }
func (m *RecoverResponse) SignatureField() *string        { return &m.SenderSignature }
func (m *RecoverSuccessRequest) SignatureField() *string  { return &m.SenderSignature }
func (m *RecoverSuccessResponse) SignatureField() *string { return &m.SenderSignature }
