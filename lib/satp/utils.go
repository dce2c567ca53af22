package satp

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"
)

// Canonical returns the deterministic JSON encoding of v: object keys sorted, no insignificant whitespace.
func Canonical(v interface{}) ([]byte, error) {
	m, err := CanonicalValue(v)
	if err != nil {
		return nil, err
	}

	return json.Marshal(m)
}

// CanonicalValue decodes the JSON encoding of v into generic maps, slices and json.Number values.
func CanonicalValue(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}

	return out, nil
}

// Hash returns the hex SHA-256 of the canonical encoding of v.
func Hash(v interface{}) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}

	return HashBytes(b), nil
}

// HashBytes returns the hex SHA-256 of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)

	return hex.EncodeToString(sum[:])
}

// Now returns the current time as a unix millisecond string, the format of every session timestamp.
func Now() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// ParseTimestamp converts a session timestamp back to a time.
func ParseTimestamp(ts string) (time.Time, error) {
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, err
	}

	return time.UnixMilli(ms), nil
}

// TimestampKind selects the processed or received timestamp record.
type TimestampKind int

const (
	TimestampProcessed TimestampKind = iota
	TimestampReceived
)

// SaveHash stores the hash of message type t.
func SaveHash(sd *SessionData, t MessageType, hash string) {
	if f := sd.Hashes.Field(t); f != nil {
		*f = hash
	}
}

// GetMessageHash returns the stored hash of message type t, empty when unknown.
func GetMessageHash(sd *SessionData, t MessageType) string {
	if f := sd.Hashes.Field(t); f != nil {
		return *f
	}

	return ""
}

// SaveSignature stores the signature of message type t.
func SaveSignature(sd *SessionData, t MessageType, signature string) {
	if f := sd.Signatures.Field(t); f != nil {
		*f = signature
	}
}

// GetMessageSignature returns the stored signature of message type t.
func GetMessageSignature(sd *SessionData, t MessageType) string {
	if f := sd.Signatures.Field(t); f != nil {
		return *f
	}

	return ""
}

// SaveTimestamp stores a processed or received timestamp for message type t. Received timestamps also update the
// last message received timestamp.
func SaveTimestamp(sd *SessionData, t MessageType, kind TimestampKind, ts string) {
	records := sd.ProcessedTimestamps
	if kind == TimestampReceived {
		records = sd.ReceivedTimestamps
		sd.LastMessageReceivedTimestamp = ts
	}

	if f := records.Field(t); f != nil {
		*f = ts
	}
}

// GetTimestamp returns the stored timestamp of message type t.
func GetTimestamp(sd *SessionData, t MessageType, kind TimestampKind) string {
	records := sd.ProcessedTimestamps
	if kind == TimestampReceived {
		records = sd.ReceivedTimestamps
	}

	if f := records.Field(t); f != nil {
		return *f
	}

	return ""
}

// SaveMessage stores the canonical encoding of msg under its message type.
func SaveMessage(sd *SessionData, msg Message) error {
	b, err := Canonical(msg)
	if err != nil {
		return err
	}

	if f := sd.SatpMessages.Field(msg.Type()); f != nil {
		*f = b
	}

	return nil
}

// GetMessage decodes the stored message of type t into out. It reports false when nothing was stored.
func GetMessage(sd *SessionData, t MessageType, out Message) (bool, error) {
	f := sd.SatpMessages.Field(t)
	if f == nil || len(*f) == 0 || string(*f) == "null" {
		return false, nil
	}

	return true, json.Unmarshal(*f, out)
}

// GetPreviousMessageType returns the message type whose hash a message of type t chains to. Stage 1 requests chain
// back to the stage 0 response, which may be absent when stage 0 was skipped.
func GetPreviousMessageType(sd *SessionData, t MessageType) MessageType {
	switch t {
	case MsgNewSessionResponse:
		return MsgNewSessionRequest
	case MsgPreSATPTransferRequest:
		return MsgNewSessionResponse
	case MsgPreSATPTransferResponse:
		return MsgPreSATPTransferRequest
	case MsgInitProposal:
		return MsgPreSATPTransferResponse
	case MsgInitReceipt, MsgInitReject:
		return MsgInitProposal
	case MsgTransferCommenceRequest:
		if GetMessageHash(sd, MsgInitReject) != "" {
			return MsgInitReject
		}

		return MsgInitReceipt
	case MsgTransferCommenceResponse, MsgLockAssert, MsgAssertionReceipt, MsgCommitPrepare, MsgCommitReady,
		MsgCommitFinal, MsgAckCommitFinal, MsgCommitTransferComplete, MsgCommitTransferCompleteResponse:
		return t - 1
	}

	return MsgUnspecified
}

// GetCrashedStage returns the first stage whose message hashes are not all stored, or StageUnspecified when every
// stage is complete.
func GetCrashedStage(sd *SessionData) Stage {
	h := sd.Hashes
	if h == nil || h.Stage0 == nil {
		return Stage0
	}

	if !allSet(h.Stage0.NewSessionRequestMessage, h.Stage0.NewSessionResponseMessage,
		h.Stage0.PreSatpTransferRequestMessage, h.Stage0.PreSatpTransferResponseMessage) {
		return Stage0
	}

	if h.Stage1 == nil || !allSet(h.Stage1.TransferProposalRequestMessage, h.Stage1.TransferProposalReceiptMessage,
		h.Stage1.TransferProposalRejectMessage, h.Stage1.TransferCommenceRequestMessage,
		h.Stage1.TransferCommenceResponseMessage) {
		return Stage1
	}

	if h.Stage2 == nil || !allSet(h.Stage2.LockAssertionRequestMessage, h.Stage2.LockAssertionReceiptMessage) {
		return Stage2
	}

	if h.Stage3 == nil || !allSet(h.Stage3.CommitPreparationRequestMessage, h.Stage3.CommitReadyResponseMessage,
		h.Stage3.CommitFinalAssertionRequestMessage, h.Stage3.CommitFinalAcknowledgementReceiptResponseMessage,
		h.Stage3.TransferCompleteMessage, h.Stage3.TransferCompleteResponseMessage) {
		return Stage3
	}

	return StageUnspecified
}

func allSet(values ...string) bool {
	for _, v := range values {
		if v == "" {
			return false
		}
	}

	return true
}

// CurrentStage returns the stage of the latest message with a stored hash, Stage0 when none is stored.
func CurrentStage(sd *SessionData) Stage {
	for t := MsgCommitTransferCompleteResponse; t >= MsgInitProposal; t-- {
		if GetMessageHash(sd, t) != "" {
			return t.Stage()
		}
	}

	return Stage0
}

// MergeRecords copies into dst the hash, signature, processed timestamp and message of every message type recorded
// by src and missing from dst, and lifts the sequence number of dst to the one of src. It returns the types copied.
func MergeRecords(dst, src *SessionData) []MessageType {
	var merged []MessageType

	for t := MsgInitProposal; t <= MsgPreSATPTransferResponse; t++ {
		hash := GetMessageHash(src, t)
		if hash == "" || GetMessageHash(dst, t) != "" || dst.Hashes.Field(t) == nil {
			continue
		}

		SaveHash(dst, t, hash)
		SaveSignature(dst, t, GetMessageSignature(src, t))

		if f := dst.ProcessedTimestamps.Field(t); f != nil && *f == "" {
			*f = GetTimestamp(src, t, TimestampProcessed)
		}

		if from, to := src.SatpMessages.Field(t), dst.SatpMessages.Field(t); from != nil && to != nil && len(*to) == 0 {
			*to = *from
		}

		merged = append(merged, t)
	}

	if src.LastSequenceNumber > dst.LastSequenceNumber {
		dst.LastSequenceNumber = src.LastSequenceNumber
	}

	return merged
}
