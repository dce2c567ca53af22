package stage

import (
	"github.com/tarancss/satp/lib/satp"
	"github.com/tarancss/satp/lib/signer"
)

// commonBodyVerifier checks the envelope of an inbound stage 1-3 message against the session data. It reads sd only.
func commonBodyVerifier(tag string, c *satp.CommonSatp, sd *satp.SessionData, expected ...satp.MessageType) error {
	if c == nil || c.Version == "" || c.SessionID == "" || c.SequenceNumber == 0 ||
		c.ClientGatewayPubkey == "" || c.ServerGatewayPubkey == "" || c.TransferContextID == "" {
		return satp.NewError(tag, satp.KindCommonBody, "", nil)
	}

	if c.Version != satp.SATPVersion {
		return satp.Errorf(tag, satp.KindSATPVersion, "got %q, want %q", c.Version, satp.SATPVersion)
	}

	if c.SessionID != sd.ID {
		return satp.Errorf(tag, satp.KindSessionID, "got %q, want %q", c.SessionID, sd.ID)
	}

	if !oneOf(c.MessageType, expected) {
		return satp.Errorf(tag, satp.KindMessageType, "got %s, want %v", c.MessageType, expected)
	}

	if c.SequenceNumber != sd.LastSequenceNumber+1 {
		return satp.Errorf(tag, satp.KindSequenceNumber, "got %d, want %d", c.SequenceNumber, sd.LastSequenceNumber+1)
	}

	prev := satp.GetPreviousMessageType(sd, c.MessageType)
	if c.HashPreviousMessage != satp.GetMessageHash(sd, prev) {
		return satp.Errorf(tag, satp.KindHash, "%s", prev)
	}

	if sd.ClientGatewayPubkey != "" && c.ClientGatewayPubkey != sd.ClientGatewayPubkey {
		return satp.NewError(tag, satp.KindClientGatewayPubkey, "", nil)
	}

	if sd.ServerGatewayPubkey != "" && c.ServerGatewayPubkey != sd.ServerGatewayPubkey {
		return satp.NewError(tag, satp.KindServerGatewayPubkey, "", nil)
	}

	if sd.TransferContextID != "" && c.TransferContextID != sd.TransferContextID {
		return satp.NewError(tag, satp.KindTransferContextID, "", nil)
	}

	if sd.ResourceURL != "" && c.ResourceURL != sd.ResourceURL {
		return satp.NewError(tag, satp.KindResourceURL, "", nil)
	}

	return nil
}

func oneOf(t satp.MessageType, ts []satp.MessageType) bool {
	for _, e := range ts {
		if t == e {
			return true
		}
	}

	return false
}

// signatureVerifier checks the signature of m against pubkey. The signature slot is cleared while encoding and
// restored before returning.
func signatureVerifier(tag string, m satp.Signed, pubkey string) error {
	f := m.SignatureField()

	sig := *f
	if sig == "" {
		return satp.NewError(tag, satp.KindSignatureMissing, "", nil)
	}

	*f = ""
	b, err := satp.Canonical(m)
	*f = sig

	if err != nil {
		return satp.NewError(tag, satp.KindSignatureVerification, "encoding", err)
	}

	ok, err := signer.Verify(pubkey, b, sig)
	if err != nil {
		return satp.NewError(tag, satp.KindSignatureVerification, "", err)
	}

	if !ok {
		return satp.NewError(tag, satp.KindSignatureVerification, "", nil)
	}

	return nil
}

// builderCommon returns the envelope of the next message sent by role, chained to the previous message of t.
func builderCommon(sd *satp.SessionData, t satp.MessageType) *satp.CommonSatp {
	return &satp.CommonSatp{
		Version:             satp.SATPVersion,
		MessageType:         t,
		SessionID:           sd.ID,
		SequenceNumber:      sd.LastSequenceNumber + 1,
		ResourceURL:         sd.ResourceURL,
		ClientGatewayPubkey: sd.ClientGatewayPubkey,
		ServerGatewayPubkey: sd.ServerGatewayPubkey,
		HashPreviousMessage: satp.GetMessageHash(sd, satp.GetPreviousMessageType(sd, t)),
		TransferContextID:   sd.TransferContextID,
	}
}

// sessionData returns the data of role, or a session not found error when the session is nil.
func sessionData(tag string, session *satp.Session, role satp.Role) (*satp.SessionData, error) {
	if session == nil {
		return nil, satp.NewError(tag, satp.KindSessionNotFound, "", nil)
	}

	sd, err := session.SessionData(role)
	if err != nil {
		return nil, satp.NewError(tag, satp.KindSessionNotFound, "", err)
	}

	return sd, nil
}
