package satp

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/tarancss/satp/lib/monitor"
)

// SessionOptions configure NewSession. At least one of Server or Client must be set.
type SessionOptions struct {
	ContextID string
	// SessionID is generated as <uuid>-<ContextID> when empty.
	SessionID string
	Server    bool
	Client    bool
	Monitor   *monitor.Service
}

// Session holds the client and/or server SessionData of one transfer. Callers serialize work on a session with Lock.
type Session struct {
	mu      sync.Mutex
	id      string
	client  *SessionData
	server  *SessionData
	monitor *monitor.Service
}

// VerifyFlags relax the terminal state checks of Verify.
type VerifyFlags struct {
	Rejected  bool
	Completed bool
	// Stage0 skips the network id checks, which are only known once stage 0 completes.
	Stage0 bool
}

// NewSession creates a session and the SessionData of every requested role.
func NewSession(opts SessionOptions) (*Session, error) {
	const tag = "Session#New"

	if !opts.Server && !opts.Client {
		return nil, Errorf(tag, KindSessionType, "at least one of server or client must be set")
	}

	s := &Session{id: opts.SessionID, monitor: opts.Monitor}
	if s.monitor == nil {
		s.monitor = monitor.Disabled()
	}

	if s.id == "" {
		s.id = uuid.NewString() + "-" + opts.ContextID
	}

	if opts.Server {
		if err := s.CreateSessionData(RoleServer, s.id, opts.ContextID); err != nil {
			return nil, err
		}
	}

	if opts.Client {
		if err := s.CreateSessionData(RoleClient, s.id, opts.ContextID); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// RecreateSession rebuilds a session around persisted session data, using its role.
func RecreateSession(sd *SessionData, mon *monitor.Service) (*Session, error) {
	const tag = "Session#Recreate"

	if sd == nil || sd.ID == "" {
		return nil, NewError(tag, KindSessionID, "", nil)
	}

	s := &Session{id: sd.ID, monitor: mon}
	if s.monitor == nil {
		s.monitor = monitor.Disabled()
	}

	switch sd.Role {
	case RoleClient:
		s.client = sd
	case RoleServer:
		s.server = sd
	default:
		return nil, Errorf(tag, KindSessionType, "unknown role %q", sd.Role)
	}

	return s, nil
}

// Restore replaces the data of sd.Role with sd, as read back from an audit log.
func (s *Session) Restore(sd *SessionData) error {
	const tag = "Session#Restore"

	if sd == nil || sd.ID != s.id {
		return NewError(tag, KindSessionID, "", nil)
	}

	switch sd.Role {
	case RoleClient:
		s.client = sd
	case RoleServer:
		s.server = sd
	default:
		return Errorf(tag, KindSessionType, "unknown role %q", sd.Role)
	}

	return nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Lock serializes operations on the session.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session.
func (s *Session) Unlock() { s.mu.Unlock() }

// HasClientSessionData reports whether the client role is initialized.
func (s *Session) HasClientSessionData() bool { return s.client != nil }

// HasServerSessionData reports whether the server role is initialized.
func (s *Session) HasServerSessionData() bool { return s.server != nil }

// ClientSessionData returns the client role data.
func (s *Session) ClientSessionData() (*SessionData, error) {
	if s.client == nil {
		return nil, Errorf("Session#ClientSessionData", KindSessionDataNotAvailable, "client")
	}

	return s.client, nil
}

// ServerSessionData returns the server role data.
func (s *Session) ServerSessionData() (*SessionData, error) {
	if s.server == nil {
		return nil, Errorf("Session#ServerSessionData", KindSessionDataNotAvailable, "server")
	}

	return s.server, nil
}

// SessionData returns the data of the given role.
func (s *Session) SessionData(role Role) (*SessionData, error) {
	switch role {
	case RoleClient:
		return s.ClientSessionData()
	case RoleServer:
		return s.ServerSessionData()
	}

	return nil, Errorf("Session#SessionData", KindSessionType, "unknown role %q", role)
}

// CreateSessionData initializes the data of a role that does not exist yet.
func (s *Session) CreateSessionData(role Role, sessionID, contextID string) error {
	const tag = "Session#CreateSessionData"

	var slot **SessionData

	switch role {
	case RoleClient:
		slot = &s.client
	case RoleServer:
		slot = &s.server
	default:
		return Errorf(tag, KindSessionType, "unknown role %q", role)
	}

	if *slot != nil {
		return Errorf(tag, KindSessionExists, "%s", role)
	}

	sd := &SessionData{
		ID:                sessionID,
		Version:           SATPVersion,
		Role:              role,
		TransferContextID: contextID,
	}
	sd.initialize()
	*slot = sd

	s.monitor.UpdateCounter(monitor.CreatedSessions, 1)
	s.monitor.UpdateCounter(monitor.OngoingSessions, 1)

	return nil
}

// State returns the server state when present, else the client state.
func (s *Session) State() State {
	if s.server != nil {
		return s.server.State
	}

	if s.client != nil {
		return s.client.State
	}

	return StateUnspecified
}

// Verify checks that the data of role is loaded and complete. Failures are KindSessionDataNotLoaded errors wrapping
// the specific violation.
func (s *Session) Verify(tag string, role Role, flags VerifyFlags) error {
	_, span := s.monitor.StartSpan(context.Background(), "Session#Verify")
	defer span.End()

	if err := s.verify(tag, role, flags); err != nil {
		e := NewError(tag, KindSessionDataNotLoaded, "", err)
		s.monitor.RecordError(span, e)

		return e
	}

	return nil
}

func (s *Session) verify(tag string, role Role, flags VerifyFlags) error {
	sd, err := s.SessionData(role)
	if err != nil {
		return err
	}

	fail := func(k Kind, field string) error { return Errorf(tag, k, "%s", field) }

	switch {
	case sd.State == StateRejected && !flags.Rejected:
		return Errorf(tag, KindSessionRejected, "transfer rejected")
	case sd.State == StateCompleted && !flags.Completed:
		return Errorf(tag, KindSessionCompleted, "")
	case sd.ID == "":
		return NewError(tag, KindSessionID, "", nil)
	case sd.DigitalAssetID == "":
		return fail(KindDigitalAssetID, "digitalAssetId")
	case !flags.Stage0 && sd.SenderGatewayNetworkID == "":
		return fail(KindGatewayNetworkID, "senderGatewayNetworkId")
	case !flags.Stage0 && sd.RecipientGatewayNetworkID == "":
		return fail(KindGatewayNetworkID, "recipientGatewayNetworkId")
	case sd.ClientGatewayPubkey == "":
		return fail(KindClientGatewayPubkey, "clientGatewayPubkey")
	case sd.ServerGatewayPubkey == "":
		return fail(KindServerGatewayPubkey, "serverGatewayPubkey")
	case sd.SenderGatewayOwnerID == "":
		return fail(KindOwnerID, "senderGatewayOwnerId")
	case sd.ReceiverGatewayOwnerID == "":
		return fail(KindOwnerID, "receiverGatewayOwnerId")
	case sd.SignatureAlgorithm == SignatureAlgorithmUnspecified:
		return fail(KindSignatureAlgorithm, "signatureAlgorithm")
	case sd.LockType == LockTypeUnspecified:
		return fail(KindLockType, "lockType")
	case sd.LockExpirationTime == 0:
		return fail(KindLockExpirationTime, "lockExpirationTime")
	case sd.CredentialProfile == CredentialProfileUnspecified:
		return fail(KindCredentialProfile, "credentialProfile")
	case sd.LoggingProfile == "":
		return fail(KindLoggingProfile, "loggingProfile")
	case sd.AccessControlProfile == "":
		return fail(KindAccessControlProfile, "accessControlProfile")
	case sd.TransferContextID == "":
		return fail(KindTransferContextID, "transferContextId")
	case sd.Version != SATPVersion:
		return Errorf(tag, KindSATPVersion, "got %q, want %q", sd.Version, SATPVersion)
	}

	return nil
}

// MarkState moves the data of role to a terminal state and updates the session counters.
func (s *Session) MarkState(role Role, st State) error {
	sd, err := s.SessionData(role)
	if err != nil {
		return err
	}

	if sd.State == st {
		return nil
	}

	if sd.State == StateOngoing {
		s.monitor.UpdateCounter(monitor.OngoingSessions, -1)
	}

	switch st {
	case StateCompleted:
		s.monitor.UpdateCounter(monitor.CompletedSessions, 1)
	case StateRejected:
		s.monitor.UpdateCounter(monitor.RejectedSessions, 1)
	}

	sd.State = st

	return nil
}

// Snapshot returns the canonical JSON of the session data of role, as persisted in audit logs.
func (s *Session) Snapshot(role Role) (json.RawMessage, error) {
	sd, err := s.SessionData(role)
	if err != nil {
		return nil, err
	}

	return Canonical(sd)
}

func (s *Session) String() string {
	sd := s.server
	if sd == nil {
		sd = s.client
	}

	b, err := Canonical(sd)
	if err != nil {
		return s.id
	}

	return string(b)
}
