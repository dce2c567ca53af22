package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/tarancss/satp/lib/satp"
	"github.com/tarancss/satp/lib/store"
)

const timeout = 15

// Response is the envelope of every admin API reply. Body holds the JSON encoded payload.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

// Errors returned to admin requests.
var (
	ErrMissingQuery = errors.New("missing query: ?networkId=<id>&ledgerType=<type>&tokenType=<type>")
	ErrBadAction    = errors.New("unknown crash manager action")
)

// AdminHandler returns the router of the admin API.
func (g *Gateway) AdminHandler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthcheck", g.healthHandler).Methods("GET")
	r.HandleFunc("/networks", g.networksHandler).Methods("GET")         // networks served by this gateway
	r.HandleFunc("/integrations", g.integrationsHandler).Methods("GET") // counterparty gateways
	r.HandleFunc("/transact", g.transactHandler).Methods("POST")        // start a transfer as client gateway
	r.HandleFunc("/sessions", g.sessionsHandler).Methods("GET")
	r.HandleFunc("/status/{sessionId}", g.statusHandler).Methods("GET")
	r.HandleFunc("/rollback/{sessionId}", g.rollbackHandler).Methods("POST")
	r.HandleFunc("/logs/{sessionId}", g.logsHandler).Methods("GET")      // audit trail of a session
	r.HandleFunc("/logs/{sessionId}/{key}", g.logHandler).Methods("GET") // a single audit row
	r.HandleFunc("/approve-address", g.approveHandler).Methods("GET")
	r.HandleFunc("/crash/{action}", g.crashHandler).Methods("POST") // pause or resume the crash scanner

	return r
}

func newServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:      h,
		WriteTimeout: timeout * time.Second,
		ReadTimeout:  timeout * time.Second,
	}
}

// reply writes payload or err in the Response envelope and logs the request.
func (g *Gateway) reply(rw http.ResponseWriter, r *http.Request, payload interface{}, err error) {
	var res Response

	code := http.StatusOK

	if err != nil {
		res.Error = err.Error()
		code = statusCode(err)
	} else {
		tmp, _ := json.Marshal(payload)
		res.Body = string(tmp)
	}

	g.log.Info().Str("remote", r.RemoteAddr).Str("uri", r.RequestURI).Int("status", code).AnErr("err", err).
		Msg("admin request")

	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(res)
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, ErrNoSession), errors.Is(err, store.ErrLogNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrMissingQuery), errors.Is(err, ErrBadAction),
		errors.Is(err, ErrNoCounterparty):
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}

func (g *Gateway) healthHandler(rw http.ResponseWriter, r *http.Request) {
	g.reply(rw, r, map[string]string{"status": "OK", "id": g.cfg.ID, "version": g.cfg.Version}, nil)
}

func (g *Gateway) networksHandler(rw http.ResponseWriter, r *http.Request) {
	g.reply(rw, r, g.bridges.GetAvailableEndPoints(), nil)
}

func (g *Gateway) integrationsHandler(rw http.ResponseWriter, r *http.Request) {
	g.reply(rw, r, g.cfg.Gateways, nil)
}

func (g *Gateway) transactHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		req TransactRequest
		st  *SessionStatus
		err error
	)

	defer func() { g.reply(rw, r, st, err) }()

	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = errors.Wrap(ErrBadRequest, err.Error())

		return
	}

	st, err = g.Transact(r.Context(), &req)
}

func (g *Gateway) sessionsHandler(rw http.ResponseWriter, r *http.Request) {
	g.reply(rw, r, g.List(), nil)
}

func (g *Gateway) statusHandler(rw http.ResponseWriter, r *http.Request) {
	st, err := g.Status(mux.Vars(r)["sessionId"])
	g.reply(rw, r, st, err)
}

func (g *Gateway) rollbackHandler(rw http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sessionId"]

	session, ok := g.sessions.Session(id)
	if !ok {
		g.reply(rw, r, nil, errors.Wrap(ErrNoSession, id))

		return
	}

	state, err := g.crash.InitiateRollback(r.Context(), session, true)
	g.reply(rw, r, state, err)
}

func (g *Gateway) logsHandler(rw http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sessionId"]

	logs, err := g.repo.ReadLogsBySession(r.Context(), id)
	if err != nil {
		err = errors.Wrap(err, id)
	}

	g.reply(rw, r, logs, err)
}

// logHandler returns the row stored under key, provided it belongs to the session in the path.
func (g *Gateway) logHandler(rw http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	l, err := g.repo.ReadByID(r.Context(), vars["key"])
	if err == nil && l.SessionID != vars["sessionId"] {
		err = store.ErrLogNotFound
	}

	if err != nil {
		g.reply(rw, r, nil, errors.Wrap(err, vars["key"]))

		return
	}

	g.reply(rw, r, l, nil)
}

func (g *Gateway) approveHandler(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	net, ledger, token := q.Get("networkId"), q.Get("ledgerType"), q.Get("tokenType")
	if net == "" || ledger == "" || token == "" {
		g.reply(rw, r, nil, ErrMissingQuery)

		return
	}

	addr, err := g.bridges.GetApproveAddress(satp.NetworkID{ID: net, LedgerType: satp.LedgerType(ledger)},
		satp.TokenType(token))
	g.reply(rw, r, map[string]string{"approveAddress": addr}, err)
}

func (g *Gateway) crashHandler(rw http.ResponseWriter, r *http.Request) {
	switch mux.Vars(r)["action"] {
	case "pause":
		g.crash.Pause()
	case "resume":
		g.crash.Resume()
	default:
		g.reply(rw, r, nil, ErrBadAction)

		return
	}

	g.reply(rw, r, map[string]bool{"paused": g.crash.Paused()}, nil)
}
