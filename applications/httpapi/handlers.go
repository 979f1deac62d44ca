package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/xbcsmith/xzepr/infrastructure/audit"
	"github.com/xbcsmith/xzepr/infrastructure/errors"
	"github.com/xbcsmith/xzepr/infrastructure/logging"
	"github.com/xbcsmith/xzepr/infrastructure/metrics"
	"github.com/xbcsmith/xzepr/infrastructure/middleware"
	"github.com/xbcsmith/xzepr/internal/app/auth"
	"github.com/xbcsmith/xzepr/internal/app/ingest"
	"github.com/xbcsmith/xzepr/internal/app/storage"
)

// maxBodyBytes bounds request bodies; event payloads are JSON documents, not
// blobs.
const maxBodyBytes = 1 << 20

type handlers struct {
	ingest  *ingest.Service
	tokens  *auth.Manager
	users   storage.UserStore
	metrics *metrics.Metrics
	auditor audit.Recorder
	log     *logging.Logger
}

// principalFrom converts the transport identity into the service identity. The
// RequireAuth middleware guarantees it is present on protected routes.
func principalFrom(r *http.Request) ingest.Principal {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		return ingest.Principal{}
	}
	return ingest.Principal{UserID: p.UserID, Roles: p.Roles}
}

// decode reads a bounded JSON body.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return errors.BadRequest("unable to read request body")
	}
	if len(body) == 0 {
		return errors.BadRequest("request body is required")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.BadRequest("malformed JSON: " + err.Error())
	}
	return nil
}
