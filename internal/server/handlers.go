package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	internalerrors "github.com/mjj2333/escortcrm-pwa-sub001/internal/errors"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/logging"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/verify"
)

const requestBodyLimit = 64 * 1024

// verifyRequest is the body of POST /verify. Action selects revalidation;
// plan and token are only read for it.
type verifyRequest struct {
	Email  string `json:"email"`
	Action string `json:"action,omitempty"`
	Plan   string `json:"plan,omitempty"`
	Token  string `json:"token,omitempty"`
}

type giftRequest struct {
	Code string `json:"code"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Verifier is the verification core behind the public endpoints.
type Verifier interface {
	Verify(ctx context.Context, identifier string) (verify.VerifyResult, error)
	Revalidate(ctx context.Context, identifier, plan, token string) (verify.RevalidateResult, error)
	ValidateGiftCode(ctx context.Context, code string) (verify.GiftResult, error)
}

// Pinger reports backing store readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

func handleVerify(svc Verifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		var req verifyRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		switch strings.ToLower(strings.TrimSpace(req.Action)) {
		case "":
			res, err := svc.Verify(r.Context(), req.Email)
			if err != nil {
				writeServiceError(r.Context(), w, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		case "revalidate":
			res, err := svc.Revalidate(r.Context(), req.Email, req.Plan, req.Token)
			if err != nil {
				writeServiceError(r.Context(), w, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		default:
			writeError(w, http.StatusBadRequest, "Unknown action")
		}
	}
}

func handleGiftCode(svc Verifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		var req giftRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := svc.ValidateGiftCode(r.Context(), req.Code)
		if err != nil {
			writeServiceError(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// handleHealthz is the liveness probe.
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz returns a handler that checks store connectivity.
func handleReadyz(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if err := p.Ping(r.Context()); err != nil {
			logging.FromContext(r.Context()).Warn().Err(err).Msg("Readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, requestBodyLimit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// writeServiceError maps a service error onto a status and a message safe to
// show callers. Input errors carry their own message.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	status := internalerrors.HTTPStatus(err)
	msg := "Internal error"
	switch internalerrors.KindOf(err) {
	case internalerrors.KindInput:
		msg = "Invalid request"
		var e *internalerrors.Error
		if errors.As(err, &e) && e.Err != nil {
			msg = e.Err.Error()
		}
	case internalerrors.KindUnavailable:
		msg = "Service temporarily unavailable, please retry"
	default:
		logging.FromContext(ctx).Error().Err(err).Msg("Request failed with unexpected error")
	}
	writeError(w, status, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
