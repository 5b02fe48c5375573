package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/rcarmo/md4sat/internal/md4"
	"github.com/rcarmo/md4sat/internal/message"
	"github.com/rcarmo/md4sat/internal/recovery"
)

// RecoverRequest is the JSON body accepted by the recovery endpoints.
type RecoverRequest struct {
	Digest   string `json:"digest" validate:"required,hexadecimal,len=32"`
	Password string `json:"password,omitempty" validate:"omitempty,max=27"`
	Length   *int   `json:"length,omitempty" validate:"omitempty,gte=0,lte=27"`
	Reverse  bool   `json:"reverse,omitempty"`
}

// RecoverResponse is the JSON body returned for a recovered block.
type RecoverResponse struct {
	ID          string                `json:"id"`
	Digest      string                `json:"digest"`
	Password    string                `json:"password"`
	Message     [message.Words]string `json:"message"`
	Pinned      int                   `json:"pinned"`
	Mode        string                `json:"mode"`
	SolveMillis int64                 `json:"solveMillis"`
}

type errorResponse struct {
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

// request validates body and turns it into a recovery request.
func (h *Handler) request(body RecoverRequest) (recovery.Request, error) {
	var req recovery.Request
	if err := h.validate.Struct(body); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return req, fmt.Errorf("%w: %s fails %q", errInvalidRequest, verrs[0].Field(), verrs[0].Tag())
		}
		return req, fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	d, err := md4.ParseDigest(body.Digest)
	if err != nil {
		return req, fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	req.Digest = d
	req.Options = message.Options{Length: -1, Password: body.Password}
	if body.Length != nil {
		req.Options.Length = *body.Length
	}
	if body.Reverse {
		req.Mode = recovery.Reverse
	}
	return req, nil
}

var errInvalidRequest = errors.New("invalid request")

// run executes req while holding one of the worker slots.
func (h *Handler) run(ctx context.Context, rec *recovery.Recoverer, req recovery.Request) (*recovery.Result, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer h.slots.Release(1)
	return rec.Recover(ctx, req)
}

// Recover handles POST /api/recover.
func (h *Handler) Recover(w http.ResponseWriter, r *http.Request) {
	id := requestID(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Security.MaxRequestBytes)

	var body RecoverRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, id, err)
			return
		}
		writeError(w, http.StatusBadRequest, id, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}

	req, err := h.request(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, id, err)
		return
	}

	res, err := h.run(r.Context(), h.rec, req)
	if err != nil {
		h.log.Warn("recovery %s failed: %v", id, err)
		writeError(w, statusFor(err), id, err)
		return
	}
	writeJSON(w, http.StatusOK, response(id, res))
}

func response(id string, res *recovery.Result) RecoverResponse {
	return RecoverResponse{
		ID:          id,
		Digest:      res.Digest,
		Password:    res.Password,
		Message:     res.Message,
		Pinned:      res.Pinned,
		Mode:        res.Mode.String(),
		SolveMillis: res.SolveTime.Milliseconds(),
	}
}

// statusFor maps a recovery error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, message.ErrMalformedLength),
		errors.Is(err, message.ErrPasswordEncoding),
		errors.Is(err, message.ErrLengthRequired):
		return http.StatusBadRequest
	case errors.Is(err, recovery.ErrUnsatisfiable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, id string, err error) {
	writeJSON(w, status, errorResponse{ID: id, Error: err.Error()})
}
