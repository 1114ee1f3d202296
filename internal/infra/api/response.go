package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"hotspot-billing/internal/domain"

	"github.com/go-playground/validator/v10"
)

const msgInternal = "Internal server error"

type envelope struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
	Errors  []fieldError `json:"errors,omitempty"`
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeFail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

// writeValidation reports which request fields failed which rules.
func writeValidation(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeFail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	out := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fieldError{Field: jsonName(fe), Rule: fe.Tag()})
	}
	writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "Validation failed", Errors: out})
}

func jsonName(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		return fe.StructField()
	}
	return name
}

// statusFor maps domain errors onto HTTP statuses and client-safe messages.
// Anything unrecognised is a 500 with a generic body.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, clientMessage(err, "Invalid request")
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, domain.ErrPlanInactive):
		return http.StatusNotFound, "Plan not found or inactive"
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrActiveSessionExists):
		return http.StatusConflict, clientMessage(err, "Already exists")
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, clientMessage(err, "Invalid state transition")
	case errors.Is(err, domain.ErrGatewayRejected):
		return http.StatusUnprocessableEntity, "Payment request was rejected"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, "Payment service unavailable, try again"
	}
	return http.StatusInternalServerError, msgInternal
}

// clientMessage returns the detail wrapped around a sentinel, which callers
// only attach when it is safe to show.
func clientMessage(err error, fallback string) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		msg = msg[i+2:]
	} else {
		return fallback
	}
	if msg == "" {
		return fallback
	}
	return msg
}
