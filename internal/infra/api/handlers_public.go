package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/infra/logging"
	red "hotspot-billing/internal/infra/redis"

	"github.com/go-chi/chi/v5"
)

const (
	maxBodyBytes     = 16 << 10
	maxCallbackBytes = 64 << 10
	callbackTimeout  = 20 * time.Second
)

type planResponse struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	Price         json.Number `json:"price"`
	Currency      string      `json:"currency"`
	DurationHours int         `json:"durationHours"`
	DataLimit     string      `json:"dataLimit,omitempty"`
	SpeedLimit    string      `json:"speedLimit,omitempty"`
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.plans.ListActive(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, planResponse{
			ID:            p.ID,
			Name:          p.Name,
			Description:   p.Description,
			Price:         json.Number(model.FormatAmount(p.Price)),
			Currency:      s.opts.Currency,
			DurationHours: p.DurationHours,
			DataLimit:     p.DataLimit,
			SpeedLimit:    p.SpeedLimit,
		})
	}
	writeData(w, http.StatusOK, out)
}

type initiateRequest struct {
	Phone  string      `json:"phone" validate:"required,max=20"`
	PlanID string      `json:"planId" validate:"required,max=64"`
	Amount json.Number `json:"amount" validate:"required"`
}

type initiateResponse struct {
	CorrelationID   string `json:"correlationId"`
	CustomerMessage string `json:"customerMessage"`
}

func (s *Server) initiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if !s.decode(w, r, &req) {
		return
	}
	phone, err := model.NormalizePhone(req.Phone)
	if err != nil {
		writeFail(w, http.StatusBadRequest, "Valid phone number required")
		return
	}
	amount, err := model.ParseAmount(req.Amount.String())
	if err != nil || amount <= 0 {
		writeFail(w, http.StatusBadRequest, "Valid amount required")
		return
	}
	if !s.allowInitiate(r, phone) {
		writeFail(w, http.StatusTooManyRequests, "Too many payment requests, try again later")
		return
	}

	res, err := s.payments.Initiate(r.Context(), phone, req.PlanID, amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, initiateResponse{
		CorrelationID:   res.CorrelationID,
		CustomerMessage: res.CustomerMessage,
	})
}

// allowInitiate fails open when the limiter backend is down.
func (s *Server) allowInitiate(r *http.Request, phone string) bool {
	if s.limiter == nil {
		return true
	}
	ok, err := s.limiter.Allow(r.Context(), red.PaymentInitiateKey(phone), s.opts.InitiateLimit, s.opts.InitiateWindow)
	if err != nil {
		logging.With(r.Context(), s.log).Warn().Err(err).Msg("rate limiter unavailable")
		return true
	}
	return ok
}

type statusResponse struct {
	Status       string      `json:"status"`
	Amount       json.Number `json:"amount"`
	ResultDesc   string      `json:"resultDesc,omitempty"`
	SessionToken string      `json:"sessionToken,omitempty"`
}

func (s *Server) paymentStatus(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "correlationId")
	ctx := logging.WithCorrelationID(r.Context(), cid)
	view, err := s.payments.PollStatus(ctx, cid)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeFail(w, http.StatusNotFound, "Payment not found")
			return
		}
		s.fail(w, r.WithContext(ctx), err)
		return
	}
	writeData(w, http.StatusOK, statusResponse{
		Status:       strings.ToLower(string(view.Status)),
		Amount:       json.Number(model.FormatAmount(view.Amount)),
		ResultDesc:   view.ResultDesc,
		SessionToken: view.SessionToken,
	})
}

type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// paymentCallback always acknowledges: the provider retries on anything but
// a 200, and every outcome is already recorded by the reconciler.
func (s *Server) paymentCallback(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil {
		logging.With(r.Context(), s.log).Warn().Err(err).Msg("callback body unreadable")
	} else {
		// the provider may hang up before we finish; the transition must not be cut short
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), callbackTimeout)
		out := s.payments.HandleCallback(ctx, raw)
		cancel()
		logging.With(r.Context(), s.log).Info().
			Str("outcome", string(out.Kind)).
			Str("payment_id", out.PaymentID).
			Msg("payment callback handled")
	}
	writeJSON(w, http.StatusOK, callbackAck{ResultCode: 0, ResultDesc: "Accepted"})
}

type connectRequest struct {
	SessionToken string `json:"sessionToken" validate:"required,max=128"`
}

type connectSession struct {
	ID               string    `json:"id"`
	Plan             string    `json:"plan"`
	EndTime          time.Time `json:"endTime"`
	RemainingSeconds int64     `json:"remainingSeconds"`
}

type connectResponse struct {
	Message string         `json:"message"`
	Session connectSession `json:"session"`
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.sessions.GetActiveSession(r.Context(), req.SessionToken)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidArgument) {
			writeFail(w, http.StatusUnauthorized, "Invalid or expired session")
			return
		}
		s.fail(w, r, err)
		return
	}
	planName := ""
	if plan, err := s.plans.Get(r.Context(), sess.PlanID); err == nil {
		planName = plan.Name
	}
	writeData(w, http.StatusOK, connectResponse{
		Message: "Connected successfully",
		Session: connectSession{
			ID:               sess.ID,
			Plan:             planName,
			EndTime:          sess.EndTime.UTC(),
			RemainingSeconds: int64(sess.Remaining(time.Now()).Seconds()),
		},
	})
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler should continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeValidation(w, err)
		return false
	}
	return true
}
