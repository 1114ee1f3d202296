package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/infra/logging"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type sessionResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	PlanID    string    `json:"planId"`
	PaymentID string    `json:"paymentId,omitempty"`
	Status    string    `json:"status"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	DataUsed  int64     `json:"dataUsed"`
	DataHuman string    `json:"dataUsedHuman"`
	Remaining string    `json:"remaining,omitempty"`
}

func toSessionResponse(s *model.Session, now time.Time) sessionResponse {
	out := sessionResponse{
		ID:        s.ID,
		UserID:    s.UserID,
		PlanID:    s.PlanID,
		PaymentID: s.PaymentID,
		Status:    string(s.Status),
		StartTime: s.StartTime.UTC(),
		EndTime:   s.EndTime.UTC(),
		DataUsed:  s.DataUsed,
		DataHuman: humanize.Bytes(uint64(max(s.DataUsed, 0))),
	}
	if rem := s.Remaining(now); rem > 0 {
		out.Remaining = rem.Round(time.Second).String()
	}
	return out
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := model.SessionStatus(strings.ToUpper(strings.TrimSpace(q.Get("status"))))
	switch status {
	case "", model.SessionStatusActive, model.SessionStatusExpired, model.SessionStatusTerminated:
	default:
		writeFail(w, http.StatusBadRequest, "Unknown session status")
		return
	}
	limit := defaultListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeFail(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	sessions, err := s.sessions.List(r.Context(), status, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	now := time.Now()
	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toSessionResponse(sess, now))
	}
	writeData(w, http.StatusOK, map[string]any{"sessions": out, "count": len(out)})
}

func (s *Server) terminateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := logging.WithSessID(r.Context(), id)
	if err := s.sessions.TerminateSession(ctx, id); err != nil {
		s.fail(w, r.WithContext(ctx), err)
		return
	}
	logging.With(ctx, s.log).Info().Msg("session terminated by operator")
	writeData(w, http.StatusOK, map[string]string{"message": "Session terminated successfully"})
}

type connectionResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Address  string `json:"address,omitempty"`
	MAC      string `json:"macAddress,omitempty"`
	BytesIn  int64  `json:"bytesIn"`
	BytesOut int64  `json:"bytesOut"`
	Uptime   string `json:"uptime,omitempty"`
}

type routerStatusResponse struct {
	Reachable   bool                 `json:"reachable"`
	Error       string               `json:"error,omitempty"`
	ActiveUsers int                  `json:"activeUsers"`
	Users       []connectionResponse `json:"users"`
	Sessions    map[string]int       `json:"sessions"`
}

func (s *Server) routerStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.RouterStatus(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := routerStatusResponse{
		Reachable:   st.Reachable,
		Error:       st.Error,
		ActiveUsers: len(st.Connections),
		Users:       make([]connectionResponse, 0, len(st.Connections)),
		Sessions:    make(map[string]int, len(st.Sessions)),
	}
	for _, c := range st.Connections {
		out.Users = append(out.Users, connectionResponse{
			ID:       c.ID,
			Username: c.Username,
			Address:  c.Address,
			MAC:      c.MAC,
			BytesIn:  c.BytesIn,
			BytesOut: c.BytesOut,
			Uptime:   c.Uptime,
		})
	}
	for k, v := range st.Sessions {
		out.Sessions[string(k)] = v
	}
	writeData(w, http.StatusOK, out)
}

type paymentResponse struct {
	ID            string      `json:"id"`
	Status        string      `json:"status"`
	Amount        json.Number `json:"amount"`
	CorrelationID string      `json:"correlationId,omitempty"`
	ResultDesc    string      `json:"resultDesc,omitempty"`
}

func (s *Server) cancelPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.payments.Cancel(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, paymentResponse{
		ID:            p.ID,
		Status:        string(p.Status),
		Amount:        json.Number(model.FormatAmount(p.Amount)),
		CorrelationID: p.CorrelationID,
		ResultDesc:    p.ResultDesc,
	})
}

type revenueResponse struct {
	Total    json.Number `json:"total"`
	Today    json.Number `json:"today"`
	Currency string      `json:"currency"`
}

type dashboardResponse struct {
	Payments map[string]int  `json:"payments"`
	Sessions map[string]int  `json:"sessions"`
	Revenue  revenueResponse `json:"revenue"`
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.stats.Dashboard(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := dashboardResponse{
		Payments: map[string]int{},
		Sessions: map[string]int{},
		Revenue: revenueResponse{
			Total:    json.Number(model.FormatAmount(d.Revenue)),
			Today:    json.Number(model.FormatAmount(d.RevenueToday)),
			Currency: s.opts.Currency,
		},
	}
	for _, st := range []model.PaymentStatus{
		model.PaymentStatusPending, model.PaymentStatusCompleted,
		model.PaymentStatusFailed, model.PaymentStatusCancelled,
	} {
		out.Payments[strings.ToLower(string(st))] = d.Payments[st]
	}
	for _, st := range []model.SessionStatus{
		model.SessionStatusActive, model.SessionStatusExpired, model.SessionStatusTerminated,
	} {
		out.Sessions[strings.ToLower(string(st))] = d.Sessions[st]
	}
	writeData(w, http.StatusOK, out)
}
