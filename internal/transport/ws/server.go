// Package ws serves campaigns over websocket. Each connection owns one
// campaign session and is answered strictly in request order.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"shopkeep.ai/internal/campaign"
	"shopkeep.ai/internal/protocol"
	"shopkeep.ai/internal/sim/kernel"
)

const (
	readTimeout  = 5 * time.Minute
	writeTimeout = 5 * time.Second
	maxMessage   = 1 << 20
)

type Server struct {
	k       *kernel.Kernel
	sinks   campaign.Sinks
	metrics *Metrics
	log     *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(k *kernel.Kernel, sinks campaign.Sinks, m *Metrics, logger *log.Logger) *Server {
	if m == nil {
		m = NewMetrics(nil)
	}
	return &Server{
		k:       k,
		sinks:   sinks,
		metrics: m,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(maxMessage)

		s.metrics.Sessions.Inc()
		defer s.metrics.Sessions.Dec()

		sess := campaign.NewSession(s.k, s.sinks)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			resp := s.handle(r.Context(), sess, msg)
			if err := writeJSON(conn, resp); err != nil {
				s.printf("write: %v", err)
				break
			}
		}
		if st, ok := sess.State(); ok {
			s.printf("session closed campaign=%s day=%d", st.CampaignID, st.Day)
		}
	}
}

// handle answers one request. It never fails; problems come back as ERROR.
func (s *Server) handle(ctx context.Context, sess *campaign.Session, msg []byte) any {
	base, err := protocol.ValidateRequest(msg)
	if err != nil {
		return s.fail(base.ReqID, protocol.ErrProtoBadRequest, err)
	}
	if base.ProtocolVersion != protocol.Version {
		return s.fail(base.ReqID, protocol.ErrProtoVersion,
			fmt.Errorf("protocol_version %q, server speaks %s", base.ProtocolVersion, protocol.Version))
	}

	switch base.Type {
	case protocol.TypeBegin:
		var m protocol.BeginMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return s.fail(base.ReqID, protocol.ErrProtoBadRequest, err)
		}
		if _, err := sess.Begin(kernel.CampaignOptions{ID: m.CampaignID, Seed: m.Seed, Start: m.Start}); err != nil {
			return s.fail(base.ReqID, errorCode(err), err)
		}
		return s.state(base.ReqID, sess)

	case protocol.TypeState:
		return s.state(base.ReqID, sess)

	case protocol.TypeListActions:
		list, err := sess.Actions()
		if err != nil {
			return s.fail(base.ReqID, errorCode(err), err)
		}
		b, err := json.Marshal(list.Actions)
		if err != nil {
			return s.fail(base.ReqID, protocol.ErrInternal, err)
		}
		if list.Actions == nil {
			b = []byte("[]")
		}
		return protocol.ActionsMsg{
			Type: protocol.TypeActions, ProtocolVersion: protocol.Version, ReqID: base.ReqID,
			Day: list.Day, Remaining: list.Remaining, Actions: b,
		}

	case protocol.TypeApplyAction:
		var m protocol.ApplyActionMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return s.fail(base.ReqID, protocol.ErrProtoBadRequest, err)
		}
		rep, err := sess.Apply(m.Action, kernel.Params{Quantity: m.Quantity})
		if err != nil {
			return s.fail(base.ReqID, errorCode(err), err)
		}
		s.metrics.Actions.WithLabelValues(rep.Action, string(rep.Outcome)).Inc()
		if rep.Terminal != "" {
			s.metrics.Terminations.WithLabelValues(string(rep.Terminal)).Inc()
		}
		b, err := json.Marshal(rep)
		if err != nil {
			return s.fail(base.ReqID, protocol.ErrInternal, err)
		}
		return protocol.TurnMsg{Type: protocol.TypeTurn, ProtocolVersion: protocol.Version, ReqID: base.ReqID, Report: b}

	case protocol.TypeEndDay:
		var m protocol.EndDayMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return s.fail(base.ReqID, protocol.ErrProtoBadRequest, err)
		}
		rep, err := sess.EndDay(kernel.DayOptions{Choices: m.Choices})
		if err != nil {
			return s.fail(base.ReqID, errorCode(err), err)
		}
		s.observeDay(rep)
		b, err := json.Marshal(rep)
		if err != nil {
			return s.fail(base.ReqID, protocol.ErrInternal, err)
		}
		return protocol.DayMsg{Type: protocol.TypeDay, ProtocolVersion: protocol.Version, ReqID: base.ReqID, Report: b}

	case protocol.TypeSave:
		path, _, err := sess.Save()
		if err != nil {
			return s.fail(base.ReqID, errorCode(err), err)
		}
		st, _ := sess.State()
		b, err := s.k.Save(st)
		if err != nil {
			return s.fail(base.ReqID, errorCode(err), err)
		}
		digest, err := s.k.Digest(st)
		if err != nil {
			return s.fail(base.ReqID, errorCode(err), err)
		}
		return protocol.SavedMsg{
			Type: protocol.TypeSaved, ProtocolVersion: protocol.Version, ReqID: base.ReqID,
			Path: path, Digest: digest, Save: b,
		}

	case protocol.TypeLoad:
		var m protocol.LoadMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return s.fail(base.ReqID, protocol.ErrProtoBadRequest, err)
		}
		if len(m.Save) > 0 {
			_, err = sess.Load(m.Save)
		} else {
			_, err = sess.Resume(ctx, m.CampaignID)
		}
		if err != nil {
			return s.fail(base.ReqID, errorCode(err), err)
		}
		return s.state(base.ReqID, sess)
	}
	return s.fail(base.ReqID, protocol.ErrProtoBadRequest, fmt.Errorf("unexpected message type %q", base.Type))
}

func (s *Server) state(reqID string, sess *campaign.Session) any {
	st, ok := sess.State()
	if !ok {
		return s.fail(reqID, protocol.ErrNoCampaign, campaign.ErrNoCampaign)
	}
	digest, err := s.k.Digest(st)
	if err != nil {
		return s.fail(reqID, errorCode(err), err)
	}
	return protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		CampaignID:      st.CampaignID,
		Seed:            st.Seed,
		Day:             st.Day,
		Remaining:       st.Plan.Remaining(),
		Metrics:         st.Snapshot.Values(),
		Pending:         len(st.Pending),
		Terminal:        string(st.Terminal),
		Digest:          digest,
		ConfigDigest:    st.ConfigDigest,
	}
}

func (s *Server) observeDay(rep kernel.DayReport) {
	s.metrics.Days.Inc()
	for _, group := range [][]kernel.EventReport{rep.Events, rep.Absorbed} {
		for _, ev := range group {
			s.metrics.Events.WithLabelValues(ev.Category).Inc()
			if ev.Truncated || ev.CycleDetected {
				s.metrics.Truncations.Inc()
			}
		}
	}
	if rep.Terminal != "" {
		s.metrics.Terminations.WithLabelValues(string(rep.Terminal)).Inc()
	}
}

func (s *Server) fail(reqID, code string, err error) protocol.ErrorMsg {
	s.metrics.Errors.WithLabelValues(code).Inc()
	return protocol.NewError(reqID, code, err.Error())
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
