package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/confirmation-messenger/internal/connection"
	"github.com/hackgods/confirmation-messenger/internal/phone"
)

func connectHandler(mgr *connection.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConnectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		number := phone.Digits(req.PhoneNumber)
		if number == "" {
			writeError(w, http.StatusBadRequest, "invalid_phone_number", "phone_number must contain digits")
			return
		}

		qrURL, err := mgr.Connect(r.Context(), number, req.RequestQR)
		if err != nil {
			handleConnectError(w, err)
			return
		}

		snap, err := mgr.Status(number)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, ConnectResponse{
			PhoneNumber: number,
			State:       string(snap.State),
			QRCodeURL:   qrURL,
		})
	}
}

func sendHandler(mgr *connection.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		number := phone.Digits(req.PhoneNumber)
		if number == "" {
			writeError(w, http.StatusBadRequest, "invalid_phone_number", "phone_number must contain digits")
			return
		}
		if req.Destination == "" {
			writeError(w, http.StatusBadRequest, "invalid_destination", "destination is required")
			return
		}
		if req.Text == "" {
			writeError(w, http.StatusBadRequest, "invalid_text", "text is required")
			return
		}

		kind := connection.KindBulk
		switch req.Kind {
		case "", string(connection.KindBulk):
		case string(connection.KindReply):
			kind = connection.KindReply
		default:
			writeError(w, http.StatusBadRequest, "invalid_kind", "kind must be reply or bulk")
			return
		}

		if req.AwaitReply && req.AppointmentID == nil {
			writeError(w, http.StatusBadRequest, "invalid_await_reply", "await_reply requires appointment_id")
			return
		}

		queued := mgr.Enqueue(number, connection.OutboundMessage{
			Destination:              req.Destination,
			Text:                     req.Text,
			Kind:                     kind,
			AppointmentID:            req.AppointmentID,
			CreateConfirmationWindow: req.AwaitReply,
		})
		if !queued {
			// Either no connected session for the number or the queue is
			// at capacity; both mean "retry later".
			writeError(w, http.StatusConflict, "not_queued", "connection not ready or queue full")
			return
		}

		writeJSON(w, http.StatusAccepted, SendResponse{Queued: true})
	}
}

func disconnectHandler(mgr *connection.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DisconnectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		number := phone.Digits(req.PhoneNumber)
		if number == "" {
			writeError(w, http.StatusBadRequest, "invalid_phone_number", "phone_number must contain digits")
			return
		}

		if err := mgr.Disconnect(r.Context(), number); err != nil {
			if errors.Is(err, connection.ErrUnknownPhone) {
				writeError(w, http.StatusNotFound, "unknown_phone", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func statusHandler(mgr *connection.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		number := phone.Digits(chi.URLParam(r, "phone"))
		if number == "" {
			writeError(w, http.StatusBadRequest, "invalid_phone_number", "phone must contain digits")
			return
		}

		snap, err := mgr.Status(number)
		if err != nil {
			if errors.Is(err, connection.ErrUnknownPhone) {
				writeError(w, http.StatusNotFound, "unknown_phone", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, snap)
	}
}

func handleConnectError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, connection.ErrConnectInProgress):
		writeError(w, http.StatusConflict, "connect_in_progress", err.Error())
	case errors.Is(err, connection.ErrDisabled):
		writeError(w, http.StatusConflict, "connection_disabled", "number is disabled, request a new QR to re-enable")
	case errors.Is(err, connection.ErrConnectTimeout):
		writeError(w, http.StatusGatewayTimeout, "connect_timeout", err.Error())
	case errors.Is(err, connection.ErrConnectionClosed):
		writeError(w, http.StatusBadGateway, "connection_closed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
