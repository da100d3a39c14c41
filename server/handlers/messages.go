package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/nomis52/msgflow/processor"
	"github.com/nomis52/msgflow/server/dispatcher"
)

// maxMessageBody bounds an inbound message event payload.
const maxMessageBody = 1 << 20

// MessageAccepted is the response for an accepted message.
type MessageAccepted struct {
	InstanceID string `json:"instance_id"`
}

// MessagesHandler accepts message events and starts workflow instances.
type MessagesHandler struct {
	starter MessageStarter
}

// NewMessagesHandler creates a new MessagesHandler.
func NewMessagesHandler(starter MessageStarter) *MessagesHandler {
	return &MessagesHandler{
		starter: starter,
	}
}

// ServeHTTP implements http.Handler.
func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("reading request body: %v", err),
		})
		return
	}

	event, err := processor.DecodeMessageEvent(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
		})
		return
	}

	instanceID, err := h.starter.Start(event, raw)
	if err != nil {
		if errors.Is(err, dispatcher.ErrInstanceInFlight) {
			writeJSON(w, http.StatusConflict, ErrorResponse{
				Error: err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusAccepted, MessageAccepted{InstanceID: instanceID})
}
