package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble"
)

// WriteRequest is the body of POST /peers/{address}/attributes/{handle}.
// Value is hex, as in a control message payload.
type WriteRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleListPeers(w http.ResponseWriter, _ *http.Request) {
	peers := s.bridge.Peers()
	if peers == nil {
		peers = []ble.PeerStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"peers": peers,
		"count": len(peers),
	})
}

func (s *Server) handleListAttributes(w http.ResponseWriter, r *http.Request) {
	if s.attributes == nil {
		writeUnavailable(w, "attribute recording is disabled")
		return
	}
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	attrs, err := s.attributes.Attributes(r.Context(), addr)
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	if attrs == nil {
		attrs = []ble.RecordedAttribute{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attributes": attrs})
}

// handleWriteAttribute dispatches a write the same way a control message
// would be.
func (s *Server) handleWriteAttribute(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	handle, ok := handleParam(w, r)
	if !ok {
		return
	}

	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	value, err := ble.DecodeValue([]byte(req.Value))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.bridge.Write(addr, handle, value); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"address": addr,
		"handle":  fmt.Sprintf("%04x", handle),
		"value":   string(ble.EncodeValue(value)),
	})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	handle, ok := handleParam(w, r)
	if !ok {
		return
	}
	if err := s.bridge.Unsubscribe(r.Context(), addr, handle); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func addressParam(w http.ResponseWriter, r *http.Request) (ble.Address, bool) {
	addr, err := ble.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return ble.Address{}, false
	}
	return addr, true
}

// handleParam parses an attribute handle given in hex, with or without 0x.
// 0x0000 and 0xffff are not attribute handles.
func handleParam(w http.ResponseWriter, r *http.Request) (uint16, bool) {
	raw := chi.URLParam(r, "handle")
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(raw), "0x"), 16, 16)
	if err != nil || v == 0 || v == uint64(ble.MaxHandle) {
		writeBadRequest(w, "invalid attribute handle: "+raw)
		return 0, false
	}
	return uint16(v), true
}
