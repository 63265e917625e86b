package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nerrad567/gray-logic-blebridge/internal/bonds"
)

// AddBondRequest is the body of POST /bonds.
type AddBondRequest struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

func (s *Server) handleListBonds(w http.ResponseWriter, r *http.Request) {
	if s.bonds == nil {
		writeUnavailable(w, "no bond source configured")
		return
	}
	list, err := s.bonds.List(r.Context())
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	if list == nil {
		list = []bonds.Bond{}
	}
	_, editable := s.bonds.(bonds.Editor)
	writeJSON(w, http.StatusOK, map[string]any{
		"bonds":    list,
		"count":    len(list),
		"editable": editable,
	})
}

func (s *Server) handleAddBond(w http.ResponseWriter, r *http.Request) {
	editor, ok := s.editor(w)
	if !ok {
		return
	}
	var req AddBondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	bond := &bonds.Bond{Name: strings.TrimSpace(req.Name)}
	if err := bond.Address.UnmarshalText([]byte(req.Address)); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := editor.Add(r.Context(), bond); err != nil {
		writeDomainError(w, err)
		return
	}
	s.logger.Info("bond added", "address", bond.Address.String(), "subject", r.Context().Value(ctxKeySubject))
	writeJSON(w, http.StatusCreated, bond)
}

func (s *Server) handleRemoveBond(w http.ResponseWriter, r *http.Request) {
	editor, ok := s.editor(w)
	if !ok {
		return
	}
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	if err := editor.Remove(r.Context(), addr); err != nil {
		writeDomainError(w, err)
		return
	}
	s.logger.Info("bond removed", "address", addr.String(), "subject", r.Context().Value(ctxKeySubject))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) editor(w http.ResponseWriter) (bonds.Editor, bool) {
	if s.bonds == nil {
		writeUnavailable(w, "no bond source configured")
		return nil, false
	}
	editor, ok := s.bonds.(bonds.Editor)
	if !ok {
		writeDomainError(w, bonds.ErrReadOnly)
		return nil, false
	}
	return editor, true
}
