package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.olrik.dev/torcalc/internal/db"
)

// maxBody caps request bodies
const maxBody = 1 << 20

// Bridge error codes for requests that never reached the store
const (
	codeBadRequest           db.ErrorCode = "BAD_REQUEST"
	codeForbidden            db.ErrorCode = "FORBIDDEN"
	codeForbiddenPath        db.ErrorCode = "FORBIDDEN_PATH"
	codeUnsupportedMediaType db.ErrorCode = "UNSUPPORTED_MEDIA_TYPE"
)

// Request types

// LoginRequest is the body of /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AddTransactionRequest is the body of POST /api/transactions. Amount
// may be a JSON number or a string.
type AddTransactionRequest struct {
	Amount  json.RawMessage `json:"amount"`
	Comment string          `json:"comment"`
}

// ExportRequest is the optional body of the export endpoints. Path must be
// absolute and inside the export or data directory.
type ExportRequest struct {
	Path string `json:"path"`
}

// SettingRequest is the body of PUT /api/settings/{key}.
type SettingRequest struct {
	Value string `json:"value"`
}

// Response envelope

// Envelope is the wire shape of every bridge response: ok plus either an
// error code or the payload fields.
type Envelope map[string]any

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Envelope{"ok": true, "message": "pong"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Envelope{
		"ok":      true,
		"app":     s.info.App,
		"version": s.info.Version,
		"dataDir": s.info.DataDir,
		"dbPath":  s.info.DBPath,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res := s.store.Login(req.Username, req.Password)
	writeResult(w, res, func(u db.User) Envelope { return Envelope{"user": u} })
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	res := s.store.ListTransactions()
	writeResult(w, res, func(items []db.Transaction) Envelope { return Envelope{"items": items} })
}

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	var req AddTransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res := s.store.AddTransaction(amountText(req.Amount), req.Comment)
	writeResult(w, res, func(tx db.Transaction) Envelope { return Envelope{"item": tx} })
}

// amountText accepts a JSON number or string. Anything else becomes an
// empty string, which the store rejects as INVALID_AMOUNT.
func amountText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return ""
		}
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) != nil {
		return ""
	}
	return n.String()
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest)
		return
	}
	res := s.store.DeleteTransaction(id)
	writeResult(w, res, func(n int64) Envelope { return Envelope{"deleted": n} })
}

func (s *Server) handleClearTransactions(w http.ResponseWriter, r *http.Request) {
	res := s.store.ClearTransactions()
	writeResult(w, res, func(n int64) Envelope { return Envelope{"deleted": n} })
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	res := s.store.GetSetting(chi.URLParam(r, "key"))
	writeResult(w, res, settingEnvelope)
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	var req SettingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res := s.store.SetSetting(chi.URLParam(r, "key"), req.Value)
	writeResult(w, res, settingEnvelope)
}

func settingEnvelope(st db.Setting) Envelope {
	env := Envelope{"key": st.Key, "found": st.Found}
	if st.Found {
		env["value"] = st.Value
	}
	return env
}

func (s *Server) handleExport(format db.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExportRequest
		if r.ContentLength != 0 && !decodeBody(w, r, &req) {
			return
		}
		path := req.Path
		if path != "" && !s.exportPathAllowed(path) {
			s.logger.Warn("Rejected export outside the allowed directories", "path", path)
			writeError(w, http.StatusForbidden, codeForbiddenPath)
			return
		}
		if path == "" && s.exportDir != "" {
			path = filepath.Join(s.exportDir, db.DefaultExportName(format, s.clock.Now()))
		}

		var res db.Result[db.Export]
		if format == db.FormatJSON {
			res = s.store.ExportJSON(path)
		} else {
			res = s.store.ExportCSV(path)
		}
		writeResult(w, res, func(e db.Export) Envelope { return Envelope{"path": e.Path, "count": e.Count} })
	}
}

// exportPathAllowed reports whether path is an absolute file path under the
// export directory or the data directory
func (s *Server) exportPathAllowed(path string) bool {
	if !filepath.IsAbs(path) {
		return false
	}
	path = filepath.Clean(path)
	for _, root := range []string{s.exportDir, s.info.DataDir} {
		if root == "" || !filepath.IsAbs(root) {
			continue
		}
		rel, err := filepath.Rel(filepath.Clean(root), path)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return true
	}
	return false
}

func (s *Server) handleWindowReload(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Reload requested")
	s.windowAction(w, r, Window.Reload)
}

func (s *Server) handleWindowClose(w http.ResponseWriter, r *http.Request) {
	s.windowAction(w, r, Window.Close)
}

// windowAction reports ok=false when no window is attached or the action
// fails; the UI treats both the same
func (s *Server) windowAction(w http.ResponseWriter, r *http.Request, action func(Window, context.Context) error) {
	win := s.currentWindow()
	if win == nil {
		writeJSON(w, http.StatusOK, Envelope{"ok": false})
		return
	}
	if err := action(win, r.Context()); err != nil {
		s.logger.Warn("Window action failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusOK, Envelope{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, Envelope{"ok": true})
}

// writeResult converts a store result into the wire envelope
func writeResult[T any](w http.ResponseWriter, res db.Result[T], payload func(T) Envelope) {
	if !res.OK() {
		writeError(w, statusFor(res.Code), res.Code)
		return
	}
	env := payload(res.Value)
	env["ok"] = true
	writeJSON(w, http.StatusOK, env)
}

func statusFor(code db.ErrorCode) int {
	switch code {
	case db.CodeInvalidAmount, db.CodeEmptyCredentials, codeBadRequest:
		return http.StatusBadRequest
	case db.CodeInvalidCredentials:
		return http.StatusUnauthorized
	case db.CodeCancelled:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, codeBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code db.ErrorCode) {
	writeJSON(w, status, Envelope{"ok": false, "error": code})
}
