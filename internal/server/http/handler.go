package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/vkushnir/filevault/internal/common"
	"github.com/vkushnir/filevault/internal/server/files"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("malformed request body: %w", common.ErrorValidation))
		return
	}

	user, err := s.users.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{"username": user.UserName})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("malformed request body: %w", common.ErrorValidation))
		return
	}

	user, err := s.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	token, err := s.sessions.Issue(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	if err := s.sessions.Revoke(r.Context(), user.ID); err != nil {
		s.writeError(w, r, err)
		return
	}

	// the rotated token from withAuth is dead after revocation
	w.Header().Del(TokenHeaderName)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	list, err := s.files.List(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	type fileEntry struct {
		Filename  string `json:"filename"`
		HashValue string `json:"hash_value"`
		Shared    bool   `json:"shared"`
	}
	out := make([]fileEntry, 0, len(list))
	for _, f := range list {
		out = append(out, fileEntry{Filename: f.Filename, HashValue: f.HashValue, Shared: f.Shared})
	}

	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		s.writeError(w, r, fmt.Errorf("missing filename: %w", common.ErrorValidation))
		return
	}

	file, err := s.files.Upload(r.Context(), user, filename, r.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{
		"filename":   file.Filename,
		"hash_value": file.HashValue,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		s.writeError(w, r, fmt.Errorf("missing filename: %w", common.ErrorValidation))
		return
	}

	projection, err := files.ParseProjection(r.URL.Query().Get("type"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	content, attachment, err := s.files.Download(r.Context(), user, filename, projection, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeAttachment(w, attachment, content)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		s.writeError(w, r, fmt.Errorf("missing filename: %w", common.ErrorValidation))
		return
	}

	if err := s.files.Delete(r.Context(), user, filename); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		s.writeError(w, r, fmt.Errorf("missing filename: %w", common.ErrorValidation))
		return
	}

	shared, err := s.files.ToggleShare(r.Context(), user, filename)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"shared": shared})
}

func (s *Server) handleListShared(w http.ResponseWriter, r *http.Request) {
	list, err := s.files.ListShared(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	type sharedEntry struct {
		Filename string `json:"filename"`
		Owner    string `json:"owner"`
	}
	out := make([]sharedEntry, 0, len(list))
	for _, f := range list {
		out = append(out, sharedEntry{Filename: f.Filename, Owner: f.OwnerName})
	}

	s.writeJSON(w, http.StatusOK, out)
}

// handleSharedDownload serves another user's shared file. No session is
// required; the files service enforces that only the encrypted and
// signature projections of a shared file are reachable this way.
func (s *Server) handleSharedDownload(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")
	username := r.URL.Query().Get("username")
	if filename == "" || username == "" {
		s.writeError(w, r, fmt.Errorf("missing filename or username: %w", common.ErrorValidation))
		return
	}

	projection, err := files.ParseProjection(r.URL.Query().Get("type"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	owner, err := s.users.GetByUsername(r.Context(), username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	content, attachment, err := s.files.Download(r.Context(), owner, filename, projection, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeAttachment(w, attachment, content)
}

func writeAttachment(w http.ResponseWriter, filename string, content []byte) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}
