// Package upload is the thin image-upload endpoint. Files land on local
// disk under the configured directory and are referenced by chat messages
// as "/uploads/<name>" paths; the retention sweeper removes them together
// with their expired messages.
package upload

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const maxUploadBytes = 5 << 20 // 5MB, same cap the original UI enforces

type Store struct {
	dir string
	log *zap.Logger
}

func NewStore(dir string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) Dir() string { return s.dir }

// SaveFromRequest stores the named multipart file and returns its public
// path.
func (s *Store) SaveFromRequest(r *http.Request, field string) (string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", err
	}
	defer file.Close()

	if header.Size > maxUploadBytes {
		return "", fmt.Errorf("file exceeds %d bytes", maxUploadBytes)
	}

	name := uniqueName(filepath.Ext(header.Filename))
	dst, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, io.LimitReader(file, maxUploadBytes)); err != nil {
		return "", err
	}
	return "/uploads/" + name, nil
}

// HandleChatUpload is POST /api/chat/upload: multipart field "image",
// responds {success, path}.
func (s *Store) HandleChatUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+1024)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "upload too large"})
		return
	}

	path, err := s.SaveFromRequest(r, "image")
	if err != nil {
		s.log.Warn("chat upload failed", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "no file uploaded"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "path": path})
}

func uniqueName(ext string) string {
	return fmt.Sprintf("%d-%09d%s", time.Now().UnixMilli(), rand.Intn(1_000_000_000), ext)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
