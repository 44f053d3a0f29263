package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// uploadResp is the JSON response returned after a successful upload.
type uploadResp struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Size      int64  `json:"size"`
	Type      string `json:"type"`
	Permanent bool   `json:"permanent,omitempty"`
}

// handleUpload handles POST /upload and POST /upload-permanent. The
// multipart body is streamed to disk without buffering the whole file.
// A permanent upload requires the configured API key and is exempt
// from retention.
func (s *Server) handleUpload(permanent bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if permanent {
			if s.cfg.APIKey == "" {
				http.Error(w, "Permanent uploads are disabled", http.StatusForbidden)
				return
			}
			if !s.apiKeyOK(r) {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}
		}

		mr, err := r.MultipartReader()
		if err != nil {
			http.Error(w, "Invalid multipart request", http.StatusBadRequest)
			return
		}

		var (
			filePart    io.Reader
			filename    string
			contentType string
		)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				http.Error(w, "Invalid multipart request", http.StatusBadRequest)
				return
			}
			if part.FormName() != "file" {
				_ = part.Close()
				continue
			}
			defer func() { _ = part.Close() }()
			filePart = part
			filename = part.FileName()
			contentType = part.Header.Get("Content-Type")
			break
		}

		if filePart == nil || filename == "" {
			http.Error(w, "missing filename", http.StatusBadRequest)
			return
		}

		limit := s.cfg.MaxUploadBytes
		ext := storedExtension(filename)

		// Read one byte past the limit so an oversized body is detectable
		// without trusting Content-Length.
		storedName, size, err := s.store.Put(io.LimitReader(filePart, limit+1), ext)
		if err != nil {
			Error("upload store failed", map[string]any{"filename": filename}, err)
			http.Error(w, "Upload failed", http.StatusInternalServerError)
			return
		}
		if size > limit {
			_ = s.store.Delete(storedName)
			http.Error(w,
				fmt.Sprintf("File too large. Maximum allowed size is %.1f MB.", float64(limit)/(1024*1024)),
				http.StatusRequestEntityTooLarge)
			return
		}

		// The slug is the object's identity everywhere: catalog key,
		// admin handle, and the URL path minus the extension.
		obj := StoredObject{
			ID:           strings.TrimSuffix(storedName, ext),
			OriginalName: filename,
			StoredName:   storedName,
			ContentType:  defaultContentType(contentType),
			SizeBytes:    size,
			Permanent:    permanent,
			CreatedAt:    time.Now().UTC(),
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.catalog.Insert(ctx, obj); err != nil {
			// No orphan files: a row we cannot record is a file we do not keep.
			_ = s.store.Delete(storedName)
			Error("upload insert failed", map[string]any{"stored_name": storedName}, err)
			http.Error(w, "Upload failed", http.StatusInternalServerError)
			return
		}

		s.metrics.RecordUpload(size)
		Info("upload complete", map[string]any{
			"id":        obj.ID,
			"stored":    storedName,
			"size":      size,
			"permanent": permanent,
		})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(uploadResp{
			ID:        obj.ID,
			URL:       "/" + url.PathEscape(storedName),
			Size:      size,
			Type:      obj.ContentType,
			Permanent: permanent,
		})
	}
}
