package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strings"

	"fusion-telemetry/internal/config"
)

// SettingsPayload is the GET body and the POST response.
type SettingsPayload struct {
	Alpha     float64 `json:"alpha"`
	Persisted bool    `json:"persisted"`
}

// SettingsPayloadIn is the strict POST schema. Every key is required.
type SettingsPayloadIn struct {
	Alpha *float64 `json:"alpha"`
}

var settingsPostKeys = []string{"alpha"}

// decodeStrict rejects unknown, duplicate, null and missing keys before
// decoding body into out.
func decodeStrict(body []byte, keys []string, out any) error {
	dec := json.NewDecoder(bytes.NewReader(body))

	allowed := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		allowed[k] = struct{}{}
	}
	seen := make(map[string]struct{}, len(keys))

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("invalid json: expected object")
	}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return fmt.Errorf("invalid json: %w", err)
		}
		key, ok := kt.(string)
		if !ok {
			return errors.New("invalid json: expected string key")
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid json: unknown key %q", key)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("invalid json: duplicate key %q", key)
		}
		seen[key] = struct{}{}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("invalid json: %w", err)
		}
		if strings.TrimSpace(string(raw)) == "null" {
			return fmt.Errorf("invalid json: %q cannot be null", key)
		}
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid json: trailing data")
	}
	for _, k := range keys {
		if _, ok := seen[k]; !ok {
			return fmt.Errorf("invalid json: missing required key %q", k)
		}
	}

	dec2 := json.NewDecoder(bytes.NewReader(body))
	dec2.DisallowUnknownFields()
	if err := dec2.Decode(out); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

// SettingsStore serves /api/settings. Current reads the live filter gain;
// Apply queues a change. When ConfigPath is set, accepted changes are also
// written to the YAML config so they survive a restart.
type SettingsStore struct {
	ConfigPath string
	Current    func() float64
	Apply      func(alpha float64) error
}

func (s SettingsStore) persist(alpha float64) error {
	cfg, err := config.Load(s.ConfigPath)
	if err != nil {
		return err
	}
	cfg.Fusion.Alpha = &alpha
	return config.Save(s.ConfigPath, cfg)
}

func (s SettingsStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			var alpha float64
			if s.Current != nil {
				alpha = s.Current()
			}
			writeJSON(w, http.StatusOK, SettingsPayload{Alpha: alpha})

		case http.MethodPost:
			if ct := strings.TrimSpace(r.Header.Get("Content-Type")); ct != "application/json" {
				http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
				return
			}
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
			if err != nil {
				http.Error(w, fmt.Sprintf("read failed: %v", err), http.StatusBadRequest)
				return
			}
			var p SettingsPayloadIn
			if err := decodeStrict(body, settingsPostKeys, &p); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			alpha := *p.Alpha
			if math.IsNaN(alpha) || alpha < 0 || alpha > 1 {
				http.Error(w, "alpha must be within [0,1]", http.StatusBadRequest)
				return
			}
			if s.Apply == nil {
				http.Error(w, "settings unavailable", http.StatusNotImplemented)
				return
			}
			if err := s.Apply(alpha); err != nil {
				http.Error(w, fmt.Sprintf("apply failed: %v", err), http.StatusServiceUnavailable)
				return
			}

			resp := SettingsPayload{Alpha: alpha}
			if strings.TrimSpace(s.ConfigPath) != "" {
				if err := s.persist(alpha); err != nil {
					log.Printf("settings save failed path=%s err=%v", s.ConfigPath, err)
					http.Error(w, fmt.Sprintf("applied but save failed: %v", err), http.StatusInternalServerError)
					return
				}
				resp.Persisted = true
			}
			writeJSON(w, http.StatusOK, resp)

		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}
