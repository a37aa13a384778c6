package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/peteollama/jamie-gateway/internal/config"
	"github.com/peteollama/jamie-gateway/internal/httputil"
)

type adminRequest struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Admin handles POST /admin/action. Mutating actions persist through the
// config loader, which serializes writers and validates before writing.
func (h *Handler) Admin(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteDetail(w, reqID, http.StatusBadRequest, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	var req adminRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteDetail(w, reqID, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	switch req.Action {
	case "status":
		httputil.WriteJSON(w, reqID, h.statusPayload(r.Context()))

	case "list_models":
		httputil.WriteJSON(w, reqID, map[string]interface{}{
			"models":   h.loader.Models().Models,
			"personas": h.loader.Models().Personas,
		})

	case "set_default_provider":
		h.adminSetDefaultProvider(w, reqID, req.Data)

	case "update_provider":
		h.adminUpdateProvider(w, reqID, req.Data)

	case "update_caching":
		h.adminUpdateCaching(w, reqID, req.Data)

	case "update_model":
		h.adminUpdateModel(w, reqID, req.Data)

	case "show_model":
		h.adminShowModel(w, r, reqID, req.Data)

	default:
		httputil.WriteDetail(w, reqID, http.StatusBadRequest, "Unknown action: "+req.Action)
	}
}

// modelShower is satisfied by the local Ollama client.
type modelShower interface {
	Show(ctx context.Context, model string) (map[string]interface{}, error)
}

func (h *Handler) adminShowModel(w http.ResponseWriter, r *http.Request, reqID string, data json.RawMessage) {
	var in struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &in); err != nil || in.Name == "" {
		httputil.WriteDetail(w, reqID, http.StatusBadRequest, "name is required")
		return
	}

	p, ok := h.router.Registry().Get(config.ProviderOllama)
	if !ok || !p.Configured() {
		httputil.WriteDetail(w, reqID, http.StatusBadGateway, "local model server is not available")
		return
	}
	shower, ok := p.(modelShower)
	if !ok {
		httputil.WriteDetail(w, reqID, http.StatusBadGateway, "local model server is not available")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	card, err := shower.Show(ctx, in.Name)
	if err != nil {
		httputil.WriteDetail(w, reqID, http.StatusBadGateway, "show model: "+err.Error())
		return
	}
	httputil.WriteJSON(w, reqID, card)
}

func adminOK(w http.ResponseWriter, reqID string) {
	httputil.WriteJSON(w, reqID, map[string]string{"status": "success"})
}

func (h *Handler) adminSetDefaultProvider(w http.ResponseWriter, reqID string, data json.RawMessage) {
	var in struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &in); err != nil || in.Name == "" {
		httputil.WriteDetail(w, reqID, http.StatusBadRequest, "name is required")
		return
	}
	err := h.loader.UpdateSystem(func(s *config.SystemConfig) error {
		s.DefaultProvider = in.Name
		return nil
	})
	if err != nil {
		httputil.WriteDetail(w, reqID, http.StatusBadRequest, err.Error())
		return
	}
	adminOK(w, reqID)
}

func (h *Handler) adminUpdateProvider(w http.ResponseWriter, reqID string, data json.RawMessage) {
	var in struct {
		Name       string  `json:"name"`
		Enabled    *bool   `json:"enabled,omitempty"`
		Priority   *int    `json:"priority,omitempty"`
		BaseURL    *string `json:"base_url,omitempty"`
		Endpoint   *string `json:"endpoint,omitempty"`
		APIKey     *string `json:"api_key,omitempty"`
		TimeoutSec *int    `json:"timeout_seconds,omitempty"`
		Fallback   *string `json:"fallback,omitempty"`
	}
	if err := json.Unmarshal(data, &in); err != nil || in.Name == "" {
		httputil.WriteDetail(w, reqID, http.StatusBadRequest, "name is required")
		return
	}

	err := h.loader.UpdateSystem(func(s *config.SystemConfig) error {
		p := s.Providers[in.Name]
		if in.Enabled != nil {
			p.Enabled = *in.Enabled
		}
		if in.Priority != nil {
			p.Priority = *in.Priority
		}
		if in.BaseURL != nil {
			p.BaseURL = *in.BaseURL
		}
		if in.Endpoint != nil {
			p.Endpoint = *in.Endpoint
		}
		if in.APIKey != nil {
			p.APIKey = *in.APIKey
		}
		if in.TimeoutSec != nil {
			p.TimeoutSec = *in.TimeoutSec
		}
		if in.Fallback != nil {
			p.Fallback = *in.Fallback
		}
		s.Providers[in.Name] = p
		return nil
	})
	if err != nil {
		httputil.WriteDetail(w, reqID, http.StatusBadRequest, err.Error())
		return
	}
	adminOK(w, reqID)
}

func (h *Handler) adminUpdateCaching(w http.ResponseWriter, reqID string, data json.RawMessage) {
	var in struct {
		Provider string                 `json:"provider,omitempty"`
		Model    string                 `json:"model,omitempty"`
		Caching  config.CachingOverride `json:"caching"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		httputil.WriteDetail(w, reqID, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	var err error
	switch {
	case in.Model != "":
		err = h.loader.UpdateModels(func(m *config.ModelSettings) error {
			mc := m.Models[in.Model]
			mc.Caching = &in.Caching
			m.Models[in.Model] = mc
			return nil
		})
	case in.Provider != "":
		err = h.loader.UpdateSystem(func(s *config.SystemConfig) error {
			p := s.Providers[in.Provider]
			p.Caching = &in.Caching
			s.Providers[in.Provider] = p
			return nil
		})
	default:
		err = h.loader.UpdateSystem(func(s *config.SystemConfig) error {
			s.Caching = in.Caching.Apply(s.Caching)
			return nil
		})
	}
	if err != nil {
		httputil.WriteDetail(w, reqID, http.StatusBadRequest, err.Error())
		return
	}
	adminOK(w, reqID)
}

func (h *Handler) adminUpdateModel(w http.ResponseWriter, reqID string, data json.RawMessage) {
	var in struct {
		Name              string  `json:"name"`
		Provider          *string `json:"provider,omitempty"`
		DisplayName       *string `json:"display_name,omitempty"`
		ShowInUI          *bool   `json:"show_in_ui,omitempty"`
		MaxResponseLength *int    `json:"max_response_length,omitempty"`
		Conversational    *bool   `json:"conversational,omitempty"`
	}
	if err := json.Unmarshal(data, &in); err != nil || in.Name == "" {
		httputil.WriteDetail(w, reqID, http.StatusBadRequest, "name is required")
		return
	}

	err := h.loader.UpdateModels(func(m *config.ModelSettings) error {
		mc := m.Models[in.Name]
		if in.Provider != nil {
			mc.Provider = *in.Provider
		}
		if in.DisplayName != nil {
			mc.DisplayName = *in.DisplayName
		}
		if in.ShowInUI != nil {
			mc.ShowInUI = *in.ShowInUI
		}
		if in.MaxResponseLength != nil {
			mc.MaxResponseLength = *in.MaxResponseLength
		}
		if in.Conversational != nil {
			mc.Conversational = *in.Conversational
		}
		m.Models[in.Name] = mc
		return nil
	})
	if err != nil {
		httputil.WriteDetail(w, reqID, http.StatusBadRequest, err.Error())
		return
	}
	adminOK(w, reqID)
}
