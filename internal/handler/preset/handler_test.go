package preset

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/genchat/backend/internal/model/preset"
)

func TestListPresets(t *testing.T) {
	r := chi.NewRouter()
	New(preset.NewMemoryStore(preset.Seed())).RegisterRoutes(r)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/presets", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var got []preset.Preset
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(preset.Seed()) || got[0].ID != "chat" {
		t.Fatalf("unexpected presets %+v", got)
	}
}
