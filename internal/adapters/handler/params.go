package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
)

const maxJSONBody = 64 << 10

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &id, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Required:      true,
	})
	return id, err
}

// pageParams reads limit/offset, leaving the defaults in place when absent.
func pageParams(r *http.Request) (limit, offset int, err error) {
	limit, offset = 20, 0
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "limit", q, &limit); err != nil {
		return 0, 0, err
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", q, &offset); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

// decodeJSON reads a bounded body into dst and runs struct validation. It writes the 400 itself.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		badRequest(w, "request body is too large or unreadable")
		return false
	}

	if err := json.Unmarshal(body, dst); err != nil {
		badRequest(w, "request body must be valid JSON")
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		badRequest(w, err.Error())
		return false
	}
	return true
}
