package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/guestfsrpc/pkg/action"
)

// ActionsHandler serves the action catalog.
type ActionsHandler struct {
	registry *action.Registry
}

// NewActionsHandler creates a handler over reg.
func NewActionsHandler(reg *action.Registry) *ActionsHandler {
	return &ActionsHandler{registry: reg}
}

// ArgInfo describes one argument of an action.
type ArgInfo struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// ActionInfo is the JSON form of an action.Descriptor.
type ActionInfo struct {
	Name        string    `json:"name"`
	Proc        uint32    `json:"proc"`
	Args        []ArgInfo `json:"args"`
	OptArgs     []ArgInfo `json:"optargs,omitempty"`
	Ret         string    `json:"ret"`
	Struct      string    `json:"struct,omitempty"`
	Cancellable bool      `json:"cancellable,omitempty"`
	Progress    bool      `json:"progress,omitempty"`
	ConfigOnly  bool      `json:"config_only,omitempty"`
	Summary     string    `json:"summary,omitempty"`
}

func actionInfo(d *action.Descriptor) ActionInfo {
	info := ActionInfo{
		Name:        d.Name,
		Proc:        d.ProcNr,
		Args:        make([]ArgInfo, 0, len(d.Args)),
		Ret:         d.Ret.Kind.String(),
		Struct:      d.Ret.Struct,
		Cancellable: d.Cancellable(),
		Progress:    d.EmitsProgress(),
		ConfigOnly:  d.ConfigOnly(),
		Summary:     d.Summary,
	}
	for _, a := range d.Args {
		info.Args = append(info.Args, ArgInfo{Name: a.Name, Kind: a.Kind.String()})
	}
	for _, a := range d.OptArgs {
		info.OptArgs = append(info.OptArgs, ArgInfo{Name: a.Name, Kind: a.Kind.String()})
	}
	return info
}

// List handles GET /actions, ordered by procedure number.
func (h *ActionsHandler) List(w http.ResponseWriter, r *http.Request) {
	all := h.registry.All()
	out := make([]ActionInfo, 0, len(all))
	for _, d := range all {
		out = append(out, actionInfo(d))
	}
	writeJSON(w, http.StatusOK, okResponse(out))
}

// Get handles GET /actions/{name}.
func (h *ActionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	d, ok := h.registry.Lookup(name)
	if !ok {
		NotFound(w, "unknown action "+name)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(actionInfo(d)))
}
