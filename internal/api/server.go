package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/atlas_agent/internal/activity"
	"github.com/dgnsrekt/atlas_agent/internal/cdp"
	"github.com/dgnsrekt/atlas_agent/internal/gateway"
	"github.com/dgnsrekt/atlas_agent/internal/handoff"
	"github.com/dgnsrekt/atlas_agent/internal/prefs"
	"github.com/dgnsrekt/atlas_agent/internal/relay"
	"github.com/dgnsrekt/atlas_agent/internal/resolve"
	"github.com/dgnsrekt/atlas_agent/internal/tabctx"
)

// Deps are the companion components the API surfaces.
type Deps struct {
	Cache    *tabctx.Cache
	Tabs     resolve.TabLister
	Resolver *resolve.Resolver
	Gateway  *gateway.Gateway
	Handoff  *handoff.Store
	Prefs    *prefs.Store
	Activity *activity.Store
	Broker   *relay.Broker
}

func NewServer(deps Deps) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Atlas Companion API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/events", relay.SSEHandler(deps.Broker))

	registerTabHandlers(api, deps)
	registerActionHandlers(api, deps)
	registerStateHandlers(api, deps)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *cdp.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdp.CodeValidation, cdp.CodeNotSerializable:
			return huma.Error400BadRequest(coded.Message)
		case cdp.CodeTabGone, cdp.CodeNoTabForInstance:
			return huma.Error404NotFound(coded.Message)
		case cdp.CodeOutOfScope:
			return huma.Error422UnprocessableEntity(coded.Message)
		case cdp.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdp.CodeExecutorUnavailable, cdp.CodeInPageThrow:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
