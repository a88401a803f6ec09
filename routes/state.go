package routes

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/victorjacobs/go-brink/bridge"
)

type stateResponse struct {
	Systems       []bridge.SystemState `json:"systems"`
	Available     bool                 `json:"available"`
	LastRefreshed time.Time            `json:"last_refreshed"`
	AgeSeconds    float64              `json:"age_seconds"`
}

type stateSource interface {
	State() bridge.State
}

func State(b stateSource) func(http.ResponseWriter, *http.Request, httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		state := b.State()

		resp := stateResponse{
			Systems:       state.Systems,
			Available:     state.Available,
			LastRefreshed: state.LastRefreshed,
			AgeSeconds:    time.Since(state.LastRefreshed).Seconds(),
		}

		if marshaled, err := json.Marshal(resp); err != nil {
			log.Printf("error marshaling: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		} else {
			w.Header().Set("Content-Type", "application/json")
			w.Write(marshaled)
		}
	}
}

func New(b *bridge.Bridge) *httprouter.Router {
	router := httprouter.New()
	router.GET("/state", State(b))
	router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(b.Registry(), promhttp.HandlerOpts{}))

	return router
}
