package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mahaj/chatcore/pkg/chaterr"
	"github.com/mahaj/chatcore/pkg/checkpoint"
	"github.com/mahaj/chatcore/pkg/model"
)

// readModel is the slice of the chat client the inspector serves.
type readModel interface {
	Rooms(filter model.RoomFilter, page, limit int) []model.Room
	Room(id int64) (model.Room, error)
	Messages(roomID, anchor int64, limit int, dir model.Direction) []model.Message
	TotalUnread() int
	Integrity(roomID int64) []int64
	Checkpoints() checkpoint.Checkpoints
}

// newInspector exposes the local read models as read-only JSON.
func newInspector(rm readModel, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/checkpoints", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, rm.Checkpoints())
	})
	r.Route("/rooms", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			filter := model.RoomFilter{
				ShowParticipant: q.Get("participants") == "true",
				ShowRemoved:     q.Get("removed") == "true",
				ShowEmpty:       q.Get("empty") == "true",
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"rooms":              rm.Rooms(filter, queryInt(r, "page", 1), queryInt(r, "limit", 100)),
				"total_unread_count": rm.TotalUnread(),
			})
		})
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			id, ok := roomID(w, r)
			if !ok {
				return
			}
			room, err := rm.Room(id)
			if errors.Is(err, chaterr.ErrNotFound) {
				http.Error(w, "room not found", http.StatusNotFound)
				return
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"room": room, "missing_links": rm.Integrity(id)})
		})
		r.Get("/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
			id, ok := roomID(w, r)
			if !ok {
				return
			}
			dir := model.Before
			if r.URL.Query().Get("direction") == "after" {
				dir = model.After
			}
			anchor := int64(queryInt(r, "anchor", 0))
			writeJSON(w, http.StatusOK, map[string]any{
				"messages": rm.Messages(id, anchor, queryInt(r, "limit", 20), dir),
			})
		})
	})
	return r
}

func roomID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "room ID must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
