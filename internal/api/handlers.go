package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/manpreetbhatti/sketchroom/internal/activity"
	"github.com/manpreetbhatti/sketchroom/internal/db"
	"github.com/manpreetbhatti/sketchroom/internal/protocol"
	"github.com/manpreetbhatti/sketchroom/internal/ws"
)

// API serves read-only views of the live relay plus the activity
// archive. database and recorder are nil when archiving is disabled.
type API struct {
	hub      *ws.Hub
	database *db.Database
	recorder *activity.Recorder
}

func New(hub *ws.Hub, database *db.Database, recorder *activity.Recorder) *API {
	return &API{
		hub:      hub,
		database: database,
		recorder: recorder,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"archive":        a.database != nil,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err == nil {
			stats["total_rooms"] = dbStats["room_count"]
			stats["total_strokes"] = dbStats["stroke_count"]
			stats["total_sessions"] = dbStats["session_count"]
		} else {
			log.Printf("Stats: failed to read archive: %v", err)
		}
	}

	if a.recorder != nil {
		stats["activity_written"] = a.recorder.Written()
		stats["activity_dropped"] = a.recorder.Dropped()
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	ID          string     `json:"id"`
	Live        bool       `json:"live"`
	ActiveUsers int        `json:"active_users"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	Sessions    int        `json:"sessions,omitempty"`
	Strokes     int        `json:"strokes,omitempty"`
	Undos       int        `json:"undos,omitempty"`
	Clears      int        `json:"clears,omitempty"`
	Joins       int        `json:"joins,omitempty"`
	PeakUsers   int        `json:"peak_users,omitempty"`
}

type RoomDetailResponse struct {
	RoomResponse
	Users          []protocol.User `json:"users"`
	HistorySize    int             `json:"history_size"`
	RecentSessions []db.Session    `json:"recent_sessions,omitempty"`
}

func archivedRoom(room db.Room, active map[string]int) RoomResponse {
	created, updated := room.CreatedAt, room.UpdatedAt
	users, live := active[room.ID]
	return RoomResponse{
		ID:          room.ID,
		Live:        live,
		ActiveUsers: users,
		CreatedAt:   &created,
		UpdatedAt:   &updated,
		Sessions:    room.Sessions,
		Strokes:     room.Strokes,
		Undos:       room.Undos,
		Clears:      room.Clears,
		Joins:       room.Joins,
		PeakUsers:   room.PeakUsers,
	}
}

func pagination(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit, offset := pagination(r)
	activeRooms := a.hub.GetActiveRooms()

	var response []RoomResponse
	if a.database != nil {
		rooms, err := a.database.ListRooms(limit, offset)
		if err != nil {
			errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
			return
		}
		response = make([]RoomResponse, len(rooms))
		for i, room := range rooms {
			response[i] = archivedRoom(room, activeRooms)
		}
	} else {
		ids := make([]string, 0, len(activeRooms))
		for id := range activeRooms {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		response = []RoomResponse{}
		for i := offset; i < len(ids) && i < offset+limit; i++ {
			response = append(response, RoomResponse{
				ID:          ids[i],
				Live:        true,
				ActiveUsers: activeRooms[ids[i]],
			})
		}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms":  response,
		"limit":  limit,
		"offset": offset,
	})
}

func roomIDFromPath(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	return strings.TrimSuffix(path, "/")
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	roomID := roomIDFromPath(r)
	if roomID == "" {
		errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	detail := RoomDetailResponse{
		RoomResponse: RoomResponse{ID: roomID},
		Users:        []protocol.User{},
	}
	found := false

	if snapshot, ok := a.hub.GetRoom(roomID); ok {
		found = true
		created := snapshot.CreatedAt
		detail.Live = true
		detail.ActiveUsers = len(snapshot.Users)
		detail.CreatedAt = &created
		detail.Users = snapshot.Users
		detail.HistorySize = snapshot.HistorySize
	}

	if a.database != nil {
		room, err := a.database.GetRoom(roomID)
		if err != nil {
			errorResponse(w, http.StatusInternalServerError, "Failed to get room")
			return
		}
		if room != nil {
			found = true
			archived := archivedRoom(*room, map[string]int{roomID: detail.ActiveUsers})
			archived.Live = detail.Live
			detail.RoomResponse = archived

			sessions, err := a.database.ListSessions(roomID, 10)
			if err != nil {
				log.Printf("Failed to list sessions for room %s: %v", roomID, err)
			}
			detail.RecentSessions = sessions
		}
	}

	if !found {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	jsonResponse(w, http.StatusOK, detail)
}

// Removes the archive record only; a live room keeps its canvas
func (a *API) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if a.database == nil {
		errorResponse(w, http.StatusNotFound, "Archive is disabled")
		return
	}

	roomID := roomIDFromPath(r)
	if roomID == "" {
		errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	if err := a.database.DeleteRoom(roomID); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete room")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Room archive deleted"})
}

func (a *API) RoomsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/rooms")

	// /api/rooms or /api/rooms/
	if path == "" || path == "/" {
		a.ListRoomsHandler(w, r)
		return
	}

	// /api/rooms/{id}
	switch r.Method {
	case http.MethodGet:
		a.GetRoomHandler(w, r)
	case http.MethodDelete:
		a.DeleteRoomHandler(w, r)
	default:
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
