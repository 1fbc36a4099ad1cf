package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"parley/internal/auth"
	"parley/internal/engine"
	"parley/internal/transport"
	"parley/internal/upload"
	"parley/pkg/interfaces"
	"parley/pkg/types"
)

// Server is the HTTP surface: account and token issuance, room and user
// directories, history and direct message reads, uploads, administrative
// deletes and the WebSocket upgrade endpoint. No business logic lives here;
// handlers translate HTTP to store, engine and upload calls.
type Server struct {
	store    interfaces.DurableStore
	engine   *engine.Engine
	tokens   *auth.TokenManager
	uploads  *upload.Store
	ws       *transport.Handler
	validate *validator.Validate
	router   *http.ServeMux
}

func NewServer(store interfaces.DurableStore, eng *engine.Engine, tokens *auth.TokenManager, uploads *upload.Store, ws *transport.Handler) *Server {
	s := &Server{
		store:    store,
		engine:   eng,
		tokens:   tokens,
		uploads:  uploads,
		ws:       ws,
		validate: validator.New(),
		router:   http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := func(h http.HandlerFunc) http.Handler {
		return s.corsMiddleware(s.jsonMiddleware(h))
	}

	s.router.Handle("/api/auth/signup", api(s.handleSignup))
	s.router.Handle("/api/auth/login", api(s.handleLogin))
	s.router.Handle("/api/rooms", api(s.requireAuth(s.handleRooms)))
	s.router.Handle("/api/rooms/", api(s.requireAuth(s.handleRoomByID)))
	s.router.Handle("/api/users", api(s.requireAuth(s.handleUsers)))
	s.router.Handle("/api/messages/", api(s.requireAuth(s.handleMessageByID)))
	s.router.Handle("/api/admin/users/", api(s.requireAuth(s.handleAdminUserByID)))
	s.router.Handle("/api/direct-messages/unread", api(s.requireAuth(s.handleUnread)))
	s.router.Handle("/api/direct-messages/", api(s.requireAuth(s.handleDirectMessages)))
	s.router.Handle("/api/upload", s.corsMiddleware(http.HandlerFunc(s.requireAuth(s.handleUpload))))
	s.router.Handle("/uploads/", s.corsMiddleware(http.HandlerFunc(s.requireAuth(s.handleDownload))))
	s.router.Handle("/health", api(s.healthCheck))
	s.router.HandleFunc("/ws", s.ws.HandleWebSocket)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request and response types.

type SignupRequest struct {
	Username string `json:"username" validate:"required,min=1,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	Token string      `json:"token"`
	User  *types.User `json:"user"`
}

type CreateRoomRequest struct {
	Name      string `json:"name" validate:"required,min=1,max=50"`
	IsPrivate bool   `json:"is_private"`
}

type RoomsResponse struct {
	Rooms []*types.Room `json:"rooms"`
}

type UsersResponse struct {
	Users []*types.UserRef `json:"users"`
}

type MessagesResponse struct {
	Messages []*types.MessageRecord `json:"messages"`
}

type UnreadResponse struct {
	Counts map[string]int `json:"counts"`
}

type UploadResponse struct {
	Message *types.MessageRecord `json:"message"`
	Size    int64                `json:"size"`
	SHA256  string               `json:"sha256"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Authentication.

type contextKey string

const claimsKey contextKey = "claims"

// requireAuth validates the Bearer token and stashes its claims in the
// request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == "" || tokenString == header {
			s.sendError(w, "Missing bearer token", http.StatusUnauthorized)
			return
		}

		claims, err := s.tokens.Verify(tokenString)
		if err != nil {
			s.sendError(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next(w, r.WithContext(ctx))
	}
}

func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsKey).(*auth.Claims)
	return claims
}

// Auth endpoints.

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !types.IsValidUsername(req.Username) {
		s.sendError(w, "Username may only contain letters, digits, '-' and '_'", http.StatusBadRequest)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The first account on a fresh installation becomes the admin.
	existing, err := s.store.ListUsers(r.Context())
	if err != nil {
		log.Printf("Signup failed: %v", err)
		s.sendError(w, "Failed to create account", http.StatusInternalServerError)
		return
	}

	user, err := s.store.CreateUser(r.Context(), req.Username, req.Email, hash, len(existing) == 0)
	if err != nil {
		if errors.Is(err, interfaces.ErrUserExists) {
			s.sendError(w, "Username or email already registered", http.StatusConflict)
			return
		}
		log.Printf("Signup failed: %v", err)
		s.sendError(w, "Failed to create account", http.StatusInternalServerError)
		return
	}

	token, err := s.tokens.Issue(user.ID, user.Username, user.IsAdmin)
	if err != nil {
		log.Printf("Token issue failed: %v", err)
		s.sendError(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, AuthResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := s.store.FindUserByUsername(r.Context(), req.Username)
	if err != nil {
		// Same response for unknown user and wrong password.
		s.sendError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		s.sendError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := s.tokens.Issue(user.ID, user.Username, user.IsAdmin)
	if err != nil {
		log.Printf("Token issue failed: %v", err)
		s.sendError(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, AuthResponse{Token: token, User: user})
}

// Room endpoints.

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listRooms(w, r)
	case http.MethodPost:
		s.createRoom(w, r)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	rooms, err := s.store.ListRooms(r.Context(), claims.IsAdmin)
	if err != nil {
		log.Printf("List rooms failed: %v", err)
		s.sendError(w, "Failed to list rooms", http.StatusInternalServerError)
		return
	}
	if rooms == nil {
		rooms = []*types.Room{}
	}
	s.writeJSON(w, RoomsResponse{Rooms: rooms})
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !types.IsValidRoomName(req.Name) {
		s.sendError(w, "Invalid room name", http.StatusBadRequest)
		return
	}

	claims := claimsFrom(r)
	room, err := s.store.CreateRoom(r.Context(), req.Name, req.IsPrivate, claims.UserID)
	if err != nil {
		if errors.Is(err, interfaces.ErrRoomExists) {
			s.sendError(w, "Room name already taken", http.StatusConflict)
			return
		}
		log.Printf("Create room failed: %v", err)
		s.sendError(w, "Failed to create room", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, room)
}

func (s *Server) handleRoomByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	parts := strings.Split(path, "/")
	roomID := parts[0]
	if roomID == "" {
		s.sendError(w, "Room ID required", http.StatusBadRequest)
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "messages" && r.Method == http.MethodGet:
		s.roomMessages(w, r, roomID)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.deleteRoom(w, r, roomID)
	default:
		s.sendError(w, "Not found", http.StatusNotFound)
	}
}

// roomMessages serves recent history the same way a join does: from the
// cache when warm, from the store otherwise.
func (s *Server) roomMessages(w http.ResponseWriter, r *http.Request, roomID string) {
	if _, err := s.store.FindRoomByID(r.Context(), roomID); err != nil {
		if errors.Is(err, interfaces.ErrRoomNotFound) {
			s.sendError(w, "Room not found", http.StatusNotFound)
			return
		}
		log.Printf("Room lookup failed: %v", err)
		s.sendError(w, "Failed to load messages", http.StatusInternalServerError)
		return
	}

	messages, err := s.engine.History(r.Context(), roomID)
	if err != nil {
		log.Printf("History failed: %v", err)
		s.sendError(w, "Failed to load messages", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, MessagesResponse{Messages: messages})
}

func (s *Server) deleteRoom(w http.ResponseWriter, r *http.Request, roomID string) {
	claims := claimsFrom(r)
	if !claims.IsAdmin {
		s.sendError(w, "Admin privileges required", http.StatusForbidden)
		return
	}

	if err := s.store.DeleteRoom(r.Context(), roomID); err != nil {
		if errors.Is(err, interfaces.ErrRoomNotFound) {
			s.sendError(w, "Room not found", http.StatusNotFound)
			return
		}
		log.Printf("Delete room failed: %v", err)
		s.sendError(w, "Failed to delete room", http.StatusInternalServerError)
		return
	}

	s.engine.RoomDeleted(roomID)
	s.writeJSON(w, map[string]string{"message": "Room deleted"})
}

// User endpoints.

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		log.Printf("List users failed: %v", err)
		s.sendError(w, "Failed to list users", http.StatusInternalServerError)
		return
	}

	refs := lo.Map(users, func(u *types.User, _ int) *types.UserRef { return u.Ref() })
	s.writeJSON(w, UsersResponse{Users: refs})
}

func (s *Server) handleAdminUserByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	claims := claimsFrom(r)
	if !claims.IsAdmin {
		s.sendError(w, "Admin privileges required", http.StatusForbidden)
		return
	}

	userID := strings.TrimPrefix(r.URL.Path, "/api/admin/users/")
	if userID == "" || strings.Contains(userID, "/") {
		s.sendError(w, "User ID required", http.StatusBadRequest)
		return
	}
	if userID == claims.UserID {
		s.sendError(w, "Cannot delete your own account", http.StatusBadRequest)
		return
	}

	if err := s.store.DeleteUser(r.Context(), userID); err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			s.sendError(w, "User not found", http.StatusNotFound)
			return
		}
		log.Printf("Delete user failed: %v", err)
		s.sendError(w, "Failed to delete user", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, map[string]string{"message": "User deleted"})
}

// Message endpoints.

func (s *Server) handleMessageByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	claims := claimsFrom(r)
	if !claims.IsAdmin {
		s.sendError(w, "Admin privileges required", http.StatusForbidden)
		return
	}

	messageID := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	if messageID == "" || strings.Contains(messageID, "/") {
		s.sendError(w, "Message ID required", http.StatusBadRequest)
		return
	}

	roomID, err := s.store.DeleteMessage(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, interfaces.ErrMessageNotFound) {
			s.sendError(w, "Message not found", http.StatusNotFound)
			return
		}
		log.Printf("Delete message failed: %v", err)
		s.sendError(w, "Failed to delete message", http.StatusInternalServerError)
		return
	}

	s.engine.MessageDeleted(roomID, messageID)
	s.writeJSON(w, map[string]string{"message": "Message deleted"})
}

// Direct message endpoints.

func (s *Server) handleUnread(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	claims := claimsFrom(r)
	counts, err := s.store.UnreadCounts(r.Context(), claims.UserID)
	if err != nil {
		log.Printf("Unread counts failed: %v", err)
		s.sendError(w, "Failed to load unread counts", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, UnreadResponse{Counts: counts})
}

func (s *Server) handleDirectMessages(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/direct-messages/")
	parts := strings.Split(path, "/")
	otherID := parts[0]
	if otherID == "" {
		s.sendError(w, "User ID required", http.StatusBadRequest)
		return
	}

	claims := claimsFrom(r)

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		// Opening a thread counts as reading it, so the returned records
		// already carry the updated read state.
		if err := s.store.MarkDirectMessagesRead(r.Context(), claims.UserID, otherID); err != nil {
			log.Printf("Mark read failed: %v", err)
			s.sendError(w, "Failed to load direct messages", http.StatusInternalServerError)
			return
		}
		records, err := s.store.DirectMessagesBetween(r.Context(), claims.UserID, otherID)
		if err != nil {
			log.Printf("Direct messages failed: %v", err)
			s.sendError(w, "Failed to load direct messages", http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []*types.MessageRecord{}
		}
		s.writeJSON(w, MessagesResponse{Messages: records})

	case len(parts) == 2 && parts[1] == "read" && r.Method == http.MethodPost:
		if err := s.store.MarkDirectMessagesRead(r.Context(), claims.UserID, otherID); err != nil {
			log.Printf("Mark read failed: %v", err)
			s.sendError(w, "Failed to mark messages read", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]string{"message": "Messages marked read"})

	default:
		s.sendError(w, "Not found", http.StatusNotFound)
	}
}

// Upload endpoints.

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	file, header, err := r.FormFile("file")
	if err != nil {
		s.sendError(w, "Missing file field", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	saved, err := s.uploads.Save(header.Filename, file)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrDisallowedType):
			s.sendError(w, "File type not allowed", http.StatusBadRequest)
		case errors.Is(err, upload.ErrTooLarge):
			s.sendError(w, "File too large", http.StatusRequestEntityTooLarge)
		case errors.Is(err, upload.ErrEmptyFile):
			s.sendError(w, "Empty file", http.StatusBadRequest)
		default:
			log.Printf("Upload failed: %v", err)
			s.sendError(w, "Failed to store file", http.StatusInternalServerError)
		}
		return
	}

	claims := claimsFrom(r)
	filePath := "/uploads/" + saved.Name
	content := "Shared file: " + header.Filename

	var record *types.MessageRecord
	roomID := r.FormValue("room_id")
	recipientID := r.FormValue("recipient_id")

	switch {
	case roomID != "":
		if _, err := s.store.FindRoomByID(r.Context(), roomID); err != nil {
			s.sendError(w, "Room not found", http.StatusNotFound)
			return
		}
		record, err = s.engine.PublishFile(r.Context(), roomID, claims.UserID, content, filePath)
	case recipientID != "":
		record, err = s.engine.DirectFile(r.Context(), claims.UserID, recipientID, content, filePath)
	default:
		s.sendError(w, "Either room_id or recipient_id is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		if errors.Is(err, engine.ErrRecipientNotFound) {
			s.sendError(w, "Recipient not found", http.StatusNotFound)
			return
		}
		log.Printf("Upload publish failed: %v", err)
		s.sendError(w, "Failed to deliver file message", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, UploadResponse{Message: record, Size: saved.Size, SHA256: saved.SHA256})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/uploads/")
	f, err := s.uploads.Open(name)
	if err != nil {
		s.sendError(w, "File not found", http.StatusNotFound)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		s.sendError(w, "File not found", http.StatusNotFound)
		return
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// Health.

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	s.writeJSON(w, HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Database:  dbStatus,
	})
}

// Plumbing.

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	s.writeJSON(w, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
