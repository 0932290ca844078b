package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/net/websocket"

	apperrors "github.com/louisbranch/gathering.space/internal/platform/errors"
	"github.com/louisbranch/gathering.space/internal/services/access/directory"
	"github.com/louisbranch/gathering.space/internal/services/access/domain"
	"github.com/louisbranch/gathering.space/internal/services/access/role"
	"github.com/louisbranch/gathering.space/internal/services/access/storage"
)

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	message := "internal error"
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	} else if code != apperrors.CodeUnknown {
		message = err.Error()
	}
	if code == apperrors.CodeUnknown {
		log.Printf("request failed err=%v", err)
	}
	writeJSON(w, code.HTTPStatus(), map[string]errorPayload{
		"error": {Code: string(code), Message: message},
	})
}

func decodeBody(r *http.Request, into any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "invalid request body", err)
	}
	return nil
}

type policyPayload struct {
	ResourceType    string `json:"resource_type"`
	ResourceID      string `json:"resource_id"`
	PublicGuestRole string `json:"public_guest_role,omitempty"`
	PublicUserRole  string `json:"public_user_role,omitempty"`
}

type createPolicyRequest struct {
	policyPayload
	InitialMembers []struct {
		AccountID string `json:"account_id"`
		Role      string `json:"role"`
	} `json:"initial_members,omitempty"`
	InitialSessionGrants []struct {
		SessionID string `json:"session_id"`
		Role      string `json:"role"`
	} `json:"initial_session_grants,omitempty"`
}

type statusPayload struct {
	Role    string `json:"role"`
	Level   int    `json:"level"`
	Joined  bool   `json:"joined"`
	CanJoin bool   `json:"can_join"`
}

func statusToPayload(status domain.EffectiveStatus) statusPayload {
	return statusPayload{
		Role:    string(status.Role),
		Level:   status.Level,
		Joined:  status.Joined,
		CanJoin: status.CanJoin,
	}
}

type sessionInfoPayload struct {
	ID           string `json:"id"`
	SessionID    string `json:"session_id"`
	AccountID    string `json:"account_id,omitempty"`
	Online       bool   `json:"online"`
	LastOnlineAt int64  `json:"last_online_at,omitempty"`
}

func sessionInfoToPayload(info domain.PublicSessionInfo) sessionInfoPayload {
	payload := sessionInfoPayload{
		ID:        info.ID,
		SessionID: info.SessionID,
		AccountID: info.AccountID,
		Online:    info.Online,
	}
	if !info.LastOnlineAt.IsZero() {
		payload.LastOnlineAt = info.LastOnlineAt.UnixMilli()
	}
	return payload
}

type presencePayload struct {
	SubjectKind  string `json:"subject_kind"`
	SubjectID    string `json:"subject_id"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Online       bool   `json:"online"`
	LastOnlineAt int64  `json:"last_online_at,omitempty"`
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc(http.MethodPost+" /v1/policies", s.handleCreatePolicy)
	mux.HandleFunc(http.MethodGet+" /v1/policies/{resourceType}/{resourceID}", s.handleGetPolicy)
	mux.HandleFunc(http.MethodDelete+" /v1/policies/{resourceType}/{resourceID}", s.handleDeletePolicy)

	mux.HandleFunc(http.MethodPost+" /v1/join", s.handleJoin)
	mux.HandleFunc(http.MethodPost+" /v1/leave", s.handleLeave)
	mux.HandleFunc(http.MethodPost+" /v1/login", s.handleLogin)
	mux.HandleFunc(http.MethodPost+" /v1/logout", s.handleLogout)
	mux.HandleFunc(http.MethodPost+" /v1/register-start", s.handleRegisterStart)

	mux.HandleFunc(http.MethodPost+" /v1/presence/resource", s.handleResourcePresence)
	mux.HandleFunc(http.MethodPost+" /v1/presence/session", s.handleSessionPresence)
	mux.HandleFunc(http.MethodPost+" /v1/presence/force-all-offline", s.handleForceAllOffline)
	mux.HandleFunc(http.MethodPost+" /v1/reconcile", s.handleReconcile)

	mux.HandleFunc(http.MethodGet+" /v1/status/{resourceType}/{resourceID}", s.handleStatus)
	mux.HandleFunc(http.MethodGet+" /v1/resources/{resourceType}/{resourceID}/sessions", s.handleResourceSessions)
	mux.HandleFunc(http.MethodGet+" /v1/resources/{resourceType}/{resourceID}/online", s.handleResourceOnline)
	mux.HandleFunc(http.MethodGet+" /v1/sessions/{sessionID}/info", s.handleSessionInfo)

	mux.HandleFunc(http.MethodGet+" /ws", s.handleWS)

	return mux
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	create := directory.CreatePolicyRequest{
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
		PublicGuestRole: role.Role(req.PublicGuestRole),
		PublicUserRole:  role.Role(req.PublicUserRole),
	}
	for _, member := range req.InitialMembers {
		create.InitialMembers = append(create.InitialMembers, directory.MemberGrant{
			AccountID: member.AccountID,
			Role:      role.Role(member.Role),
		})
	}
	for _, sessionGrant := range req.InitialSessionGrants {
		create.InitialSessionGrants = append(create.InitialSessionGrants, directory.SessionRoleGrant{
			SessionID: sessionGrant.SessionID,
			Role:      role.Role(sessionGrant.Role),
		})
	}

	policy, err := s.directory.CreatePolicy(r.Context(), create)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, policyPayload{
		ResourceType:    policy.ResourceType,
		ResourceID:      policy.ResourceID,
		PublicGuestRole: string(policy.PublicGuestRole),
		PublicUserRole:  string(policy.PublicUserRole),
	})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := s.directory.GetPolicy(r.Context(), r.PathValue("resourceType"), r.PathValue("resourceID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policyPayload{
		ResourceType:    policy.ResourceType,
		ResourceID:      policy.ResourceID,
		PublicGuestRole: string(policy.PublicGuestRole),
		PublicUserRole:  string(policy.PublicUserRole),
	})
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := s.directory.DeletePolicy(r.Context(), r.PathValue("resourceType"), r.PathValue("resourceID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resourceRequest struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromRequest(r, s.authorizer)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]errorPayload{
			"error": {Code: "UNAUTHENTICATED", Message: err.Error()},
		})
		return
	}
	var req resourceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	granted, err := s.grants.Join(r.Context(), identity, req.ResourceType, req.ResourceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"role": string(granted)})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromRequest(r, s.authorizer)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]errorPayload{
			"error": {Code: "UNAUTHENTICATED", Message: err.Error()},
		})
		return
	}
	var req resourceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.grants.Leave(r.Context(), identity, req.ResourceType, req.ResourceID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type accountSessionRequest struct {
	AccountID string `json:"account_id"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req accountSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.grants.MigrateOnLogin(r.Context(), req.AccountID, req.SessionID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req accountSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.grants.Logout(r.Context(), req.AccountID, req.SessionID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegisterStart(w http.ResponseWriter, r *http.Request) {
	var req accountSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.grants.MigrateOnRegisterStart(r.Context(), req.AccountID, req.SessionID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resourcePresenceRequest struct {
	SubjectKind  string `json:"subject_kind"`
	SubjectID    string `json:"subject_id"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Online       bool   `json:"online"`
}

func (s *Server) handleResourcePresence(w http.ResponseWriter, r *http.Request) {
	var req resourcePresenceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	kind := domain.SubjectKind(req.SubjectKind)
	var err error
	if req.Online {
		err = s.tracker.ResourceOnline(r.Context(), kind, req.SubjectID, req.ResourceType, req.ResourceID)
	} else {
		err = s.tracker.ResourceOffline(r.Context(), kind, req.SubjectID, req.ResourceType, req.ResourceID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sessionPresenceRequest struct {
	SessionID string `json:"session_id"`
	Online    bool   `json:"online"`
}

func (s *Server) handleSessionPresence(w http.ResponseWriter, r *http.Request) {
	var req sessionPresenceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var err error
	if req.Online {
		err = s.tracker.SessionOnline(r.Context(), req.SessionID)
	} else {
		err = s.tracker.SessionOffline(r.Context(), req.SessionID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleForceAllOffline(w http.ResponseWriter, r *http.Request) {
	swept, err := s.tracker.ForceAllOffline(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"swept": swept})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	repaired, err := s.directory.ReconcileOrphans(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"repaired": repaired})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromRequest(r, s.authorizer)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]errorPayload{
			"error": {Code: "UNAUTHENTICATED", Message: err.Error()},
		})
		return
	}
	status, err := s.projector.Compute(r.Context(), identity, r.PathValue("resourceType"), r.PathValue("resourceID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusToPayload(status))
}

func (s *Server) handleResourceSessions(w http.ResponseWriter, r *http.Request) {
	grants, err := s.store.ListSessionGrantsByResource(r.Context(), r.PathValue("resourceType"), r.PathValue("resourceID"))
	if err != nil {
		writeError(w, fmt.Errorf("list session grants: %w", err))
		return
	}
	infos := make([]sessionInfoPayload, 0, len(grants))
	for _, sessionGrant := range grants {
		info, err := s.store.GetSessionInfoByID(r.Context(), sessionGrant.PublicInfoID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			writeError(w, fmt.Errorf("load session info: %w", err))
			return
		}
		infos = append(infos, sessionInfoToPayload(info))
	}
	writeJSON(w, http.StatusOK, map[string][]sessionInfoPayload{"sessions": infos})
}

func (s *Server) handleResourceOnline(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListOnlinePresenceByResource(r.Context(), r.PathValue("resourceType"), r.PathValue("resourceID"))
	if err != nil {
		writeError(w, fmt.Errorf("list online presence: %w", err))
		return
	}
	online := make([]presencePayload, 0, len(records))
	for _, record := range records {
		payload := presencePayload{
			SubjectKind:  string(record.SubjectKind),
			SubjectID:    record.SubjectID,
			ResourceType: record.ResourceType,
			ResourceID:   record.ResourceID,
			Online:       record.Online,
		}
		if !record.LastOnlineAt.IsZero() {
			payload.LastOnlineAt = record.LastOnlineAt.UnixMilli()
		}
		online = append(online, payload)
	}
	writeJSON(w, http.StatusOK, map[string][]presencePayload{"online": online})
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.store.GetSessionInfo(r.Context(), r.PathValue("sessionID"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, apperrors.Wrap(apperrors.CodeNotFound, "no public info for session", err))
			return
		}
		writeError(w, fmt.Errorf("load session info: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, sessionInfoToPayload(info))
}

// wsFrame is the JSON frame exchanged over the live status feed.
type wsFrame struct {
	Type         string         `json:"type"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Status       *statusPayload `json:"status,omitempty"`
	Message      string         `json:"message,omitempty"`
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromRequest(r, s.authorizer)
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	websocket.Handler(func(conn *websocket.Conn) {
		s.handleWSConn(conn, identity)
	}).ServeHTTP(w, r)
}

func (s *Server) handleWSConn(conn *websocket.Conn, identity domain.Identity) {
	defer func() { _ = conn.Close() }()

	peer := &wsPeer{encoder: json.NewEncoder(conn)}
	decoder := json.NewDecoder(conn)

	type feed struct {
		cancel func()
	}
	feeds := make(map[string]feed)
	var mu sync.Mutex
	defer func() {
		mu.Lock()
		for _, active := range feeds {
			active.cancel()
		}
		mu.Unlock()
	}()

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("ws decode failed err=%v", err)
			}
			return
		}

		resourceType := strings.TrimSpace(frame.ResourceType)
		resourceID := strings.TrimSpace(frame.ResourceID)
		feedKey := resourceType + "/" + resourceID

		switch frame.Type {
		case "subscribe":
			if resourceType == "" || resourceID == "" {
				_ = peer.writeFrame(wsFrame{Type: "error", Message: "resource_type and resource_id are required"})
				continue
			}
			mu.Lock()
			if _, exists := feeds[feedKey]; exists {
				mu.Unlock()
				continue
			}
			sub := s.projector.Subscribe(conn.Request().Context(), identity, resourceType, resourceID)
			feeds[feedKey] = feed{cancel: sub.Close}
			mu.Unlock()

			go func() {
				for status := range sub.Updates() {
					payload := statusToPayload(status)
					if err := peer.writeFrame(wsFrame{
						Type:         "status",
						ResourceType: resourceType,
						ResourceID:   resourceID,
						Status:       &payload,
					}); err != nil {
						return
					}
				}
			}()
		case "unsubscribe":
			mu.Lock()
			active, exists := feeds[feedKey]
			if exists {
				delete(feeds, feedKey)
			}
			mu.Unlock()
			if exists {
				active.cancel()
			}
		default:
			_ = peer.writeFrame(wsFrame{Type: "error", Message: "unknown frame type"})
		}
	}
}
