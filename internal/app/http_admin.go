package app

import (
	"net/http"

	"agitracker/api/internal/rbac"
)

// handleAdmin routes the back office. Every route needs at least editor
// rights; user management, single tool reads and index maintenance need admin.
func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch parts[0] {
	case "moderation":
		if !s.service.Can(session.Role, rbac.ActionModerate) {
			s.forbid(w, r, session, string(rbac.ActionModerate))
			return
		}
		s.handleModeration(w, r, session, parts[1:])
	case "tools":
		if !s.service.Can(session.Role, rbac.ActionManageContent) {
			s.forbid(w, r, session, string(rbac.ActionManageContent))
			return
		}
		s.handleAdminTools(w, r, session, parts[1:])
	case "articles":
		if !s.service.Can(session.Role, rbac.ActionManageContent) {
			s.forbid(w, r, session, string(rbac.ActionManageContent))
			return
		}
		s.handleAdminArticles(w, r, session, parts[1:])
	case "stats":
		if !s.service.Can(session.Role, rbac.ActionModerate) {
			s.forbid(w, r, session, string(rbac.ActionModerate))
			return
		}
		if r.Method != http.MethodGet || len(parts) != 1 {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		stats, err := s.service.Stats(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	case "users":
		if !s.service.Can(session.Role, rbac.ActionAdmin) {
			s.forbid(w, r, session, string(rbac.ActionAdmin))
			return
		}
		s.handleAdminUsers(w, r, session, parts[1:])
	case "search":
		if !s.service.Can(session.Role, rbac.ActionAdmin) {
			s.forbid(w, r, session, string(rbac.ActionAdmin))
			return
		}
		if r.Method != http.MethodPost || len(parts) != 2 || parts[1] != "sync" {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
			return
		}
		report, err := s.service.ResyncSearch(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "indexed": report.Indexed, "removed": report.Removed})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleModeration(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		query := r.URL.Query()
		status := query.Get("status")
		if status == "" {
			status = "pending"
		}
		result, err := s.service.ListSubmissions(r.Context(), status, queryInt(query.Get("page")), queryInt(query.Get("limit")))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case len(parts) == 1 && parts[0] == "approve-all" && r.Method == http.MethodPost:
		result, err := s.service.ApproveAll(r.Context(), session.UserID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case len(parts) == 1 && parts[0] == "bulk-delete" && r.Method == http.MethodPost:
		var body struct {
			IDs any `json:"ids"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.BulkDeleteSubmissions(r.Context(), body.IDs)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case len(parts) == 1 && r.Method == http.MethodGet:
		id, ok := parseID(parts[0])
		if !ok {
			s.fail(w, r, errSubmissionNotFound)
			return
		}
		submission, err := s.service.GetSubmission(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"submission": submission})

	case len(parts) == 2 && parts[1] == "approve" && r.Method == http.MethodPost:
		id, ok := parseID(parts[0])
		if !ok {
			s.fail(w, r, errSubmissionNotFound)
			return
		}
		tool, err := s.service.Approve(r.Context(), id, session.UserID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "tool": tool})

	case len(parts) == 2 && parts[1] == "reject" && r.Method == http.MethodPost:
		id, ok := parseID(parts[0])
		if !ok {
			s.fail(w, r, errSubmissionNotFound)
			return
		}
		var body struct {
			Reason string `json:"reason"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.Reject(r.Context(), id, session.UserID, body.Reason); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleAdminTools(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			query := r.URL.Query()
			result, err := s.service.AdminListTools(r.Context(), query.Get("q"), queryInt(query.Get("page")), queryInt(query.Get("limit")))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
		case http.MethodPost:
			var body ToolInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			tool, err := s.service.CreateTool(r.Context(), body, session.UserID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"success": true, "tool": tool})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 1 && parts[0] == "bulk-delete" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body struct {
			IDs any `json:"ids"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.BulkDeleteTools(r.Context(), body.IDs)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	id, ok := parseID(parts[0])
	if !ok {
		s.fail(w, r, errToolNotFound)
		return
	}

	if len(parts) == 2 && parts[1] == "featured" {
		if r.Method != http.MethodPost && r.Method != http.MethodPatch {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		tool, err := s.service.ToggleToolFeatured(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "tool": tool})
		return
	}

	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !s.service.Can(session.Role, rbac.ActionAdmin) {
			s.forbid(w, r, session, string(rbac.ActionAdmin))
			return
		}
		tool, err := s.service.AdminGetTool(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tool": tool})
	case http.MethodPut:
		var body ToolInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		tool, err := s.service.UpdateTool(r.Context(), id, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "tool": tool})
	case http.MethodDelete:
		if err := s.service.DeleteTool(r.Context(), id); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleAdminArticles(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			query := r.URL.Query()
			result, err := s.service.AdminListArticles(r.Context(), query.Get("q"), queryInt(query.Get("page")), queryInt(query.Get("limit")))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
		case http.MethodPost:
			var body ArticleInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			article, err := s.service.CreateArticle(r.Context(), body, session.UserID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"success": true, "article": article})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	id, ok := parseID(parts[0])
	if !ok || len(parts) != 1 {
		s.fail(w, r, errArticleNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		article, err := s.service.AdminGetArticle(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"article": article})
	case http.MethodPut:
		var body ArticleInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		article, err := s.service.UpdateArticle(r.Context(), id, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "article": article})
	case http.MethodDelete:
		if err := s.service.DeleteArticle(r.Context(), id); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleAdminUsers(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		users, err := s.service.ListUsers(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	case len(parts) == 2 && parts[1] == "role" && r.Method == http.MethodPut:
		var body struct {
			Role string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		user, err := s.service.UpdateUserRole(r.Context(), session.UserID, parts[0], body.Role)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}
