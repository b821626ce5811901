package server

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tracklab/tracklab/pkg/authz"
	"github.com/tracklab/tracklab/pkg/registry"
)

func (s *Server) createProjectHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key         string `json:"key"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	project, err := s.service.CreateProject(r.Context(), registry.ProjectDraft{
		Key: req.Key, Name: req.Name, Description: req.Description,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) getProjectHandler(w http.ResponseWriter, r *http.Request) {
	project, err := s.service.GetProject(r.Context(), chi.URLParam(r, "project"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) getPermissionsHandler(w http.ResponseWriter, r *http.Request) {
	caller := authz.CurrentPrincipalID(r.Context())
	perms, err := s.acl.GetProjectPermissions(r.Context(), chi.URLParam(r, "project"), caller)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

func (s *Server) putPermissionsHandler(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	grants := make(map[string]authz.Permission, len(req))
	for principal, perm := range req {
		parsed, err := authz.ParsePermission(perm)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		grants[principal] = parsed
	}
	caller := authz.CurrentPrincipalID(r.Context())
	if err := s.acl.GrantPermissionsToExistingProject(r.Context(), chi.URLParam(r, "project"), caller, grants); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) deletePermissionsHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Principals []string `json:"principals"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller := authz.CurrentPrincipalID(r.Context())
	if err := s.acl.RevokeProjectPermission(r.Context(), chi.URLParam(r, "project"), caller, req.Principals); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) createExperimentHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	exp, err := s.service.CreateExperiment(r.Context(), chi.URLParam(r, "project"), registry.ExperimentDraft{
		Name: req.Name, Description: req.Description,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exp)
}

func (s *Server) listExperimentsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.ListExperiments(r.Context(), chi.URLParam(r, "project"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createRunHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExperimentID string            `json:"experimentId"`
		Name         string            `json:"name"`
		Params       map[string]string `json:"params"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	run, err := s.service.CreateRun(r.Context(), chi.URLParam(r, "project"), registry.RunDraft{
		ExperimentID: req.ExperimentID, Name: req.Name, Params: req.Params,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) listRunsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.ListRuns(r.Context(), chi.URLParam(r, "project"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getRunHandler(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.GetRun(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "run"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) updateRunHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status  *string           `json:"status"`
		Params  map[string]string `json:"params"`
		Metrics map[string]string `json:"metrics"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	update := registry.RunUpdate{Params: req.Params, Metrics: req.Metrics}
	if req.Status != nil {
		status := registry.RunStatus(*req.Status)
		update.Status = &status
	}
	run, err := s.service.UpdateRun(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "run"), update)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) attachArtifactHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string            `json:"name"`
		Type     string            `json:"type"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	artifact, err := s.service.AttachArtifact(r.Context(), chi.URLParam(r, "project"), registry.ArtifactDraft{
		RunID: chi.URLParam(r, "run"), Name: req.Name, Type: req.Type, Metadata: req.Metadata,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, artifact)
}

func (s *Server) listRunArtifactsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.ListRunArtifacts(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "run"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getArtifactHandler(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.service.GetArtifact(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "artifact"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

// uploadArtifactFileHandler streams the request body straight into the file
// store; the body is never buffered whole.
func (s *Server) uploadArtifactFileHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.service.UploadArtifactFile(r.Context(),
		chi.URLParam(r, "project"), chi.URLParam(r, "artifact"),
		chi.URLParam(r, "fileName"), r.Header.Get("X-Content-Hash"), r.Body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

func (s *Server) downloadArtifactFileHandler(w http.ResponseWriter, r *http.Request) {
	rc, err := s.service.DownloadArtifactFile(r.Context(),
		chi.URLParam(r, "project"), chi.URLParam(r, "artifact"),
		chi.URLParam(r, "fileName"), r.URL.Query().Get("versionId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = io.Copy(w, rc)
}

func (s *Server) createValidationSetHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string            `json:"name"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	v, err := s.service.CreateValidationSet(r.Context(), chi.URLParam(r, "project"), registry.ValidationSetDraft{
		Name: req.Name, Metadata: req.Metadata,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) getValidationSetHandler(w http.ResponseWriter, r *http.Request) {
	v, err := s.service.GetValidationSet(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "validationSet"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) uploadValidationSetFileHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.service.UploadValidationSetFile(r.Context(),
		chi.URLParam(r, "project"), chi.URLParam(r, "validationSet"),
		chi.URLParam(r, "fileName"), r.Header.Get("X-Content-Hash"), r.Body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

func (s *Server) downloadValidationSetFileHandler(w http.ResponseWriter, r *http.Request) {
	rc, err := s.service.DownloadValidationSetFile(r.Context(),
		chi.URLParam(r, "project"), chi.URLParam(r, "validationSet"),
		chi.URLParam(r, "fileName"), r.URL.Query().Get("versionId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = io.Copy(w, rc)
}
