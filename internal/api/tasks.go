package api

import (
	"errors"
	"net/http"

	"github.com/taskwarden/taskwarden/internal/auth"
	"github.com/taskwarden/taskwarden/internal/taskstore"
)

type taskBody struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request, user *auth.User) {
	var body taskBody
	if err := decodeBody(r, &body); err != nil {
		errorResponse(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	if body.Title == nil {
		errorResponse(w, http.StatusBadRequest, codeValidation, "title is required")
		return
	}
	var description string
	if body.Description != nil {
		description = *body.Description
	}

	task, err := s.tasks.Create(user.ID, *body.Title, description)
	if err != nil {
		s.taskError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request, user *auth.User) {
	var completed *bool
	switch r.URL.Query().Get("completed") {
	case "true":
		v := true
		completed = &v
	case "false":
		v := false
		completed = &v
	case "":
	default:
		errorResponse(w, http.StatusBadRequest, codeValidation, "completed must be true or false")
		return
	}

	tasks, err := s.tasks.List(user.ID, completed)
	if err != nil {
		s.taskError(w, err)
		return
	}
	if tasks == nil {
		tasks = []taskstore.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks":       tasks,
		"total_count": len(tasks),
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request, user *auth.User) {
	id, err := pathID(r)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, codeValidation, "task id must be an integer")
		return
	}
	task, err := s.tasks.Get(id, user.ID)
	if err != nil {
		s.taskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request, user *auth.User) {
	id, err := pathID(r)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, codeValidation, "task id must be an integer")
		return
	}
	var body taskBody
	if err := decodeBody(r, &body); err != nil {
		errorResponse(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}

	task, err := s.tasks.Apply(id, user.ID, taskstore.Update{
		Title:       body.Title,
		Description: body.Description,
		Completed:   body.Completed,
	})
	if err != nil {
		s.taskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request, user *auth.User) {
	id, err := pathID(r)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, codeValidation, "task id must be an integer")
		return
	}
	if err := s.tasks.Delete(id, user.ID); err != nil {
		s.taskError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) taskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, taskstore.ErrValidation):
		errorResponse(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, taskstore.ErrNotFound):
		errorResponse(w, http.StatusNotFound, codeNotFound, "task not found")
	default:
		s.logger.Error("task store", "error", err)
		errorResponse(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}
