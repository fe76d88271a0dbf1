package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/tiger4589/cqrs-lib"
	"github.com/tiger4589/cqrs-lib/internal/user"
)

type idResponse struct {
	ID uuid.UUID `json:"id"`
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	result, err := cqrs.Retrieve[user.GetUserQueryResult](r.Context(), s.dispatcher, user.GetUserQuery{ID: id})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getUsers(w http.ResponseWriter, r *http.Request) {
	result, err := cqrs.Retrieve[user.GetUsersQueryResult](r.Context(), s.dispatcher, user.GetUsersQuery{})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) addUser(w http.ResponseWriter, r *http.Request) {
	var cmd user.AddUserCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := cqrs.ExecuteResult[uuid.UUID](r.Context(), s.dispatcher, cmd)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idResponse{ID: id})
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	var cmd user.DeleteUserCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := cqrs.Execute(r.Context(), s.dispatcher, cmd); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idResponse{ID: cmd.ID})
}
