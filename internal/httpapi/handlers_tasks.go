package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/fleetctl/internal/model"
	"github.com/gravitational/fleetctl/internal/store"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	q := r.URL.Query()
	var f store.TaskFilter
	if hostID := q.Get("host_id"); hostID != "" {
		id, err := parseID(hostID)
		if err != nil {
			return nil, err
		}
		f.HostRef = &id
	}
	if status := q.Get("status"); status != "" {
		f.Status = model.TaskStatus(status)
	}
	tasks, err := s.store.ListTasks(f, pageFromQuery(q))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return tasks, nil
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	t, err := s.store.GetTask(p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return t, nil
}

type createTaskRequest struct {
	HostID         int64  `json:"host_id"`
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	StoreOutput    *bool  `json:"store_output"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	var req createTaskRequest
	if err := ReadJSON(r, &req); err != nil {
		return nil, err
	}
	if req.Command == "" {
		return nil, trace.BadParameter("command is required")
	}

	identity, _ := IdentityFromContext(r)
	storeOutput := true
	if req.StoreOutput != nil {
		storeOutput = *req.StoreOutput
	}
	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = 60
	}

	t := &model.Task{
		ID:             uuid.NewString(),
		HostRef:        req.HostID,
		Command:        req.Command,
		Status:         model.TaskQueued,
		TimeoutSeconds: timeout,
		StoreOutput:    storeOutput,
		CreatedAt:      time.Now(),
	}
	if identity != nil {
		t.UserRef = identity.UserID
	}
	if err := s.store.CreateTask(t); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.tasks.Enqueue(t.ID); err != nil {
		return nil, trace.Wrap(err)
	}

	s.events.Emit(eventInput("task.created", "task", t.ID, identity, r))
	return t, nil
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	id := p.ByName("id")
	cancelled, err := s.tasks.Cancel(id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	identity, _ := IdentityFromContext(r)
	s.events.Emit(eventInput("task.cancelled", "task", id, identity, r))
	return map[string]bool{"cancelled": cancelled}, nil
}
