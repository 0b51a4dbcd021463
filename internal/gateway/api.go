// ABOUTME: JSON HTTP handlers for the fleet API: instances, tasks, alerts,
// ABOUTME: metrics, catalog, admission evaluation, and the decision ledger.

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gladehq/fleetd/internal/admission"
	"github.com/gladehq/fleetd/internal/fleet"
	"github.com/gladehq/fleetd/internal/store"
)

// SpawnInstanceRequest is the JSON request body for POST /api/instances.
type SpawnInstanceRequest struct {
	AgentTypeID string `json:"agent_type_id"`
}

// SubmitTaskRequest is the JSON request body for POST /api/tasks.
type SubmitTaskRequest struct {
	Description string `json:"description"`
	Domain      string `json:"domain,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Source      string `json:"source,omitempty"`
}

// EvaluateRequest is the JSON request body for POST /api/admission/evaluate.
type EvaluateRequest struct {
	InstanceID string           `json:"instance_id"`
	Action     admission.Action `json:"action"`
}

// DecisionResponse is one admission decision from the ledger.
type DecisionResponse struct {
	ID          string `json:"id"`
	InstanceID  string `json:"instance_id"`
	RegistryID  string `json:"registry_id,omitempty"`
	ActionType  string `json:"action_type"`
	ToolName    string `json:"tool_name,omitempty"`
	ConnectorID string `json:"connector_id,omitempty"`
	Allowed     bool   `json:"allowed"`
	Gate        string `json:"gate,omitempty"`
	Reason      string `json:"reason,omitempty"`
	EscalateTo  string `json:"escalate_to,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("encoding response", "error", err)
	}
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once at least one agent type is registered.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.registry.Len() == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agent types registered"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agent types)", g.registry.Len())
}

// handleInstances handles GET and POST /api/instances.
// GET supports ?agent_type=X and ?status=Y filters.
func (g *Gateway) handleInstances(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		registryID := r.URL.Query().Get("agent_type")
		status := fleet.Status(r.URL.Query().Get("status"))
		g.sendJSON(w, http.StatusOK, g.fleet.ListInstances(registryID, status))
	case http.MethodPost:
		g.handleSpawnInstance(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) handleSpawnInstance(w http.ResponseWriter, r *http.Request) {
	var req SpawnInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AgentTypeID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "agent_type_id is required")
		return
	}
	if g.registry.Get(req.AgentTypeID) == nil {
		g.sendJSONError(w, http.StatusNotFound, "unknown agent type: "+req.AgentTypeID)
		return
	}

	runtimeID, err := g.spawner.Spawn(r.Context(), req.AgentTypeID)
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, "spawn failed: "+err.Error())
		return
	}
	inst := g.fleet.AddInstance(req.AgentTypeID, runtimeID)
	g.sendJSON(w, http.StatusCreated, inst)
}

// handleInstanceRoutes dispatches /api/instances/{id} and its subroutes:
//
//	GET    /api/instances/{id}            instance detail
//	DELETE /api/instances/{id}            retire (then remove) the instance
//	POST   /api/instances/{id}/heartbeat  record a heartbeat + usage sample
//	POST   /api/instances/{id}/status     force a status transition
func (g *Gateway) handleInstanceRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/instances/")
	instanceID, sub, _ := strings.Cut(rest, "/")
	if instanceID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "instance ID is required")
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		inst, err := g.fleet.GetInstance(instanceID)
		if err != nil {
			g.sendJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		g.sendJSON(w, http.StatusOK, inst)
	case sub == "" && r.Method == http.MethodDelete:
		g.handleRetireInstance(w, instanceID)
	case sub == "heartbeat" && r.Method == http.MethodPost:
		g.handleHeartbeat(w, r, instanceID)
	case sub == "status" && r.Method == http.MethodPost:
		g.handleStatusChange(w, r, instanceID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) handleRetireInstance(w http.ResponseWriter, instanceID string) {
	if err := g.fleet.UpdateInstanceStatus(instanceID, fleet.StatusRetiring); err != nil {
		status := http.StatusConflict
		if errors.Is(err, fleet.ErrInstanceNotFound) {
			status = http.StatusNotFound
		}
		g.sendJSONError(w, status, err.Error())
		return
	}
	if err := g.fleet.RemoveInstance(instanceID); err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HeartbeatRequest is the JSON request body for the heartbeat endpoint.
// Tokens and cost are deltas since the previous heartbeat.
type HeartbeatRequest struct {
	Tokens  int64   `json:"tokens,omitempty"`
	CostUSD float64 `json:"cost_usd,omitempty"`
}

func (g *Gateway) handleHeartbeat(w http.ResponseWriter, r *http.Request, instanceID string) {
	var req HeartbeatRequest
	if err := decodeOptionalBody(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := g.fleet.UpdateInstanceHeartbeat(instanceID, time.Now()); err != nil {
		g.sendJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if req.Tokens != 0 || req.CostUSD != 0 {
		if err := g.fleet.UpdateInstanceCost(instanceID, req.Tokens, req.CostUSD); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// StatusChangeRequest is the JSON request body for the status endpoint.
type StatusChangeRequest struct {
	Status string `json:"status"`
}

func (g *Gateway) handleStatusChange(w http.ResponseWriter, r *http.Request, instanceID string) {
	var req StatusChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	err := g.fleet.UpdateInstanceStatus(instanceID, fleet.Status(req.Status))
	switch {
	case errors.Is(err, fleet.ErrInstanceNotFound):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, fleet.ErrInvalidTransition):
		g.sendJSONError(w, http.StatusConflict, err.Error())
	case err != nil:
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleTasks handles GET and POST /api/tasks.
// GET supports a ?status=X filter.
func (g *Gateway) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status := fleet.TaskStatus(r.URL.Query().Get("status"))
		g.sendJSON(w, http.StatusOK, g.fleet.ListTasks(status))
	case http.MethodPost:
		g.handleSubmitTask(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "description is required")
		return
	}

	priority := fleet.Priority(req.Priority)
	if req.Priority == "" {
		priority = fleet.PriorityNormal
	}
	source := fleet.TaskSource(req.Source)
	if req.Source == "" {
		source = fleet.SourceUser
	}

	if g.submissions.Seen(req.Description, string(priority)) {
		g.sendJSONError(w, http.StatusConflict, "duplicate task submitted within the dedupe window")
		return
	}

	task := g.fleet.EnqueueTask(req.Description, req.Domain, priority, source)
	g.sendJSON(w, http.StatusCreated, task)
}

// handleTaskRoutes dispatches /api/tasks/{id} and its subroutes:
//
//	POST /api/tasks/dispatch          drain the queue now instead of waiting for the loop
//	GET  /api/tasks/{id}              task detail
//	GET  /api/tasks/{id}/candidates   ranked agent types the router would fan out to
//	GET  /api/tasks/{id}/events       ledger events for the task
//	POST /api/tasks/{id}/complete  mark the task completed
//	POST /api/tasks/{id}/fail      mark the task failed
func (g *Gateway) handleTaskRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	taskID, sub, _ := strings.Cut(rest, "/")
	if taskID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	switch {
	case taskID == "dispatch" && sub == "" && r.Method == http.MethodPost:
		n := g.dispatchPending(r.Context())
		g.sendJSON(w, http.StatusOK, map[string]int{"dispatched": n})
	case sub == "" && r.Method == http.MethodGet:
		task, err := g.fleet.GetTask(taskID)
		if err != nil {
			g.sendJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		g.sendJSON(w, http.StatusOK, task)
	case sub == "candidates" && r.Method == http.MethodGet:
		task, err := g.fleet.GetTask(taskID)
		if err != nil {
			g.sendJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		decisions := g.router.RouteToMultiple(task, g.config.Fleet.MaxFanOut)
		g.sendJSON(w, http.StatusOK, decisions)
	case sub == "events" && r.Method == http.MethodGet:
		events, err := g.ledger.ListTaskEvents(r.Context(), taskID)
		if err != nil {
			g.sendJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		g.sendJSON(w, http.StatusOK, events)
	case sub == "complete" && r.Method == http.MethodPost:
		g.handleFinishTask(w, r, taskID, true)
	case sub == "fail" && r.Method == http.MethodPost:
		g.handleFinishTask(w, r, taskID, false)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// FinishTaskRequest is the JSON request body for task completion.
type FinishTaskRequest struct {
	Result string `json:"result,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (g *Gateway) handleFinishTask(w http.ResponseWriter, r *http.Request, taskID string, completed bool) {
	var req FinishTaskRequest
	if err := decodeOptionalBody(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var err error
	if completed {
		err = g.fleet.CompleteTask(taskID, req.Result)
	} else {
		err = g.fleet.FailTask(taskID, req.Reason)
	}
	switch {
	case errors.Is(err, fleet.ErrInvalidTransition):
		g.sendJSONError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		g.sendJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAlerts handles GET /api/alerts, with ?unacked=true to filter.
func (g *Gateway) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Query().Get("unacked") == "true" {
		g.sendJSON(w, http.StatusOK, g.fleet.UnacknowledgedAlerts())
		return
	}
	g.sendJSON(w, http.StatusOK, g.fleet.ListAlerts())
}

// handleAlertRoutes handles POST /api/alerts/{id}/ack. Acknowledging an
// already-acknowledged alert succeeds.
func (g *Gateway) handleAlertRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/alerts/")
	alertID, sub, _ := strings.Cut(rest, "/")
	if sub != "ack" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := g.fleet.AcknowledgeAlert(alertID); err != nil {
		g.sendJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMetrics handles GET /api/metrics.
func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.sendJSON(w, http.StatusOK, g.fleet.Metrics())
}

// handleCatalog handles GET /api/catalog, listing registered agent types.
func (g *Gateway) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.sendJSON(w, http.StatusOK, g.registry.All())
}

// handleEvaluate handles POST /api/admission/evaluate. The verdict is
// returned with 200 whether or not the action is allowed; HTTP errors are
// reserved for malformed requests.
func (g *Gateway) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.InstanceID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "instance_id is required")
		return
	}
	if req.Action.Type == "" {
		g.sendJSONError(w, http.StatusBadRequest, "action.type is required")
		return
	}

	verdict := g.EvaluateAction(r.Context(), req.InstanceID, req.Action)
	g.sendJSON(w, http.StatusOK, verdict)
}

// handleDecisions handles GET /api/decisions with optional filters:
// ?instance_id=X, ?denied=true, ?limit=N.
func (g *Gateway) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	filter := store.DecisionFilter{
		InstanceID: r.URL.Query().Get("instance_id"),
		DeniedOnly: r.URL.Query().Get("denied") == "true",
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	decisions, err := g.ledger.ListDecisions(r.Context(), filter)
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := make([]DecisionResponse, 0, len(decisions))
	for _, d := range decisions {
		response = append(response, DecisionResponse{
			ID:          d.ID,
			InstanceID:  d.InstanceID,
			RegistryID:  d.RegistryID,
			ActionType:  d.ActionType,
			ToolName:    d.ToolName,
			ConnectorID: d.ConnectorID,
			Allowed:     d.Allowed,
			Gate:        d.Gate,
			Reason:      d.Reason,
			EscalateTo:  d.EscalateTo,
			Timestamp:   d.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	g.sendJSON(w, http.StatusOK, response)
}

// decodeOptionalBody decodes a JSON body into dst, treating an empty body
// as the zero value.
func decodeOptionalBody(body io.Reader, dst any) error {
	err := json.NewDecoder(body).Decode(dst)
	if err == io.EOF {
		return nil
	}
	return err
}
