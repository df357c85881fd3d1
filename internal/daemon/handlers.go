package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clud-dev/clud/internal/apperr"
	"github.com/clud-dev/clud/internal/cronexpr"
	"github.com/clud-dev/clud/internal/store"
)

// routes builds the HTTP control plane using Go 1.22+'s ServeMux
// method+wildcard routing.
func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", d.handleHealth)
	mux.HandleFunc("GET /version", d.handleVersion)

	mux.HandleFunc("GET /agents", d.handleListAgents)
	mux.HandleFunc("POST /agents/register", d.handleRegisterAgent)
	mux.HandleFunc("POST /agents/{id}/heartbeat", d.handleHeartbeat)
	mux.HandleFunc("POST /agents/{id}/stop", d.handleStopAgent)

	mux.HandleFunc("GET /cron/tasks", d.handleListCronTasks)
	mux.HandleFunc("POST /cron/tasks", d.handleAddCronTask)
	mux.HandleFunc("DELETE /cron/tasks/{id}", d.handleDeleteCronTask)

	mux.HandleFunc("POST /sessions/{id}/send", d.handleSessionSend)

	mux.HandleFunc("GET /subsystems/{name}/status", d.handleSubsystemStatus)
	mux.HandleFunc("POST /subsystems/{name}/start", d.handleSubsystemStart)
	mux.HandleFunc("POST /subsystems/{name}/stop", d.handleSubsystemStop)

	withDeadline := http.NewServeMux()
	withDeadline.Handle("/", withRequestDeadline(mux, 30*time.Second))
	// The streaming endpoint runs per-connection and must not be cut off
	// by the blanket request deadline.
	withDeadline.HandleFunc("GET /sessions/{id}/stream", d.handleSessionStream)

	return withDeadline
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	writeJSON(w, apperr.HTTPStatus(kind), map[string]any{
		"error": map[string]any{"kind": string(kind), "message": err.Error()},
	})
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	agents, err := d.registry.List()
	if err != nil {
		writeError(w, err)
		return
	}
	total, running, stale := len(agents), 0, 0
	for _, a := range agents {
		switch a.State {
		case store.AgentRunning:
			running++
		case store.AgentStale:
			stale++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"pid":            os.Getpid(),
		"uptime_seconds": time.Since(d.startedAt).Seconds(),
		"agents":         map[string]int{"total": total, "running": running, "stale": stale},
	})
}

func (d *Daemon) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"version": Version})
}

func (d *Daemon) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := d.registry.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (d *Daemon) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID       string            `json:"id"`
		PID      int               `json:"pid"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.Wrap(apperr.KindValidation, "decoding request body", err))
		return
	}
	rec, err := d.registry.Register(body.ID, body.PID, body.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": rec.ID, "started_at": rec.StartedAt})
}

func (d *Daemon) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	rec, err := d.registry.Heartbeat(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": rec.State, "last_heartbeat": rec.LastHeartbeat})
}

func (d *Daemon) handleStopAgent(w http.ResponseWriter, r *http.Request) {
	if _, err := d.registry.Stop(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (d *Daemon) handleListCronTasks(w http.ResponseWriter, r *http.Request) {
	doc, err := d.cronStore.Load()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc.Tasks)
}

func (d *Daemon) handleAddCronTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Expression string `json:"expression"`
		TaskFile   string `json:"task_file"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.Wrap(apperr.KindValidation, "decoding request body", err))
		return
	}

	expr, err := cronexpr.Parse(body.Expression)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindValidation, "invalid cron expression", err))
		return
	}
	now := time.Now()
	nextRun, err := expr.NextFire(now)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindValidation, "cannot compute next fire", err))
		return
	}

	doc, err := d.cronStore.Load()
	if err != nil {
		writeError(w, err)
		return
	}
	task := store.CronTask{
		ID:         newTaskID(),
		Expression: body.Expression,
		TaskFile:   body.TaskFile,
		Enabled:    true,
		CreatedAt:  now,
		NextRun:    nextRun,
	}
	doc.Tasks = append(doc.Tasks, task)
	if err := d.cronStore.Save(doc); err != nil {
		writeError(w, err)
		return
	}
	d.scheduler.Wake()

	writeJSON(w, http.StatusOK, map[string]any{"id": task.ID, "next_run": task.NextRun})
}

func (d *Daemon) handleDeleteCronTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := d.cronStore.Load()
	if err != nil {
		writeError(w, err)
		return
	}
	kept := doc.Tasks[:0]
	found := false
	for _, t := range doc.Tasks {
		if t.ID == id {
			found = true
			continue
		}
		kept = append(kept, t)
	}
	if !found {
		writeError(w, apperr.New(apperr.KindNotFound, "unknown cron task "+id))
		return
	}
	doc.Tasks = kept
	if err := d.cronStore.Save(doc); err != nil {
		writeError(w, err)
		return
	}
	d.scheduler.Wake()
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (d *Daemon) handleSessionSend(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.Wrap(apperr.KindValidation, "decoding request body", err))
		return
	}

	// The Instance outlives this request, so it is not tied to the
	// request's context; shutdown terminates it through the pool.
	inst, err := d.pool.Acquire(context.Background(), sessionID, d.agentFactory, d.router)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := inst.Send(body.Text); err != nil {
		writeError(w, err)
		return
	}
	d.pool.Release(sessionID)
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // loopback-only control plane
}

// handleSessionStream upgrades to a WebSocket and sends the current
// ring snapshot followed by live chunks, one frame per publish.
func (d *Daemon) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := d.router.Subscribe(sessionID)
	defer sub.Close()

	if len(sub.Snapshot) > 0 {
		if err := conn.WriteMessage(websocket.BinaryMessage, sub.Snapshot); err != nil {
			return
		}
	}

	for chunk := range sub.Chunks {
		if chunk.Overrun {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"overrun":true}`))
			return
		}
		if chunk.EOS {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"eos":true}`))
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk.Data); err != nil {
			return
		}
	}
}

func (d *Daemon) handleSubsystemStatus(w http.ResponseWriter, r *http.Request) {
	st := d.subsystems.Status(r.PathValue("name"))
	writeJSON(w, http.StatusOK, st)
}

func (d *Daemon) handleSubsystemStart(w http.ResponseWriter, r *http.Request) {
	var config map[string]any
	_ = json.NewDecoder(r.Body).Decode(&config)

	alreadyRunning, err := d.subsystems.Start(r.PathValue("name"), config)
	if err != nil {
		writeError(w, err)
		return
	}
	status := "started"
	if alreadyRunning {
		status = "already_running"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (d *Daemon) handleSubsystemStop(w http.ResponseWriter, r *http.Request) {
	alreadyStopped := d.subsystems.Stop(r.PathValue("name"), d.cfg.TerminateGrace())
	status := "stopped"
	if alreadyStopped {
		status = "already_stopped"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

