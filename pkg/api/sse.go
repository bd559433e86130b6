package api

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/minifly/minifly/pkg/apierr"
	"github.com/minifly/minifly/pkg/log"
)

const sseHeartbeatInterval = 15 * time.Second

// sseWriter frames Server-Sent Events onto w and flushes after every
// write, matching what the production log/event streaming endpoints do
// so a client using a stock EventSource can consume either.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, apierr.Internalf(nil, "streaming unsupported by response writer")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) send(event, id, data string) {
	if id != "" {
		fmt.Fprintf(s.w, "id: %s\n", id)
	}
	if event != "" {
		fmt.Fprintf(s.w, "event: %s\n", event)
	}
	fmt.Fprintf(s.w, "data: %s\n\n", data)
	s.flusher.Flush()
}

func (s *sseWriter) heartbeat() {
	fmt.Fprint(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// handleMachineLogs streams a machine's combined stdout/stderr. Without
// follow=true it returns the current tail once and closes; with it, it
// keeps the connection open and pushes new lines as the runtime produces
// them, heartbeating so idle proxies don't time the connection out.
func (s *Server) handleMachineLogs(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	machineID := ps.ByName("id")
	mach, err := s.manager.GetMachine(machineID)
	if err != nil {
		writeError(w, err)
		return
	}
	if mach.ContainerID == "" {
		writeError(w, apierr.Invalidf("machine %q has no running container", machineID))
		return
	}

	follow := r.URL.Query().Get("follow") == "true"

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.streamLogsOnce(r.Context(), sse, mach.ContainerID); err != nil {
		s.abortStream(r.Context(), sse, "logs", machineID, err)
		return
	}
	if !follow {
		return
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			sse.heartbeat()
		case <-ticker.C:
			if err := s.streamLogsOnce(r.Context(), sse, mach.ContainerID); err != nil {
				s.abortStream(r.Context(), sse, "logs", machineID, err)
				return
			}
		}
	}
}

// abortStream sends a terminal error event to the client (§7: streaming
// endpoints end with a terminal error event rather than an HTTP status,
// once headers are already flushed) and logs it against the request's
// correlation id.
func (s *Server) abortStream(ctx context.Context, sse *sseWriter, stream, machineID string, err error) {
	logger := log.WithComponent("api")
	logger.Error().
		Str("correlation_id", correlationIDFrom(ctx)).
		Str("stream", stream).
		Str("machine_id", machineID).
		Err(err).
		Msg("stream aborted")
	sse.send("error", "", err.Error())
}

// streamLogsOnce tails a fixed window and pushes each line as a data
// event. It re-sends the same tail on every poll: a naive but simple
// approach that matches what a log-following container runtime looks
// like from the outside when no line-cursor is available from Runtime.
func (s *Server) streamLogsOnce(ctx context.Context, sse *sseWriter, containerID string) error {
	rc, err := s.runtime.Logs(ctx, containerID, 100)
	if err != nil {
		return err
	}
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		sse.send("log", "", scanner.Text())
	}
	return scanner.Err()
}

// handleMachineEvents streams the durable per-machine event log as SSE. It
// first replays up to 500 stored events newer than ?since=<event-id> (0
// meaning "from the start"), each sent with its id, and then forwards live
// broker notifications for the machine, which are sent without an id. The
// broker subscription begins after the replay, so an event appended between
// the two is not sent, nor is a live event the broker drops for a slow
// subscriber; stored events past the first 500 are not sent on this
// connection.
func (s *Server) handleMachineEvents(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	machineID := ps.ByName("id")
	since := uint64(0)
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, apierr.Invalidf("invalid since cursor: %v", v))
			return
		}
		since = parsed
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, err)
		return
	}

	past, err := s.store.ListEvents(machineID, since, 500)
	if err != nil {
		s.abortStream(r.Context(), sse, "events", machineID, err)
		return
	}
	for _, evt := range past {
		sse.send("event", strconv.FormatUint(evt.ID, 10), encodeEvent(evt.Type, evt.Status, evt.Message))
	}

	if s.broker == nil {
		return
	}
	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			sse.heartbeat()
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if evt.MachineID != machineID {
				continue
			}
			sse.send("event", "", encodeEvent(string(evt.Type), "", evt.Message))
		}
	}
}

func encodeEvent(typ, status, message string) string {
	if status == "" {
		return fmt.Sprintf(`{"type":%q,"message":%q}`, typ, message)
	}
	return fmt.Sprintf(`{"type":%q,"status":%q,"message":%q}`, typ, status, message)
}
