// Package status implements the status writer: a single
// goroutine owns the on-disk status document for a sequence number and
// serializes every update to it. Writes are atomic (write to a temp file,
// then rename) and coalesced to at most one per 500ms except on terminal
// transitions, which always flush immediately and block the caller. A single
// owner goroutine drains a buffered channel because the document itself must
// never be touched from two goroutines at once.
package status

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/guestpatch/patchcore/internal/lalog"
	"github.com/guestpatch/patchcore/internal/model"
)

// handlerVersion is echoed in every status document per the host contract.
const handlerVersion = "1.0"

// coalesceWindow caps the steady-state write rate.
const coalesceWindow = 500 * time.Millisecond

// queueCapacity bounds the update channel.
const queueCapacity = 64

// document is the on-disk schema: a top-level array with exactly one object.
type document struct {
	Version      string     `json:"version"`
	TimestampUTC string     `json:"timestampUTC"`
	Status       statusBody `json:"status"`
}

type statusBody struct {
	Name             string           `json:"name"`
	Operation        string           `json:"operation"`
	Status           string           `json:"status"`
	Code             int              `json:"code"`
	FormattedMessage formattedMessage `json:"formattedMessage"`
}

type formattedMessage struct {
	Lang    string `json:"lang"`
	Message string `json:"message"` // nested JSON-encoded payload, see payload below.
}

// payload is the nested JSON string carried inside formattedMessage.message,
// conforming to the host's patches/errors/code/status contract.
type payload struct {
	Patches      []model.Patch `json:"patches"`
	Errors       []string      `json:"errors,omitempty"`
	Code         int           `json:"code"`
	Status       string        `json:"status"`
	RebootStatus string        `json:"rebootStatus"`
	Substatus    []string      `json:"substatus,omitempty"`

	// UnrecognizedFields echoes back request fields this version of the core
	// did not understand, for diagnosability.
	UnrecognizedFields map[string]interface{} `json:"unrecognizedFields,omitempty"`
}

// update is one enqueued change to the document.
type update struct {
	run      model.Run
	terminal bool
	done     chan struct{} // closed once the write completes, only set for terminal updates
}

// Writer owns the single status document for one sequence number.
type Writer struct {
	path    string
	queue   chan update
	logger  *lalog.Logger
	stop    chan struct{}
	stopped chan struct{}
}

// Path returns the on-disk path of the status document for a sequence
// number, the same naming NewWriter uses internally.
func Path(statusDir string, sequenceNumber int) string {
	return filepath.Join(statusDir, strconv.Itoa(sequenceNumber)+".status")
}

// NewWriter constructs a Writer for the given sequence number's status file
// under statusDir, and starts its background goroutine.
func NewWriter(statusDir string, sequenceNumber int) *Writer {
	w := &Writer{
		path:    Path(statusDir, sequenceNumber),
		queue:   make(chan update, queueCapacity),
		logger:  &lalog.Logger{ComponentName: "status.Writer", ComponentID: []lalog.IDField{{Key: "seq", Value: sequenceNumber}}},
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue submits a non-terminal progress update. If the queue is full the
// update is dropped: senders drop intermediate progress events but never
// terminal ones.
func (w *Writer) Enqueue(run model.Run) {
	select {
	case w.queue <- update{run: run.Clone()}:
	default:
		w.logger.Warning("Enqueue", nil, nil, "status write queue is full, dropping a progress update")
	}
}

// Flush submits a terminal update and blocks until it has been written to
// disk; a final write is always issued on terminal transitions.
func (w *Writer) Flush(run model.Run) {
	done := make(chan struct{})
	w.queue <- update{run: run.Clone(), terminal: true, done: done}
	<-done
}

// Close stops the writer goroutine. Pending non-terminal updates are
// dropped; call Flush first if a final write is required.
func (w *Writer) Close() {
	close(w.stop)
	<-w.stopped
}

func (w *Writer) run() {
	defer close(w.stopped)
	var lastWrite time.Time
	var pending *update
	ticker := time.NewTicker(coalesceWindow)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case u := <-w.queue:
			if u.terminal {
				w.write(u.run)
				close(u.done)
				pending = nil
				lastWrite = time.Now()
				continue
			}
			if time.Since(lastWrite) >= coalesceWindow {
				w.write(u.run)
				lastWrite = time.Now()
				pending = nil
			} else {
				cp := u
				pending = &cp
			}
		case <-ticker.C:
			if pending != nil {
				w.write(pending.run)
				lastWrite = time.Now()
				pending = nil
			}
		}
	}
}

// write performs the atomic tmp-then-rename write. On failure it retries
// with a short backoff; if the last retry also fails it logs a warning and
// drops this update. The Run is not aborted, and no substatus is added to it.
func (w *Writer) write(run model.Run) {
	doc := toDocument(run)
	raw, err := json.MarshalIndent([]document{doc}, "", "  ")
	if err != nil {
		w.logger.Warning("write", nil, err, "failed to encode status document")
		return
	}
	backoffs := []time.Duration{0, 200 * time.Millisecond, 1 * time.Second}
	var lastErr error
	for _, delay := range backoffs {
		if delay > 0 {
			time.Sleep(delay)
		}
		if lastErr = w.writeOnce(raw); lastErr == nil {
			return
		}
	}
	w.logger.Warning("write", nil, lastErr, "giving up on status write after retries")
}

func (w *Writer) writeOnce(raw []byte) error {
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, w.path)
}

func toDocument(run model.Run) document {
	errs := make([]string, 0)
	for _, p := range run.Patches {
		if p.ErrorMessage != "" {
			errs = append(errs, p.Name+": "+p.ErrorMessage)
		}
	}
	body := payload{
		Patches:            run.Patches,
		Errors:             errs,
		Code:               codeFor(run.Status),
		Status:             string(run.Status),
		RebootStatus:       string(run.RebootStatus),
		Substatus:          run.Substatus,
		UnrecognizedFields: run.UnrecognizedFields,
	}
	encoded, _ := json.Marshal(body)
	return document{
		Version:      handlerVersion,
		TimestampUTC: time.Now().UTC().Format(time.RFC3339),
		Status: statusBody{
			Name:      "PatchCore",
			Operation: string(run.Operation),
			Status:    string(run.Status),
			Code:      codeFor(run.Status),
			FormattedMessage: formattedMessage{
				Lang:    "en",
				Message: string(encoded),
			},
		},
	}
}

// codeFor maps a RunStatus to the host-facing numeric code convention.
func codeFor(s model.RunStatus) int {
	switch s {
	case model.RunStatusSucceeded:
		return 0
	case model.RunStatusInProgress:
		return 0
	case model.RunStatusCompletedWithErrors:
		return 2
	case model.RunStatusFailed, model.RunStatusAborted:
		return 1
	default:
		return 0
	}
}
