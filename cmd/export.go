package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pescn/psy-data-gen/commbus"
	"github.com/pescn/psy-data-gen/coreengine/agents"
	"github.com/pescn/psy-data-gen/coreengine/runtime"
)

// exporter writes one JSON document per finished session and forwards the
// snapshot to the persistence handler, if any.
type exporter struct {
	dir    string
	bus    commbus.CommBus
	logger agents.Logger
}

func newExporter(dir string, bus commbus.CommBus, logger agents.Logger) (*exporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &exporter{dir: dir, bus: bus, logger: logger}, nil
}

func (e *exporter) onSessionEnded(ctx context.Context, msg commbus.Message) (any, error) {
	ev, ok := msg.(*commbus.SessionEnded)
	if !ok || ev.Snapshot == nil {
		return nil, nil
	}

	doc, err := ev.Snapshot.Export()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(e.dir, ev.SessionID+".json")
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	e.logger.Debug("session_exported", "session_id", ev.SessionID, "path", path)

	return nil, e.bus.Send(ctx, &commbus.PersistSnapshot{Snapshot: ev.Snapshot})
}

func (e *exporter) writeSummary(summary runtime.BatchSummary, results []runtime.BatchResult) (string, error) {
	type failure struct {
		Index     int    `json:"index"`
		SessionID string `json:"session_id,omitempty"`
		Error     string `json:"error"`
	}
	doc := struct {
		runtime.BatchSummary
		Failures []failure `json:"failures"`
	}{BatchSummary: summary, Failures: []failure{}}

	for _, r := range results {
		if !r.Failed() {
			continue
		}
		f := failure{Index: r.Index}
		if r.Snapshot != nil {
			f.SessionID = r.Snapshot.ID
			f.Error = r.Snapshot.Error
		}
		if r.Err != nil {
			f.Error = r.Err.Error()
		}
		doc.Failures = append(doc.Failures, f)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(e.dir, "summary.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
