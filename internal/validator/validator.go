// Package validator runs the signature validation pipeline: enumerate
// documents in a smart folder, send each through recognition, and write
// the score, outcome attribute and note back to the store.
package validator

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/sigval/internal/faults"
	"github.com/sells-group/sigval/internal/interpret"
	"github.com/sells-group/sigval/internal/model"
	"github.com/sells-group/sigval/internal/resilience"
	"github.com/sells-group/sigval/pkg/identifi"
	"github.com/sells-group/sigval/pkg/recognition"
)

// Config carries the process-level settings the orchestrator needs. The
// store endpoint and API key are not here; they arrive on each request.
type Config struct {
	RecognitionEndpoint string
	IntegrationKey      string
	Retry               resilience.RetryConfig
}

// StoreFactory builds a document store client for one request. The
// endpoint and key come from the request, so a fresh client is built per
// run; tests inject a factory returning a mock.
type StoreFactory func(endpoint, apiKey string) identifi.Client

// Validator orchestrates one validation run end to end.
type Validator struct {
	cfg        Config
	recognizer recognition.Client
	newStore   StoreFactory
}

// New builds a Validator. newStore may be nil, in which case real HTTP
// store clients are built with the configured retry policy.
func New(cfg Config, recognizer recognition.Client, newStore StoreFactory) *Validator {
	if newStore == nil {
		newStore = func(endpoint, apiKey string) identifi.Client {
			return identifi.NewClient(endpoint, apiKey, identifi.WithRetryConfig(cfg.Retry))
		}
	}
	return &Validator{cfg: cfg, recognizer: recognizer, newStore: newStore}
}

// Run executes the full pipeline for one request. It always returns a
// single-element slice and never an error: every failure mode becomes a
// response with a classified message. Documents are processed strictly
// sequentially; a per-document failure increments a counter and the run
// continues.
func (v *Validator) Run(ctx context.Context, req model.ValidationRequest) []model.ValidationResponse {
	req.Normalize()
	log := zap.L().With(zap.String("task_id", req.TaskID))

	if err := v.checkConfig(req); err != nil {
		log.Error("validation aborted before start", zap.Error(err))
		return respond(req.TaskID, model.StatusFailed, faults.Message(err), 0, 0, 0, 0)
	}

	store := v.newStore(req.APIEndpoint, req.APIKey)

	docs, err := store.ListDocuments(ctx, req.SmartFolderID)
	if err != nil {
		log.Error("document enumeration failed",
			zap.Int("smart_folder_id", req.SmartFolderID), zap.Error(err))
		return respond(req.TaskID, model.StatusFailed, faults.Message(err), 0, 0, 0, 0)
	}
	if len(docs) == 0 {
		log.Warn("smart folder is empty", zap.Int("smart_folder_id", req.SmartFolderID))
		return respond(req.TaskID, model.StatusFailed, "No documents found in smart folder", 0, 0, 0, 0)
	}

	sourceFiles := len(docs)
	var stored, errored, unknown int

	log.Info("validation run starting",
		zap.Int("smart_folder_id", req.SmartFolderID),
		zap.Int("source_files", sourceFiles))

	for _, doc := range docs {
		switch v.processDocument(ctx, log, store, req, doc) {
		case outcomeStored:
			stored++
		case outcomeErrored:
			errored++
		case outcomeUnknown:
			unknown++
		}
	}

	status, message := aggregate(sourceFiles, stored, errored, unknown)
	log.Info("validation run finished",
		zap.String("status", string(status)),
		zap.Int("source_files", sourceFiles),
		zap.Int("stored", stored),
		zap.Int("errored", errored),
		zap.Int("unknown", unknown))

	return respond(req.TaskID, status, message, sourceFiles, stored, errored, unknown)
}

type outcome int

const (
	outcomeStored outcome = iota
	outcomeErrored
	outcomeUnknown
)

// processDocument runs fetch, recognize, write-back and note for one
// document and reduces the result to a single counter.
func (v *Validator) processDocument(
	ctx context.Context,
	log *zap.Logger,
	store identifi.Client,
	req model.ValidationRequest,
	doc identifi.DocumentRef,
) outcome {
	if doc.DocumentID == 0 || doc.ApplicationID == 0 {
		log.Warn("document entry missing identifiers",
			zap.Int("document_id", doc.DocumentID),
			zap.Int("application_id", doc.ApplicationID))
		return outcomeUnknown
	}

	dlog := log.With(
		zap.Int("document_id", doc.DocumentID),
		zap.Int("application_id", doc.ApplicationID))

	content, filename, err := store.FetchContent(ctx, doc.ApplicationID, doc.DocumentID)
	if err != nil {
		dlog.Error("document fetch failed", zap.Error(err))
		return outcomeErrored
	}

	result, err := v.recognizer.Recognize(ctx, filename, content)
	if err != nil {
		dlog.Error("recognition failed", zap.Error(err))
		return outcomeErrored
	}

	score := int(math.Round(*result.DocumentReport.MinConfidenceScore * 100))

	if err := store.UpdateAttribute(ctx, doc.ApplicationID, doc.DocumentID, req.DocumentAttributeID, strconv.Itoa(score)); err != nil {
		dlog.Error("confidence attribute update failed",
			zap.Int("attribute_id", req.DocumentAttributeID), zap.Error(err))
		return outcomeErrored
	}

	if req.ResultAttributeID != 0 {
		pass := "N"
		if float64(score)/100 >= req.ConfidenceLevel {
			pass = "Y"
		}
		if err := store.UpdateAttribute(ctx, doc.ApplicationID, doc.DocumentID, req.ResultAttributeID, pass); err != nil {
			dlog.Error("result attribute update failed",
				zap.Int("attribute_id", req.ResultAttributeID), zap.Error(err))
			return outcomeErrored
		}
	}

	note, err := interpret.Interpret(result, req.TaskID)
	if err != nil {
		dlog.Error("recognition result interpretation failed", zap.Error(err))
		return outcomeErrored
	}

	if err := store.AddNote(ctx, doc.ApplicationID, doc.DocumentID, note, 1); err != nil {
		dlog.Error("note write failed", zap.Error(err))
		return outcomeErrored
	}

	dlog.Info("document processed",
		zap.Int("confidence_score", score),
		zap.String("document_status", result.DocumentReport.Status))
	return outcomeStored
}

// checkConfig validates everything the run needs before any network
// call is made.
func (v *Validator) checkConfig(req model.ValidationRequest) error {
	if req.APIKey == "" {
		return &faults.ConfigError{Reason: "request is missing the store API key"}
	}
	if req.APIEndpoint == "" {
		return &faults.ConfigError{Reason: "request is missing the store API endpoint"}
	}
	if v.cfg.RecognitionEndpoint == "" {
		return &faults.ConfigError{Reason: "recognition endpoint is not configured"}
	}
	if v.cfg.IntegrationKey == "" {
		return &faults.ConfigError{Reason: "integration API key is not configured"}
	}
	return nil
}

func aggregate(sourceFiles, stored, errored, unknown int) (model.RunStatus, string) {
	switch {
	case stored == sourceFiles && sourceFiles > 0 && errored == 0:
		return model.StatusCompleted,
			fmt.Sprintf("Successfully processed %d documents", stored)
	case sourceFiles > 0:
		return model.StatusError,
			fmt.Sprintf("Processed %d of %d documents: %d stored, %d errored, %d unknown",
				stored+errored+unknown, sourceFiles, stored, errored, unknown)
	default:
		return model.StatusFailed, "No documents were processed"
	}
}

func respond(taskID string, status model.RunStatus, message string, sourceFiles, stored, errored, unknown int) []model.ValidationResponse {
	return []model.ValidationResponse{{
		TaskID:      taskID,
		Source:      model.Source,
		Status:      status,
		Message:     message,
		SourceFiles: sourceFiles,
		Stored:      stored,
		Errored:     errored,
		Unknown:     unknown,
	}}
}
