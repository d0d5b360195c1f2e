// Package archive uploads a JSON snapshot of every call that reaches a terminal state.
package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"github.com/goccy/go-json"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

const uploadTimeout = 2 * time.Minute

type Uploader interface {
	Upload(ctx context.Context, data []byte, objectKey, contentType string) (string, error)
}

type Snapshot struct {
	Record     *call.Record `json:"record"`
	Transcript string       `json:"transcript,omitempty"`
	ArchivedAt time.Time    `json:"archived_at"`
}

// Archiver is a call.Observer. Uploads run on WorkerPool so observers never
// hold up the scheduling loop.
type Archiver struct {
	Uploader   Uploader
	WorkerPool *ants.Pool
	Now        func() time.Time

	waitGroup sync.WaitGroup
}

var _ call.Observer = (*Archiver)(nil)

func NewArchiver(uploader Uploader, poolSize int) (*Archiver, error) {
	workerPool, err := ants.NewPool(poolSize, ants.WithPanicHandler(func(recovered any) {
		logging.Logger.Error("[Archive] panic in archive worker", zap.Any("recover", recovered))
	}))
	if err != nil {
		return nil, err
	}

	return &Archiver{
		Uploader:   uploader,
		WorkerPool: workerPool,
		Now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// ObjectKey places the snapshot under the day the call finished.
func ObjectKey(record *call.Record) string {
	finished := record.UpdatedAt
	if record.CompletedAt != nil {
		finished = *record.CompletedAt
	}

	finished = finished.UTC()

	return fmt.Sprintf("%04d/%02d/%02d/%s.json", finished.Year(), finished.Month(), finished.Day(), record.ID)
}

func (archiver *Archiver) OnTransition(ctx context.Context, event call.Event) {
	if !event.To.IsTerminal() || event.Record == nil {
		return
	}

	record := event.Record.Clone()

	archiver.waitGroup.Add(1)

	err := archiver.WorkerPool.Submit(func() {
		defer archiver.waitGroup.Done()

		uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uploadTimeout)
		defer cancel()

		_, err := archiver.Archive(uploadCtx, record)
		if err != nil {
			logging.Logger.Error("[OnTransition] Failed to archive call",
				zap.String("call_id", record.ID),
				zap.String("error", err.Error()),
			)
		}
	})
	if err != nil {
		archiver.waitGroup.Done()
		logging.Logger.Error("[OnTransition] failed to submit job to ants pool",
			zap.String("call_id", record.ID),
			zap.String("error", err.Error()),
		)
	}
}

// Archive uploads the snapshot of record and returns where it was stored.
func (archiver *Archiver) Archive(ctx context.Context, record *call.Record) (string, error) {
	snapshot := Snapshot{Record: record, ArchivedAt: archiver.Now()}

	if transcript, ok := record.Metadata[call.MetadataTranscript].(string); ok {
		snapshot.Transcript = transcript
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", err
	}

	url, err := archiver.Uploader.Upload(ctx, data, ObjectKey(record), "application/json")
	if err != nil {
		return "", err
	}

	logging.Logger.Info("[Archive] Call archived", zap.String("call_id", record.ID), zap.String("url", url))

	return url, nil
}

// Close waits for pending uploads and stops the pool.
func (archiver *Archiver) Close() {
	archiver.waitGroup.Wait()
	archiver.WorkerPool.Release()
}
