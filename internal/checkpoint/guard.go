// -----------------------------------------------------------------------
// Checkpoint guard - snapshot/rollback bracket around destructive graph
// operations
// -----------------------------------------------------------------------

package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/artifacts"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
)

// Guard brackets a destructive operation with a full-graph snapshot. The
// snapshot is a checkpoint artifact; on failure, panic or a post-operation
// integrity violation the graph is rolled back from it and the error
// carries the rollback reason.
type Guard struct {
	graph     interfaces.GraphStore
	artifacts *artifacts.Store
	logger    arbor.ILogger
}

// NewGuard creates a checkpoint guard.
func NewGuard(graph interfaces.GraphStore, artifactStore *artifacts.Store, logger arbor.ILogger) *Guard {
	return &Guard{graph: graph, artifacts: artifactStore, logger: logger}
}

// Run executes op inside a checkpoint bracket. On success the checkpoint is
// deleted; on failure the graph is restored and the checkpoint is deleted
// unless preserveOnFailure is set, in which case its artifact id survives
// for manual inspection.
func (g *Guard) Run(ctx context.Context, name string, preserveOnFailure bool, op func(ctx context.Context) error) error {
	snapshot, err := g.snapshot(ctx, name)
	if err != nil {
		return common.Wrap(common.KindUnexpected, "failed to take checkpoint before "+name, err)
	}

	opErr := g.execute(ctx, op)
	if opErr == nil {
		opErr = g.verify(ctx)
	}

	if opErr == nil {
		if err := g.artifacts.Delete(ctx, snapshot.ID); err != nil {
			g.logger.Warn().Err(err).Str("checkpoint_id", snapshot.ID).Msg("Failed to delete checkpoint after success")
		}
		return nil
	}

	rollbackErr := g.rollback(ctx, snapshot.ID)
	if !preserveOnFailure {
		if err := g.artifacts.Delete(ctx, snapshot.ID); err != nil {
			g.logger.Warn().Err(err).Str("checkpoint_id", snapshot.ID).Msg("Failed to delete checkpoint after rollback")
		}
	} else {
		g.logger.Info().Str("checkpoint_id", snapshot.ID).Msg("Checkpoint preserved for inspection")
	}

	if rollbackErr != nil {
		return common.Wrap(common.KindIntegrity,
			fmt.Sprintf("%s failed and rollback also failed (checkpoint %s): %v", name, snapshot.ID, opErr),
			rollbackErr)
	}
	return common.Wrap(common.KindIntegrity,
		fmt.Sprintf("%s failed; graph rolled back to checkpoint", name), opErr)
}

// execute runs op, converting panics into errors so the bracket always
// gets a chance to roll back.
func (g *Guard) execute(ctx context.Context, op func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op(ctx)
}

// snapshot exports the full graph into a system-owned checkpoint artifact.
func (g *Guard) snapshot(ctx context.Context, name string) (*models.Artifact, error) {
	data, err := g.graph.Export(ctx, "")
	if err != nil {
		return nil, err
	}
	backup := &models.Backup{
		Version:       models.BackupVersion,
		SchemaVersion: models.CurrentSchemaVersion,
		Type:          models.BackupFull,
		Timestamp:     time.Now().UTC(),
		Data:          *data,
	}
	backup.ComputeStatistics()

	payload, err := json.Marshal(backup)
	if err != nil {
		return nil, err
	}

	return g.artifacts.Persist(ctx, &artifacts.PersistSpec{
		Type:           models.ArtifactTypeCheckpoint,
		Representation: "json",
		Name:           "Checkpoint before " + name,
		OwnerID:        0,
		Payload:        payload,
	})
}

// verify is the post-operation integrity check: the graph census must be
// readable after the operation ran.
func (g *Guard) verify(ctx context.Context) error {
	if _, err := g.graph.Counts(ctx); err != nil {
		return fmt.Errorf("graph census unreadable after operation: %w", err)
	}
	return nil
}

// rollback restores the graph from the checkpoint artifact.
func (g *Guard) rollback(ctx context.Context, checkpointID string) error {
	payload, err := g.artifacts.GetPayload(ctx, checkpointID)
	if err != nil {
		return err
	}
	var backup models.Backup
	if err := json.Unmarshal(payload, &backup); err != nil {
		return fmt.Errorf("checkpoint payload corrupt: %w", err)
	}
	if err := g.graph.Clear(ctx); err != nil {
		return err
	}
	if err := g.graph.Import(ctx, &backup.Data); err != nil {
		return err
	}
	g.logger.Warn().Str("checkpoint_id", checkpointID).Msg("Graph rolled back from checkpoint")
	return nil
}
