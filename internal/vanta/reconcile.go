// ABOUTME: Marks previously open vanta associations resolved when this run no longer reports them.
// ABOUTME: Pages unresolved rows by id cursor and issues serial batched mutations.

package vanta

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/DaYuM/airbyte-connectors/internal/graph"
)

const (
	DefaultPageSize          = 1000
	DefaultMutationBatchSize = 10
	DefaultMutationPause     = time.Second

	resolvedAtLayout = "2006-01-02T15:04:05.000Z"
)

// associationKind selects which association model is reconciled
type associationKind struct {
	name  string
	query string
	key   string
}

var (
	vcsAssociations  = associationKind{name: "vcs", query: graph.VcsRepositoryVulnerabilityQuery, key: graph.KeyVcsRepositoryVulnerability}
	cicdAssociations = associationKind{name: "cicd", query: graph.CicdArtifactVulnerabilityQuery, key: graph.KeyCicdArtifactVulnerability}
)

type unresolvedAssociation struct {
	ID            string `json:"id"`
	ResolvedAt    any    `json:"resolvedAt"`
	Vulnerability struct {
		UID string `json:"uid"`
	} `json:"vulnerability"`
}

// reconciler holds the pacing knobs of one reconciliation pass
type reconciler struct {
	state     *runState
	pageSize  int
	batchSize int
	pause     time.Duration
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
}

func (r *reconciler) run(ctx context.Context) error {
	vcs, err := r.resolveMissing(ctx, vcsAssociations, r.state.activeGitUIDs())
	if err != nil {
		return err
	}
	r.state.resolvedVCS = vcs

	cicd, err := r.resolveMissing(ctx, cicdAssociations, r.state.activeAWSUIDs())
	if err != nil {
		return err
	}
	r.state.resolvedCICD = cicd
	return nil
}

// resolveMissing stamps resolvedAt on every unresolved association whose vulnerability is not active
func (r *reconciler) resolveMissing(ctx context.Context, kind associationKind, active map[string]struct{}) (int, error) {
	logger := r.state.logger.WithField("associations", kind.name)

	rows, err := r.unresolved(ctx, kind)
	if err != nil {
		return 0, err
	}

	var ids []string
	for _, row := range rows {
		if _, ok := active[row.Vulnerability.UID]; ok {
			continue
		}
		if row.ID == "" {
			return 0, fmt.Errorf("%w: %s vulnerability %q", ErrMissingAssociationID, kind.key, row.Vulnerability.UID)
		}
		ids = append(ids, row.ID)
	}

	logger.WithFields(logrus.Fields{
		"unresolved": len(rows),
		"to_resolve": len(ids),
		"active":     len(active),
	}).Info("Reconciling unresolved vulnerability associations")

	if len(ids) == 0 {
		return 0, nil
	}

	resolvedAt := r.now().UTC().Format(resolvedAtLayout)
	for start := 0; start < len(ids); start += r.batchSize {
		if start > 0 {
			if err := r.sleep(ctx, r.pause); err != nil {
				return start, err
			}
		}
		end := min(start+r.batchSize, len(ids))
		mutation := graph.ResolveMutation(kind.key, ids[start:end], start, resolvedAt)
		if err := r.state.mutate(ctx, mutation); err != nil {
			return start, fmt.Errorf("failed to resolve %s associations: %w", kind.name, err)
		}
		logger.WithField("batch_end", end).Debug("Resolved association batch")
	}
	return len(ids), nil
}

// unresolved pages through every open association of kind
func (r *reconciler) unresolved(ctx context.Context, kind associationKind) ([]unresolvedAssociation, error) {
	var all []unresolvedAssociation
	cursor := ""
	for {
		resp, err := r.state.query(ctx, kind.query, map[string]any{
			"id":    cursor,
			"limit": r.pageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query unresolved %s associations: %w", kind.name, err)
		}
		page, ok, err := graph.Rows[unresolvedAssociation](resp, kind.key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingResponseKey, kind.key)
		}
		all = append(all, page...)
		if len(page) < r.pageSize {
			return all, nil
		}
		cursor = page[len(page)-1].ID
	}
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
