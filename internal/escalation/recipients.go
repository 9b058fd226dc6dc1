package escalation

import (
	"context"
	"fmt"

	"followup-escalator/internal/models"
)

// OrgStore answers the two hierarchy questions escalation needs.
type OrgStore interface {
	// ManagerOf returns nil when the user has no manager.
	ManagerOf(ctx context.Context, userID string) (*string, error)
	AdminIDs(ctx context.Context) ([]string, error)
}

// ResolveRecipients returns the de-duplicated user ids to notify for tier.
//
// Employee tier notifies only the assignee. Manager tier notifies the manager
// and the assignee, or every admin when the assignee has no manager. Admin tier
// notifies every admin and nobody else.
func ResolveRecipients(ctx context.Context, org OrgStore, tier models.Tier, assigneeID string) ([]string, error) {
	switch tier {
	case models.TierEmployee:
		return []string{assigneeID}, nil
	case models.TierManager:
		managerID, err := org.ManagerOf(ctx, assigneeID)
		if err != nil {
			return nil, fmt.Errorf("resolve manager of %s: %w", assigneeID, err)
		}
		if managerID == nil {
			return admins(ctx, org)
		}
		return dedupe([]string{*managerID, assigneeID}), nil
	case models.TierAdmin:
		return admins(ctx, org)
	default:
		return nil, fmt.Errorf("unknown tier %q", tier)
	}
}

func admins(ctx context.Context, org OrgStore) ([]string, error) {
	ids, err := org.AdminIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return dedupe(ids), nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
