package bot

import (
	"context"
	"fmt"
)

// SeedCooldown registers every author the bot replied to within the cooldown
// window, so a restart does not reply to them again too early.
func SeedCooldown(ctx context.Context, env *Env) (int, error) {
	cctx, cancel := env.call(ctx)
	past, err := env.Platform.RecentReplies(cctx)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("fetch recent replies: %w", err)
	}

	now := env.now()
	seeded := 0
	for _, r := range past {
		if isDeleted(r.ParentAuthor) {
			continue
		}
		if now.Sub(r.CreatedAt) >= env.Registry.Cooldown() {
			continue
		}
		env.Registry.MarkReplied(r.ParentAuthor, r.CreatedAt)
		seeded++
	}
	return seeded, nil
}
