package hooks

import (
	"context"
	"fmt"

	"github.com/tjfontaine/taskgate/internal/core/domain"
	"github.com/tjfontaine/taskgate/internal/pkg/safehttp"
)

// ValidateRegistration applies the creation-time checks for a hook: the URL
// must be public http(s), the hook type must be known and an explicit
// timeout must lie within the supported range. An empty hook type is
// normalized to post.
func ValidateRegistration(ctx context.Context, guard *safehttp.Guard, hook *domain.Hook) error {
	if hook.OrgID == "" {
		return domain.InvalidRequest("hook org_id is required")
	}
	if hook.URL == "" {
		return domain.InvalidRequest("hook url is required")
	}

	switch hook.HookType {
	case "":
		hook.HookType = domain.HookTypePost
	case domain.HookTypePre, domain.HookTypePost:
	default:
		return domain.InvalidRequest(fmt.Sprintf("invalid hook_type %q (must be 'pre' or 'post')", hook.HookType))
	}

	if hook.TimeoutMs != 0 && (hook.TimeoutMs < domain.MinHookTimeoutMs || hook.TimeoutMs > domain.MaxHookTimeoutMs) {
		return domain.InvalidRequest(fmt.Sprintf("timeout_ms %d out of range [%d, %d]",
			hook.TimeoutMs, domain.MinHookTimeoutMs, domain.MaxHookTimeoutMs))
	}

	if guard == nil {
		guard = safehttp.NewGuard()
	}
	if err := guard.ValidateURL(ctx, hook.URL); err != nil {
		return domain.InvalidRequest(fmt.Sprintf("hook url rejected: %v", err))
	}

	return nil
}
