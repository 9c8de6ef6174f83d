package resign

import (
	"fmt"
	"strings"

	"github.com/resignkit/resigner/internal/plistutil"
)

// retargetEntitlements rewrites the entitlements that encode a bundle
// identifier so a retargeted app doesn't ship an application-identifier
// entitlement that disagrees with its own CFBundleIdentifier: Apple checks
// the two match at launch, wildcard-profile signing aside.
func retargetEntitlements(entitlements plistutil.Dict, teamID, newBundleID string) plistutil.Dict {
	updated := make(plistutil.Dict, len(entitlements))
	for k, v := range entitlements {
		updated[k] = v
	}

	appID := newBundleID
	if !strings.HasPrefix(newBundleID, teamID+".") {
		appID = fmt.Sprintf("%s.%s", teamID, newBundleID)
	}
	updated["application-identifier"] = appID

	if groups, ok := updated["keychain-access-groups"].([]interface{}); ok {
		newGroups := make([]interface{}, 0, len(groups))
		for _, group := range groups {
			groupStr, ok := group.(string)
			if !ok || !strings.Contains(groupStr, ".") {
				newGroups = append(newGroups, group)
				continue
			}
			bundleIDPart := strings.TrimPrefix(newBundleID, teamID+".")
			newGroups = append(newGroups, fmt.Sprintf("%s.%s", teamID, bundleIDPart))
		}
		updated["keychain-access-groups"] = newGroups
	}

	return updated
}
